package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/view"
)

const perPage = 10

// Handler renders products and students.
type Handler struct {
	logger    *slog.Logger
	repo      Repository
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds a catalog Handler.
func NewHandler(logger *slog.Logger, repo Repository, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, templates: templates, csrf: csrf}
}

// MountProducts registers /products routes.
func (h *Handler) MountProducts(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Get("/{id}", h.showProduct)
}

// MountStudents registers /alumnos routes.
func (h *Handler) MountStudents(r chi.Router) {
	r.Get("/", h.listStudents)
	r.Get("/{id}", h.showStudent)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	p := pageParam(r)
	products, total, err := h.repo.ListProducts(r.Context(), perPage, (p-1)*perPage)
	if err != nil {
		h.fail(w, r, "list products", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/products.html", "Productos", map[string]any{
		"Products":   products,
		"Pagination": shared.NewPagination(p, perPage, total),
	})
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		h.notFound(w, r)
		return
	}
	product, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(w, r)
			return
		}
		h.fail(w, r, "get product", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/product.html", product.Name, map[string]any{"Product": product})
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	p := pageParam(r)
	students, total, err := h.repo.ListStudents(r.Context(), perPage, (p-1)*perPage)
	if err != nil {
		h.fail(w, r, "list students", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/alumnos.html", "Alumnos", map[string]any{
		"Students":   students,
		"Pagination": shared.NewPagination(p, perPage, total),
	})
}

func (h *Handler) showStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		h.notFound(w, r)
		return
	}
	student, err := h.repo.GetStudent(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(w, r)
			return
		}
		h.fail(w, r, "get student", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/alumno.html", student.Name, map[string]any{"Student": student})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "pages/error.html", "No encontrado", map[string]any{
		"Message": shared.UserSafeMessage(shared.ErrNotFound),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	h.render(w, r, http.StatusInternalServerError, "pages/error.html", "Error", map[string]any{
		"Message": shared.UserSafeMessage(err),
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data map[string]any) {
	if err := h.templates.RenderStatus(w, status, name, view.Page(r, h.csrf, title, data)); err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pageParam(r *http.Request) int {
	p, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || p < 1 {
		return 1
	}
	return p
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
