package cart

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aula-web/aula/internal/catalog"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/view"
)

// ProductSource resolves cart lines to products.
type ProductSource interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
}

// Line is one rendered cart row.
type Line struct {
	Product    catalog.Product
	Quantity   int
	TotalCents int64
}

// Handler serves the cart pages.
type Handler struct {
	logger    *slog.Logger
	products  ProductSource
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
}

// NewHandler builds a cart Handler.
func NewHandler(logger *slog.Logger, products ProductSource, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, products: products, templates: templates, csrf: csrf, validator: validator.New()}
}

// MountRoutes registers /cart routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Post("/add", h.add)
	r.Post("/remove", h.remove)
	r.Post("/clear", h.clear)
}

type addForm struct {
	ProductID int64 `validate:"required,gt=0"`
	Quantity  int   `validate:"required,min=1,max=99"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	c := Load(sess)
	var (
		lines []Line
		total int64
	)
	for _, id := range c.ProductIDs() {
		p, err := h.products.GetProduct(r.Context(), id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				c.Remove(id)
				continue
			}
			h.logger.Error("cart product lookup", slog.Int64("product", id), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		line := Line{Product: *p, Quantity: c.Quantity(id), TotalCents: p.PriceCents * int64(c.Quantity(id))}
		total += line.TotalCents
		lines = append(lines, line)
	}
	if err := c.Save(sess); err != nil {
		h.logger.Warn("save cart", slog.Any("error", err))
	}
	data := map[string]any{"Lines": lines, "TotalCents": total, "Count": c.Count()}
	if err := h.templates.Render(w, "pages/cart.html", view.Page(r, h.csrf, "Carrito", data)); err != nil {
		h.logger.Error("render cart", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	form := addForm{
		ProductID: parseID(r.PostFormValue("product_id")),
		Quantity:  parseQuantity(r.PostFormValue("quantity")),
	}
	if err := h.validator.Struct(form); err != nil {
		h.redirectWithFlash(w, r, sess, "/products", "error", "Cantidad o producto no válido")
		return
	}
	p, err := h.products.GetProduct(r.Context(), form.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.redirectWithFlash(w, r, sess, "/products", "error", shared.UserSafeMessage(shared.ErrNotFound))
			return
		}
		h.logger.Error("cart add lookup", slog.Any("error", err))
		h.redirectWithFlash(w, r, sess, "/products", "error", shared.UserSafeMessage(err))
		return
	}
	c := Load(sess)
	if err := c.Add(p.ID, form.Quantity); err != nil {
		h.redirectWithFlash(w, r, sess, "/products", "error", "Cantidad no válida")
		return
	}
	h.persist(sess, c)
	h.redirectWithFlash(w, r, sess, "/cart", "success", p.Name+" añadido al carrito")
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	c := Load(sess)
	c.Remove(parseID(r.PostFormValue("product_id")))
	h.persist(sess, c)
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	c := Load(sess)
	c.Clear()
	h.persist(sess, c)
	h.redirectWithFlash(w, r, sess, "/cart", "info", "Carrito vaciado")
}

func (h *Handler) formSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func (h *Handler) persist(sess *session.Session, c *Cart) {
	if err := c.Save(sess); err != nil {
		h.logger.Error("save cart", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, sess *session.Session, location, kind, message string) {
	sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func parseQuantity(raw string) int {
	if raw == "" {
		return 1
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return qty
}
