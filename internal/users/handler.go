package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aula-web/aula/internal/auth/password"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/view"
)

// SessionCounter reports live sessions per username.
type SessionCounter interface {
	ActiveSessions(ctx context.Context, username string) ([]string, error)
}

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	sessions  SessionCounter
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, sessions SessionCounter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, sessions: sessions}
}

// MountRoutes registers user routes. Authorization is applied by the
// access policy in front of the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
}

type formErrors map[string]string

type userRow struct {
	User
	Sessions int
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, formErrors{}, map[string]string{}, http.StatusOK)
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, errs formErrors, form map[string]string, status int) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.render(w, r, map[string]any{
			"Roles":  AssignableRoles,
			"Errors": formErrors{"general": shared.UserSafeMessage(err)},
			"Form":   form,
		}, http.StatusInternalServerError)
		return
	}
	rows := make([]userRow, 0, len(list))
	for _, u := range list {
		row := userRow{User: u}
		if h.sessions != nil {
			if ids, err := h.sessions.ActiveSessions(r.Context(), u.Username); err == nil {
				row.Sessions = len(ids)
			} else {
				h.logger.Warn("count sessions", slog.String("user", u.Username), slog.Any("error", err))
			}
		}
		rows = append(rows, row)
	}
	h.render(w, r, map[string]any{
		"Users":  rows,
		"Roles":  AssignableRoles,
		"Errors": errs,
		"Form":   form,
	}, status)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	role := r.PostFormValue("role")
	created, err := h.service.CreateUser(r.Context(), username, r.PostFormValue("password"), role)
	if err != nil {
		errs := formErrors{}
		switch {
		case errors.Is(err, ErrDuplicateUser):
			errs["username"] = "El nombre de usuario ya existe"
		case errors.Is(err, ErrInvalidUser):
			errs["username"] = "El nombre de usuario es obligatorio"
		case errors.Is(err, ErrUsernameTooLong):
			errs["username"] = fmt.Sprintf("Máximo %d caracteres", MaxUsernameLength)
		case errors.Is(err, ErrPasswordRequired):
			errs["password"] = "La contraseña es obligatoria"
		case errors.Is(err, ErrUnknownRole):
			errs["role"] = "Rol no válido"
		case errors.Is(err, password.ErrPasswordTooLong):
			errs["password"] = "La contraseña es demasiado larga"
		default:
			h.logger.Error("create user failed", slog.Any("error", err))
			errs["general"] = shared.UserSafeMessage(err)
			h.renderList(w, r, errs, map[string]string{"username": username, "role": role}, http.StatusInternalServerError)
			return
		}
		h.renderList(w, r, errs, map[string]string{"username": username, "role": role}, http.StatusBadRequest)
		return
	}
	h.logger.Info("user created by admin", slog.String("user", created.Username), slog.String("role", created.Role))
	h.redirectWithFlash(w, r, "/admin/users", "success", "Usuario "+created.Username+" creado")
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data map[string]any, status int) {
	if err := h.templates.RenderStatus(w, status, "pages/admin_users.html", view.Page(r, h.csrf, "Usuarios", data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := session.FromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
