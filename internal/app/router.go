package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aula-web/aula/internal/access"
	"github.com/aula-web/aula/internal/auth"
	"github.com/aula-web/aula/internal/cart"
	"github.com/aula-web/aula/internal/catalog"
	"github.com/aula-web/aula/internal/observability"
	"github.com/aula-web/aula/internal/platform/httpx"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/users"
	"github.com/aula-web/aula/internal/view"
	"github.com/aula-web/aula/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *session.Manager
	CSRFManager    *shared.CSRFManager
	Policy         *access.Policy
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	CatalogHandler *catalog.Handler
	CartHandler    *cart.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with the application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	forbidden := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := view.Page(r, params.CSRFManager, "Acceso denegado", nil)
		if err := params.Templates.RenderStatus(w, http.StatusForbidden, "pages/forbidden.html", data); err != nil {
			params.Logger.Error("render forbidden", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}
	})

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Access: access.Middleware{
			Policy:    params.Policy,
			LoginPath: "/login",
			Forbidden: forbidden,
			Logger:    params.Logger,
			Metrics:   params.Metrics,
		},
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		data := map[string]any{}
		if sess != nil && sess.Authenticated() {
			if ids, err := params.SessionManager.ActiveSessions(r.Context(), sess.Username()); err == nil {
				data["ActiveSessions"] = len(ids)
			}
		}
		if err := params.Templates.Render(w, "pages/home.html", view.Page(r, params.CSRFManager, "Inicio", data)); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess == nil || !sess.Authenticated() {
			httpx.RespondError(w, shared.ErrAuthenticationRequired)
			return
		}
		ids, err := params.SessionManager.ActiveSessions(r.Context(), sess.Username())
		if err != nil {
			params.Logger.Error("list sessions", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"username":       sess.Username(),
			"authorities":    sess.Identity().Authorities(),
			"activeSessions": len(ids),
			"createdAt":      sess.CreatedAt(),
		})
	})

	params.AuthHandler.MountRoutes(r)
	if params.CatalogHandler != nil {
		r.Route("/products", params.CatalogHandler.MountProducts)
		r.Route("/alumnos", params.CatalogHandler.MountStudents)
	}
	if params.CartHandler != nil {
		r.Route("/cart", params.CartHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/admin/users", params.UsersHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := staticCacheHandler(http.FileServer(http.FS(staticFS)))
		r.Handle("/css/*", fileServer)
		r.Handle("/js/*", fileServer)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		data := view.Page(r, params.CSRFManager, "No encontrado", map[string]any{
			"Message": shared.UserSafeMessage(shared.ErrNotFound),
		})
		if err := params.Templates.RenderStatus(w, http.StatusNotFound, "pages/error.html", data); err != nil {
			http.NotFound(w, r)
		}
	})

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
