package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/aula-web/aula/internal/access"
	"github.com/aula-web/aula/internal/auth/password"
	"github.com/aula-web/aula/internal/observability"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/users"
	"github.com/aula-web/aula/internal/view"
)

// Login outcome labels reported to metrics.
const (
	resultSuccess  = "success"
	resultInvalid  = "invalid"
	resultUnknown  = "unknown_user"
	resultBlocked  = "blocked"
	resultLimited  = "rate_limited"
	resultError    = "error"
	resultMismatch = "mismatch"
	resultDup      = "duplicate"
)

// HandlerConfig tunes redirects and throttling.
type HandlerConfig struct {
	DefaultTarget    string
	AlwaysUseDefault bool
	// LoginRateLimit caps POST /login per client IP per minute. Zero
	// disables the limiter.
	LoginRateLimit int
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *session.Manager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
	metrics        *observability.Metrics
	cfg            HandlerConfig
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *session.Manager, csrf *shared.CSRFManager, metrics *observability.Metrics, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTarget == "" {
		cfg.DefaultTarget = "/"
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
		metrics:        metrics,
		cfg:            cfg,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(h.loginLimiter()).Post("/login", h.handleLogin)
	r.Get("/logout", h.handleLogout)
	r.Post("/logout", h.handleLogout)
	r.Get("/registro", h.showRegister)
	r.Post("/registro", h.handleRegister)
}

func (h *Handler) loginLimiter() func(http.Handler) http.Handler {
	if h.cfg.LoginRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(h.cfg.LoginRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.metrics.LoginAttempt(resultLimited)
			h.logger.Warn("login rate limited", slog.String("remote", r.RemoteAddr))
			http.Redirect(w, r, "/login?error", http.StatusSeeOther)
		}),
	)
}

type loginForm struct {
	Username string `validate:"required,max=50"`
	Password string `validate:"required,max=72"`
}

type loginPageData struct {
	Error      bool
	LoggedOut  bool
	Registered bool
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := loginPageData{
		Error:      q.Has("error"),
		LoggedOut:  q.Has("logout"),
		Registered: q.Has("registroExitoso"),
	}
	if err := h.templates.Render(w, "pages/login.html", view.Page(r, h.csrfManager, "Iniciar sesión", data)); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	fail := func() { http.Redirect(w, r, "/login?error", http.StatusSeeOther) }

	if err := r.ParseForm(); err != nil {
		fail()
		return
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		h.metrics.LoginAttempt(resultError)
		fail()
		return
	}

	form := loginForm{
		Username: users.NormalizeUsername(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil {
		h.metrics.LoginAttempt(resultInvalid)
		fail()
		return
	}

	id, err := h.service.Authenticate(r.Context(), form.Username, form.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			h.metrics.LoginAttempt(resultUnknown)
		case errors.Is(err, ErrInvalidCredentials):
			h.metrics.LoginAttempt(resultInvalid)
		default:
			h.metrics.LoginAttempt(resultError)
			h.logger.Error("authenticate", slog.Any("error", err))
		}
		h.logger.Info("login failed", slog.String("user", form.Username))
		fail()
		return
	}

	target := sess.Get(access.TargetKey)
	if err := h.sessionManager.Login(r.Context(), sess, id); err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			h.metrics.LoginAttempt(resultBlocked)
			h.logger.Warn("login blocked at session cap", slog.String("user", id.Username()))
		} else {
			h.metrics.LoginAttempt(resultError)
			h.logger.Error("establish session", slog.Any("error", err))
		}
		fail()
		return
	}
	sess.Delete(access.TargetKey)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Bienvenido, " + id.Username()})
	h.metrics.LoginAttempt(resultSuccess)
	h.logger.Info("login succeeded", slog.String("user", id.Username()))

	if h.cfg.AlwaysUseDefault || !access.SafeTarget(target) {
		target = h.cfg.DefaultTarget
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := session.FromContext(r.Context()); sess != nil {
		user := sess.Username()
		if err := h.sessionManager.Logout(r.Context(), sess); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		if user != "" {
			h.logger.Info("logout", slog.String("user", user))
		}
	}
	http.Redirect(w, r, "/login?logout", http.StatusSeeOther)
}

type registerForm struct {
	Username        string `validate:"required,max=50"`
	Password        string `validate:"required,max=72"`
	ConfirmPassword string `validate:"required"`
}

type registerPageData struct {
	Form   registerForm
	Errors map[string]string
}

var registerFieldNames = map[string]string{
	"Username":        "username",
	"Password":        "password",
	"ConfirmPassword": "confirmPassword",
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	h.renderRegister(w, r, http.StatusOK, registerPageData{})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Username:        users.NormalizeUsername(r.PostFormValue("username")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirmPassword"),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[registerFieldNames[fieldErr.Field()]] = fieldMessage(fieldErr)
			}
		}
	}

	if len(errs) == 0 {
		_, err := h.service.Register(r.Context(), RegisterRequest{
			Username:        form.Username,
			Password:        form.Password,
			ConfirmPassword: form.ConfirmPassword,
		})
		switch {
		case err == nil:
			h.metrics.Registration(resultSuccess)
			http.Redirect(w, r, "/login?registroExitoso", http.StatusSeeOther)
			return
		case errors.Is(err, ErrPasswordMismatch):
			h.metrics.Registration(resultMismatch)
			errs["confirmPassword"] = "Las contraseñas no coinciden"
		case errors.Is(err, ErrDuplicateUser):
			h.metrics.Registration(resultDup)
			errs["username"] = "El nombre de usuario ya existe"
		case errors.Is(err, password.ErrPasswordTooLong):
			h.metrics.Registration(resultInvalid)
			errs["password"] = "La contraseña es demasiado larga"
		case errors.Is(err, ErrPasswordRequired):
			h.metrics.Registration(resultInvalid)
			errs["password"] = "La contraseña es obligatoria"
		case errors.Is(err, users.ErrUsernameTooLong):
			h.metrics.Registration(resultInvalid)
			errs["username"] = "Máximo 50 caracteres"
		case errors.Is(err, users.ErrInvalidUser):
			h.metrics.Registration(resultInvalid)
			errs["username"] = "El nombre de usuario es obligatorio"
		default:
			h.metrics.Registration(resultError)
			h.logger.Error("register user", slog.Any("error", err))
			form.Password, form.ConfirmPassword = "", ""
			errs["general"] = shared.UserSafeMessage(err)
			h.renderRegister(w, r, http.StatusInternalServerError, registerPageData{Form: form, Errors: errs})
			return
		}
	} else {
		h.metrics.Registration(resultInvalid)
	}

	form.Password, form.ConfirmPassword = "", ""
	h.renderRegister(w, r, http.StatusBadRequest, registerPageData{Form: form, Errors: errs})
}

func (h *Handler) renderRegister(w http.ResponseWriter, r *http.Request, status int, data registerPageData) {
	if err := h.templates.RenderStatus(w, status, "pages/registro.html", view.Page(r, h.csrfManager, "Registro", data)); err != nil {
		h.logger.Error("render registro", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Este campo es obligatorio"
	case "max":
		return "Máximo " + fe.Param() + " caracteres"
	default:
		return "Valor no válido"
	}
}
