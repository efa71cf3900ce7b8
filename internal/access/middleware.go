package access

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/observability"
	"github.com/aula-web/aula/internal/platform/httpx"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
)

// TargetKey is the session value holding the GET target saved before a
// login redirect.
const TargetKey = "access.target"

// DefaultLoginPath is the login entry point used when none is configured.
const DefaultLoginPath = "/login"

// Middleware enforces a Policy on every request. Clients that ask for JSON
// get 401 or 403 problem responses instead of the redirect and HTML page.
type Middleware struct {
	Policy    *Policy
	LoginPath string
	// Forbidden renders the access-denied page. It must write status 403.
	Forbidden http.Handler
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Handler wraps next with policy enforcement.
func (m Middleware) Handler(next http.Handler) http.Handler {
	loginPath := m.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		var id identity.Authenticatable
		if sess != nil {
			id = sess.Identity()
		}

		decision, rule := m.Policy.Evaluate(r.URL.Path, id)
		m.Metrics.AccessDecision(decision.String())

		switch decision {
		case Allow:
			next.ServeHTTP(w, r)
		case RedirectToLogin:
			if httpx.WantsJSON(r) {
				httpx.RespondError(w, shared.ErrAuthenticationRequired)
				return
			}
			if sess != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead) && SafeTarget(r.URL.RequestURI()) {
				sess.Set(TargetKey, r.URL.RequestURI())
			}
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
		default:
			if m.Logger != nil {
				m.Logger.Warn("access denied",
					slog.String("path", r.URL.Path),
					slog.String("user", id.Username()),
					slog.String("requires", rule.Authority))
			}
			if httpx.WantsJSON(r) {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			if m.Forbidden != nil {
				m.Forbidden.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}
	})
}

// SafeTarget reports whether target is a local absolute path that may be
// used as a post-login redirect.
func SafeTarget(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.Contains(target, "\\")
}
