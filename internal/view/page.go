package view

import (
	"net/http"

	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
)

// Page fills the shared TemplateData fields from the request session: the
// CSRF token, the pending flash message and the signed-in user.
func Page(r *http.Request, csrf *shared.CSRFManager, title string, data any) TemplateData {
	td := TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		return td
	}
	if csrf != nil {
		td.CSRFToken, _ = csrf.EnsureToken(r.Context(), sess)
	}
	td.Flash = sess.PopFlash()
	td.User = sess.Identity()
	return td
}
