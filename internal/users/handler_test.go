package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aula-web/aula/internal/auth/password"
	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/session"
	"github.com/aula-web/aula/internal/shared"
	"github.com/aula-web/aula/internal/view"
	_ "github.com/aula-web/aula/testing"
)

func newUsersRouter(t *testing.T) (http.Handler, *session.Manager, *MemoryRepository) {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	repo := NewMemoryRepository()
	sessions := session.NewManager(session.NewMemoryStore(nil), session.Config{})
	h := NewHandler(nil, NewService(repo, password.NewBcrypt(bcrypt.MinCost)), templates, shared.NewCSRFManager("secret", false), sessions)

	r := chi.NewRouter()
	r.Route("/admin/users", h.MountRoutes)
	return r, sessions, repo
}

func serveAsAdmin(t *testing.T, router http.Handler, sessions *session.Manager, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, sessions.Login(context.Background(), sess, identity.New("admin", "", "ROLE_ADMIN")))
	req = req.WithContext(session.ContextWithSession(req.Context(), sess))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestListUsersShowsSessionCounts(t *testing.T) {
	router, sessions, repo := newUsersRouter(t)
	_, err := repo.Save(context.Background(), &User{Username: "admin", PasswordHash: "h", Role: "ROLE_ADMIN"})
	require.NoError(t, err)

	rr := serveAsAdmin(t, router, sessions, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "admin")
	assert.Contains(t, body, "<td>1</td>")
}

func TestCreateUserRedirects(t *testing.T) {
	router, sessions, repo := newUsersRouter(t)
	form := url.Values{"username": {"profe"}, "password": {"secreto"}, "role": {"ROLE_USER"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serveAsAdmin(t, router, sessions, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin/users", rr.Header().Get("Location"))

	u, err := repo.FindByUsername(context.Background(), "profe")
	require.NoError(t, err)
	assert.Equal(t, "ROLE_USER", u.Role)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	router, sessions, _ := newUsersRouter(t)
	form := url.Values{"username": {"profe"}, "password": {"secreto"}, "role": {"ROOT"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serveAsAdmin(t, router, sessions, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Rol no válido")
}

func TestCreateUserFieldErrors(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		field    string
		message  string
	}{
		{"long username", strings.Repeat("a", MaxUsernameLength+1), "secreto", "username", "Máximo 50 caracteres"},
		{"blank password", "profe", "   ", "password", "La contraseña es obligatoria"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, sessions, repo := newUsersRouter(t)
			form := url.Values{"username": {tc.username}, "password": {tc.password}, "role": {"ROLE_USER"}}
			req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			rr := serveAsAdmin(t, router, sessions, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := rr.Body.String()
			assert.Contains(t, body, `data-field="`+tc.field+`"`)
			assert.Contains(t, body, tc.message)

			list, err := repo.ListUsers(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}
