package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-web/aula/internal/app"
	_ "github.com/aula-web/aula/testing"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newBrowser(t *testing.T, base string) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: base, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// token loads page and returns the CSRF token rendered in it.
func (b *browser) token(page string) string {
	b.t.Helper()
	resp, body := b.get(page)
	require.Equal(b.t, http.StatusOK, resp.StatusCode, page)
	m := csrfPattern.FindStringSubmatch(body)
	require.Len(b.t, m, 2, "no csrf token on %s", page)
	return m[1]
}

func (b *browser) login(username, pass string) *http.Response {
	b.t.Helper()
	tok := b.token("/login")
	resp, _ := b.post("/login", url.Values{"username": {username}, "password": {pass}, "csrf_token": {tok}})
	return resp
}

func (b *browser) cookie(name string) *http.Cookie {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testConfig(t *testing.T, env map[string]string) *app.Config {
	t.Helper()
	t.Setenv("USER_STORE", "memory")
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("CSRF_SECRET", "integration-secret")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func startApp(t *testing.T, cfg *app.Config, infra app.Infra) (*app.Application, *httptest.Server) {
	t.Helper()
	application, err := app.Build(context.Background(), cfg, nil, infra)
	require.NoError(t, err)
	srv := httptest.NewServer(application.Handler)
	t.Cleanup(srv.Close)
	return application, srv
}

func location(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	return resp.Header.Get("Location")
}

func TestRegisterLoginLogoutFlow(t *testing.T) {
	application, srv := startApp(t, testConfig(t, nil), app.Infra{})
	b := newBrowser(t, srv.URL)

	tok := b.token("/registro")
	resp, _ := b.post("/registro", url.Values{
		"username": {"alice"}, "password": {"pw123"}, "confirmPassword": {"pw123"}, "csrf_token": {tok},
	})
	assert.Equal(t, "/login?registroExitoso", location(t, resp))

	resp = b.login("alice", "wrong")
	assert.Equal(t, "/login?error", location(t, resp))

	anon := b.cookie("aula_session")
	resp = b.login("alice", "pw123")
	assert.Equal(t, "/", location(t, resp))
	authed := b.cookie("aula_session")
	require.NotNil(t, authed)
	if anon != nil {
		assert.NotEqual(t, anon.Value, authed.Value, "session id rotates on login")
	}

	ids, err := application.Sessions.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	resp, body := b.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Hola, alice")
	assert.Contains(t, body, "ROLE_USER")

	resp, _ = b.get("/products")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tok = b.token("/")
	resp, _ = b.post("/logout", url.Values{"csrf_token": {tok}})
	assert.Equal(t, "/login?logout", location(t, resp))

	ids, err = application.Sessions.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// The pre-logout cookie no longer authenticates.
	stale := newBrowser(t, srv.URL)
	u, _ := url.Parse(srv.URL)
	stale.client.Jar.SetCookies(u, []*http.Cookie{{Name: "aula_session", Value: authed.Value, Path: "/"}})
	resp, _ = stale.get("/products")
	assert.Equal(t, "/login", location(t, resp))
}

func TestLoginRedirectsToSavedTarget(t *testing.T) {
	_, srv := startApp(t, testConfig(t, nil), app.Infra{})
	b := newBrowser(t, srv.URL)

	resp, _ := b.get("/products/2")
	assert.Equal(t, "/login", location(t, resp))

	resp = b.login("user", "user")
	assert.Equal(t, "/products/2", location(t, resp))

	resp, body := b.get("/products/2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ratón")
}

func TestRoleGatedRoutes(t *testing.T) {
	_, srv := startApp(t, testConfig(t, nil), app.Infra{})

	user := newBrowser(t, srv.URL)
	require.Equal(t, "/", location(t, user.login("user", "user")))
	resp, body := user.get("/alumnos")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Acceso denegado")
	resp, _ = user.get("/metrics")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = user.get("/admin/users")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := newBrowser(t, srv.URL)
	require.Equal(t, "/", location(t, admin.login("admin", "admin")))
	resp, body = admin.get("/alumnos")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ana García")
	resp, body = admin.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "aula_login_attempts_total")
	resp, body = admin.get("/admin/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "user")

	anon := newBrowser(t, srv.URL)
	resp, _ = anon.get("/alumnos")
	assert.Equal(t, "/login", location(t, resp))
}

func TestPublicEndpoints(t *testing.T) {
	_, srv := startApp(t, testConfig(t, nil), app.Infra{})
	b := newBrowser(t, srv.URL)

	resp, body := b.get("/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, _ = b.get("/css/app.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))

	resp, body = b.get("/login?logout")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "csrf_token")
}

func TestLoginWithoutCSRFTokenIsRejected(t *testing.T) {
	_, srv := startApp(t, testConfig(t, nil), app.Infra{})
	b := newBrowser(t, srv.URL)
	b.token("/login")

	resp, _ := b.post("/login", url.Values{"username": {"user"}, "password": {"user"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIMe(t *testing.T) {
	_, srv := startApp(t, testConfig(t, nil), app.Infra{})
	b := newBrowser(t, srv.URL)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/me", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, _ := b.do(req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, "/", location(t, b.login("admin", "admin")))
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/me", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, body := b.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		Username       string   `json:"username"`
		Authorities    []string `json:"authorities"`
		ActiveSessions int      `json:"activeSessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &me))
	assert.Equal(t, "admin", me.Username)
	assert.Equal(t, []string{"ROLE_ADMIN"}, me.Authorities)
	assert.Equal(t, 1, me.ActiveSessions)
}

func TestSessionCapBlocksNewLogins(t *testing.T) {
	_, srv := startApp(t, testConfig(t, map[string]string{
		"SESSION_MAX_PER_USER":     "1",
		"SESSION_BLOCK_NEW_LOGINS": "true",
	}), app.Infra{})

	first := newBrowser(t, srv.URL)
	require.Equal(t, "/", location(t, first.login("user", "user")))

	second := newBrowser(t, srv.URL)
	assert.Equal(t, "/login?error", location(t, second.login("user", "user")))

	resp, _ := first.get("/products")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	application, srv := startApp(t, testConfig(t, map[string]string{
		"SESSION_STORE":        "redis",
		"SESSION_MAX_PER_USER": "1",
	}), app.Infra{Redis: rdb})

	first := newBrowser(t, srv.URL)
	require.Equal(t, "/", location(t, first.login("admin", "admin")))
	assert.True(t, mr.Exists("session:user:admin"))

	// Evict-oldest mode: the second login expires the first.
	second := newBrowser(t, srv.URL)
	require.Equal(t, "/", location(t, second.login("admin", "admin")))

	resp, _ := first.get("/alumnos")
	assert.Equal(t, "/login", location(t, resp))
	resp, _ = second.get("/alumnos")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ids, err := application.Sessions.ActiveSessions(context.Background(), "admin")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestBuildRequiresInfra(t *testing.T) {
	cfg := testConfig(t, map[string]string{"USER_STORE": "postgres"})
	_, err := app.Build(context.Background(), cfg, nil, app.Infra{})
	assert.Error(t, err)

	cfg = testConfig(t, map[string]string{"SESSION_STORE": "redis"})
	_, err = app.Build(context.Background(), cfg, nil, app.Infra{})
	assert.Error(t, err)
}
