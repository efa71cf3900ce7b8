package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/shared"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

// Now advances one millisecond per call so creation order is strict.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryManager(t *testing.T, cfg Config) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewManager(NewMemoryStore(clock.Now), cfg, WithClock(clock.Now)), clock
}

// commit writes sess and returns the session cookie, if any.
func commit(t *testing.T, m *Manager, sess *Session) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	require.NoError(t, m.Commit(context.Background(), rr, sess))
	for _, c := range rr.Result().Cookies() {
		if c.Name == m.CookieName() {
			return c
		}
	}
	return nil
}

func load(t *testing.T, m *Manager, cookie *http.Cookie) *Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	sess, err := m.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func login(t *testing.T, m *Manager, username string) (*Session, error) {
	t.Helper()
	sess := load(t, m, nil)
	err := m.Login(context.Background(), sess, identity.New(username, "hash", "ROLE_USER"))
	return sess, err
}

func TestLoadWithoutCookieIsAnonymous(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess := load(t, m, nil)

	assert.Equal(t, StateNone, sess.State())
	assert.False(t, sess.Authenticated())
	assert.Nil(t, sess.Identity())
	assert.Nil(t, commit(t, m, sess), "clean anonymous session must not set a cookie")
}

func TestCommitPersistsValues(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess := load(t, m, nil)
	sess.Set("k", "v")
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "hola"})

	cookie := commit(t, m, sess)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, sess.ID, cookie.Value)

	again := load(t, m, cookie)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, "v", again.Get("k"))
	flash := again.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "hola", flash.Message)
	assert.Nil(t, again.PopFlash())
}

func TestLoginRotatesIDAndBindsIdentity(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess := load(t, m, nil)
	sess.Set("redirect", "/products")
	sess.Set(shared.CSRFSessionKey, "old-token")
	anonCookie := commit(t, m, sess)
	anonID := sess.ID

	require.NoError(t, m.Login(context.Background(), sess, identity.New("alice", "hash", "ROLE_USER")))

	assert.NotEqual(t, anonID, sess.ID)
	assert.Equal(t, StateActive, sess.State())
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "/products", sess.Get("redirect"))
	assert.Empty(t, sess.Get(shared.CSRFSessionKey), "csrf token must be reset on login")

	id := sess.Identity()
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.Username())
	assert.Empty(t, id.PasswordHash())
	assert.Equal(t, []string{"ROLE_USER"}, id.Authorities())

	assert.False(t, load(t, m, anonCookie).Authenticated(), "pre-login id must be gone")

	cookie := commit(t, m, sess)
	require.NotNil(t, cookie)
	assert.True(t, load(t, m, cookie).Authenticated())

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, active)
}

func TestLoginEvictsOldestAtCap(t *testing.T) {
	m, _ := newMemoryManager(t, Config{MaxSessionsPerUser: 2})

	first, err := login(t, m, "alice")
	require.NoError(t, err)
	firstCookie := commit(t, m, first)
	second, err := login(t, m, "alice")
	require.NoError(t, err)
	third, err := login(t, m, "alice")
	require.NoError(t, err)

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, third.ID}, active)
	assert.False(t, load(t, m, firstCookie).Authenticated(), "evicted session must read as anonymous")
}

func TestLoginBlockedAtCap(t *testing.T) {
	m, _ := newMemoryManager(t, Config{MaxSessionsPerUser: 2, BlockNewLogins: true})

	_, err := login(t, m, "alice")
	require.NoError(t, err)
	_, err = login(t, m, "alice")
	require.NoError(t, err)

	third, err := login(t, m, "alice")
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.False(t, third.Authenticated())

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = login(t, m, "bob")
	assert.NoError(t, err, "cap is per identity")
}

func TestBlockedLoginSucceedsAfterLogout(t *testing.T) {
	m, _ := newMemoryManager(t, Config{MaxSessionsPerUser: 1, BlockNewLogins: true})

	first, err := login(t, m, "alice")
	require.NoError(t, err)
	_, err = login(t, m, "alice")
	require.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, m.Logout(context.Background(), first))
	_, err = login(t, m, "alice")
	assert.NoError(t, err)
}

func TestIdleTimeoutExpiresSession(t *testing.T) {
	m, clock := newMemoryManager(t, Config{IdleTimeout: 30 * time.Minute})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	clock.Advance(29 * time.Minute)
	again := load(t, m, cookie)
	require.True(t, again.Authenticated())
	commit(t, m, again)

	clock.Advance(31 * time.Minute)
	assert.False(t, load(t, m, cookie).Authenticated())

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMaxLifetimeExpiresActiveSession(t *testing.T) {
	m, clock := newMemoryManager(t, Config{IdleTimeout: 30 * time.Minute, MaxLifetime: time.Hour})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	for i := 0; i < 3; i++ {
		clock.Advance(20 * time.Minute)
		sess = load(t, m, cookie)
		if i < 2 {
			require.True(t, sess.Authenticated(), "iteration %d", i)
			commit(t, m, sess)
		}
	}
	assert.False(t, sess.Authenticated())
}

func TestLogoutClearsCookieAndRecord(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	require.NoError(t, m.Logout(context.Background(), sess))
	assert.Equal(t, StateLoggedOut, sess.State())
	assert.False(t, sess.Authenticated())

	rr := httptest.NewRecorder()
	require.NoError(t, m.Commit(context.Background(), rr, sess))
	cleared := rr.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	assert.False(t, load(t, m, cookie).Authenticated())
}

func TestShutdownFlushesWhenConfigured(t *testing.T) {
	m, _ := newMemoryManager(t, Config{FlushOnShutdown: true})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, load(t, m, cookie).Authenticated())
}

func TestShutdownKeepsSessionsByDefault(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, load(t, m, cookie).Authenticated())
}

func TestConcurrentLoginsNeverExceedCap(t *testing.T) {
	for _, block := range []bool{false, true} {
		m, _ := newMemoryManager(t, Config{MaxSessionsPerUser: 5, BlockNewLogins: block})
		const attempts = 24

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ok      int
			blocked int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess := newSession(m.generateID(), time.Now())
				err := m.Login(context.Background(), sess, identity.New("alice", "", "ROLE_USER"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrTooManySessions):
					blocked++
				}
			}()
		}
		wg.Wait()

		active, err := m.ActiveSessions(context.Background(), "alice")
		require.NoError(t, err)
		assert.Len(t, active, 5, "block=%v", block)
		if block {
			assert.Equal(t, 5, ok)
			assert.Equal(t, attempts-5, blocked)
		} else {
			assert.Equal(t, attempts, ok)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "evicted", StateEvicted.String())
	assert.Equal(t, "logged_out", StateLoggedOut.String())
}

func TestMemorySweepRemovesExpiredRecords(t *testing.T) {
	m, clock := newMemoryManager(t, Config{IdleTimeout: 10 * time.Minute})
	_, err := login(t, m, "alice")
	require.NoError(t, err)
	_, err = login(t, m, "bob")
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	kept, err := login(t, m, "carol")
	require.NoError(t, err)

	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := m.ActiveSessions(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, active)
	active, err = m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

// checkEvictedStaysEvicted commits a copy of a session loaded before a
// newer login pushed it out.
func checkEvictedStaysEvicted(t *testing.T, m *Manager) {
	t.Helper()
	first, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, first)
	require.NotNil(t, cookie)

	inflight := load(t, m, cookie)
	require.True(t, inflight.Authenticated())

	second, err := login(t, m, "alice")
	require.NoError(t, err)

	inflight.Set("cart", `{"1":1}`)
	assert.Nil(t, commit(t, m, inflight), "no cookie for a session that ended")

	assert.False(t, load(t, m, cookie).Authenticated())
	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, active)
}

// checkLoggedOutStaysLoggedOut commits a parallel copy after logout.
func checkLoggedOutStaysLoggedOut(t *testing.T, m *Manager) {
	t.Helper()
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)
	require.NotNil(t, cookie)

	leaving := load(t, m, cookie)
	parallel := load(t, m, cookie)
	require.NoError(t, m.Logout(context.Background(), leaving))
	commit(t, m, leaving)

	assert.Nil(t, commit(t, m, parallel))
	assert.False(t, load(t, m, cookie).Authenticated())
	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCommitDoesNotRestoreEvictedSession(t *testing.T) {
	m, _ := newMemoryManager(t, Config{MaxSessionsPerUser: 1})
	checkEvictedStaysEvicted(t, m)
}

func TestCommitDoesNotRestoreLoggedOutSession(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	checkLoggedOutStaysLoggedOut(t, m)
}

func TestCommitUpdatesLiveSession(t *testing.T) {
	m, _ := newMemoryManager(t, Config{})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	again := load(t, m, cookie)
	again.Set("cart", `{"2":3}`)
	assert.NotNil(t, commit(t, m, again))
	assert.Equal(t, `{"2":3}`, load(t, m, cookie).Get("cart"))
}
