package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/observability"
	"github.com/aula-web/aula/internal/shared"
)

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultCookieName         = "aula_session"
	DefaultIdleTimeout        = 30 * time.Minute
	DefaultMaxLifetime        = 720 * time.Hour
	DefaultMaxSessionsPerUser = 100
)

// Config tunes the session manager.
type Config struct {
	CookieName         string
	IdleTimeout        time.Duration
	MaxLifetime        time.Duration
	MaxSessionsPerUser int
	// BlockNewLogins rejects logins at the cap instead of evicting the
	// oldest session.
	BlockNewLogins  bool
	Secure          bool
	FlushOnShutdown bool
}

// Manager creates, loads, commits and destroys sessions. One instance is
// built at process start and torn down with Shutdown.
type Manager struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a Manager over store.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = DefaultMaxLifetime
	}
	if cfg.MaxSessionsPerUser == 0 {
		cfg.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	m := &Manager{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// CookieName returns the cookie identifier used for sessions.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

// Load returns the session referenced by the request cookie, or a fresh
// anonymous session when the cookie is absent, unknown or expired.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	now := m.now()
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return newSession(m.generateID(), now), nil
		}
		return nil, err
	}
	if cookie.Value == "" {
		return newSession(m.generateID(), now), nil
	}

	rec, err := m.store.Get(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newSession(m.generateID(), now), nil
		}
		return nil, err
	}
	if m.expired(rec, now) {
		if err := m.store.Delete(ctx, rec.ID, rec.Username); err != nil {
			return nil, err
		}
		m.metrics.SessionExpired()
		m.logger.Debug("session expired", slog.String("user", rec.Username))
		return newSession(m.generateID(), now), nil
	}
	return fromRecord(rec), nil
}

// Commit persists the session and writes cookie headers as needed. Clean
// anonymous sessions are not stored.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := m.store.Delete(ctx, sess.ID, sess.username); err != nil {
			return err
		}
		m.clearCookie(w)
		return nil
	}
	if sess.isNew && !sess.dirty {
		return nil
	}

	now := m.now()
	ttl := m.ttl(sess.createdAt, now)
	if ttl <= 0 {
		return m.store.Delete(ctx, sess.ID, sess.username)
	}
	sess.lastSeenAt = now
	var err error
	if sess.isNew {
		err = m.store.Save(ctx, sess.record(), ttl)
	} else {
		err = m.store.Update(ctx, sess.record(), ttl)
	}
	if errors.Is(err, ErrNotFound) {
		// Evicted or logged out by a concurrent request.
		m.logger.Debug("session ended during request", slog.String("user", sess.username))
		return nil
	}
	if err != nil {
		return err
	}
	sess.isNew = false
	sess.dirty = false

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Login binds id to sess under a fresh session id, enforcing the per-user
// cap. With BlockNewLogins the call fails with ErrTooManySessions at the cap
// and sess is left untouched; otherwise the oldest sessions are evicted.
func (m *Manager) Login(ctx context.Context, sess *Session, id identity.Authenticatable) error {
	if sess == nil {
		return errors.New("session: missing session")
	}
	if id == nil || id.Username() == "" {
		return errors.New("session: missing identity")
	}

	now := m.now()
	next := &Session{
		ID:          m.generateID(),
		username:    id.Username(),
		authorities: id.Authorities(),
		values:      make(map[string]string, len(sess.values)),
		flashes:     sess.flashes,
		createdAt:   now,
		lastSeenAt:  now,
		state:       StateActive,
	}
	for k, v := range sess.values {
		if k == shared.CSRFSessionKey {
			continue
		}
		next.values[k] = v
	}

	limit := Limit{Max: m.cfg.MaxSessionsPerUser, Block: m.cfg.BlockNewLogins}
	evicted, err := m.store.Admit(ctx, next.record(), m.ttl(now, now), limit)
	if err != nil {
		return err
	}
	if len(evicted) > 0 {
		m.metrics.SessionsEvicted(len(evicted))
		m.logger.Info("evicted sessions at cap",
			slog.String("user", next.username),
			slog.Int("evicted", len(evicted)),
			slog.Int("max", limit.Max))
	}

	if !sess.isNew {
		if err := m.store.Delete(ctx, sess.ID, sess.username); err != nil {
			m.logger.Warn("delete pre-login session", slog.Any("error", err))
		}
	}
	*sess = *next
	return nil
}

// Logout ends sess; Commit then clears the cookie.
func (m *Manager) Logout(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	err := m.store.Delete(ctx, sess.ID, sess.username)
	sess.destroyed = true
	sess.state = StateLoggedOut
	sess.username = ""
	sess.authorities = nil
	return err
}

// ActiveSessions lists live session ids for username, oldest first.
func (m *Manager) ActiveSessions(ctx context.Context, username string) ([]string, error) {
	return m.store.UserSessions(ctx, username)
}

// Sweep asks the store to drop expired entries. Stores without bulk
// sweeping report zero.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sw, ok := m.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.Sweep(ctx)
	m.metrics.SessionsSwept(n)
	return n, err
}

// Shutdown flushes every session when FlushOnShutdown is set.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.cfg.FlushOnShutdown {
		return nil
	}
	if err := m.store.Flush(ctx); err != nil {
		return fmt.Errorf("session: flush on shutdown: %w", err)
	}
	m.logger.Info("sessions flushed")
	return nil
}

func (m *Manager) expired(rec *Record, now time.Time) bool {
	if !rec.LastSeenAt.IsZero() && now.Sub(rec.LastSeenAt) >= m.cfg.IdleTimeout {
		return true
	}
	return !rec.CreatedAt.IsZero() && now.Sub(rec.CreatedAt) >= m.cfg.MaxLifetime
}

// ttl is the idle timeout capped by the remaining absolute lifetime.
func (m *Manager) ttl(createdAt, now time.Time) time.Duration {
	ttl := m.cfg.IdleTimeout
	if remaining := createdAt.Add(m.cfg.MaxLifetime).Sub(now); remaining < ttl {
		ttl = remaining
	}
	return ttl
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) generateID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
