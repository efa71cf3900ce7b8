// Package session manages cookie-bound login sessions with a per-user
// concurrency cap, idle expiry and absolute lifetime.
package session

import (
	"time"

	"github.com/aula-web/aula/internal/identity"
	"github.com/aula-web/aula/internal/shared"
)

// State is the lifecycle position of a session.
type State int

const (
	// StateNone is an anonymous session with no identity bound.
	StateNone State = iota
	// StateActive is an authenticated, live session.
	StateActive
	// StateExpired is a session past its idle timeout or lifetime.
	StateExpired
	// StateLoggedOut is a session ended by explicit logout.
	StateLoggedOut
	// StateEvicted is a session removed to admit a newer login.
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateLoggedOut:
		return "logged_out"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Record is the persisted form of a session.
type Record struct {
	ID          string                `json:"-"`
	Username    string                `json:"username,omitempty"`
	Authorities []string              `json:"authorities,omitempty"`
	Values      map[string]string     `json:"values,omitempty"`
	Flashes     []shared.FlashMessage `json:"flashes,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	LastSeenAt  time.Time             `json:"last_seen_at"`
}

// Session holds per-request session data.
type Session struct {
	ID          string
	username    string
	authorities []string
	values      map[string]string
	flashes     []shared.FlashMessage
	createdAt   time.Time
	lastSeenAt  time.Time
	state       State
	isNew       bool
	dirty       bool
	destroyed   bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		values:     make(map[string]string),
		createdAt:  now,
		lastSeenAt: now,
		state:      StateNone,
		isNew:      true,
	}
}

func fromRecord(rec *Record) *Session {
	sess := &Session{
		ID:          rec.ID,
		username:    rec.Username,
		authorities: append([]string(nil), rec.Authorities...),
		values:      rec.Values,
		flashes:     rec.Flashes,
		createdAt:   rec.CreatedAt,
		lastSeenAt:  rec.LastSeenAt,
		state:       StateNone,
	}
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	if sess.username != "" {
		sess.state = StateActive
	}
	return sess
}

func (s *Session) record() *Record {
	return &Record{
		ID:          s.ID,
		Username:    s.username,
		Authorities: append([]string(nil), s.authorities...),
		Values:      s.values,
		Flashes:     s.flashes,
		CreatedAt:   s.createdAt,
		LastSeenAt:  s.lastSeenAt,
	}
}

// SessionID returns the current session identifier.
func (s *Session) SessionID() string {
	return s.ID
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Authenticated reports whether an identity is bound to a live session.
func (s *Session) Authenticated() bool {
	return s != nil && s.state == StateActive && s.username != ""
}

// Username returns the bound username, empty when anonymous.
func (s *Session) Username() string {
	return s.username
}

// Identity rebuilds the bound identity without credentials, or nil when
// the session is anonymous.
func (s *Session) Identity() identity.Authenticatable {
	if !s.Authenticated() {
		return nil
	}
	return identity.New(s.username, "", s.authorities...)
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastSeenAt returns the time of the last committed request.
func (s *Session) LastSeenAt() time.Time {
	return s.lastSeenAt
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg shared.FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *shared.FlashMessage {
	if s == nil || len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

var _ shared.TokenHolder = (*Session)(nil)
