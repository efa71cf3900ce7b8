package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no live record for the id.
	ErrNotFound = errors.New("session: not found")
	// ErrTooManySessions indicates the per-user cap blocks a new login.
	ErrTooManySessions = errors.New("session: maximum sessions reached")
	// ErrConflict indicates the admission transaction kept losing races.
	ErrConflict = errors.New("session: concurrent admission conflict")
)

// Limit bounds concurrent sessions for one identity.
type Limit struct {
	// Max is the cap; zero or less disables it.
	Max int
	// Block rejects new logins at the cap instead of evicting the oldest.
	Block bool
}

// Store persists session records and the per-identity index.
type Store interface {
	// Get returns the live record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Save writes a new record with the given time to live.
	Save(ctx context.Context, rec *Record, ttl time.Duration) error
	// Update rewrites an existing record and fails with ErrNotFound when it
	// was deleted, expired or, for a named user, dropped from the index.
	Update(ctx context.Context, rec *Record, ttl time.Duration) error
	// Delete removes the record and its index entry.
	Delete(ctx context.Context, id, username string) error
	// Admit stores an authenticated record, atomically enforcing limit for
	// rec.Username, and returns the ids evicted to make room.
	Admit(ctx context.Context, rec *Record, ttl time.Duration, limit Limit) ([]string, error)
	// UserSessions lists live session ids for username, oldest first.
	UserSessions(ctx context.Context, username string) ([]string, error)
	// Flush removes every session.
	Flush(ctx context.Context) error
}

// Sweeper is implemented by stores that can drop expired index entries in
// bulk. It returns the number of entries removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// evictionPlan splits the live ids (oldest first) into those to evict so a
// new session fits under limit.
func evictionPlan(live []string, limit Limit) ([]string, error) {
	if limit.Max <= 0 || len(live) < limit.Max {
		return nil, nil
	}
	if limit.Block {
		return nil, ErrTooManySessions
	}
	n := len(live) - limit.Max + 1
	return append([]string(nil), live[:n]...), nil
}
