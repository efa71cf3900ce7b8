package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. One mutex guards records
// and the per-user index, so admission is atomic per identity.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	byUser  map[string][]string
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		byUser:  make(map[string][]string),
		now:     now,
	}
}

// Get returns the live record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		s.removeLocked(id, entry.rec.Username)
		return nil, ErrNotFound
	}
	rec := cloneRecord(entry.rec)
	rec.ID = id
	return &rec, nil
}

// Save writes the record with the given time to live.
func (s *MemoryStore) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.ID] = memoryEntry{rec: cloneRecord(*rec), expiresAt: s.now().Add(ttl)}
	return nil
}

// Update rewrites a record that is still live and indexed.
func (s *MemoryStore) Update(ctx context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[rec.ID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return ErrNotFound
	}
	if rec.Username != "" && !s.indexedLocked(rec.Username, rec.ID) {
		return ErrNotFound
	}
	s.entries[rec.ID] = memoryEntry{rec: cloneRecord(*rec), expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes the record and its index entry.
func (s *MemoryStore) Delete(ctx context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id, username)
	return nil
}

// Admit stores an authenticated record under the per-user cap.
func (s *MemoryStore) Admit(ctx context.Context, rec *Record, ttl time.Duration, limit Limit) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveLocked(rec.Username)
	evict, err := evictionPlan(live, limit)
	if err != nil {
		return nil, err
	}
	for _, id := range evict {
		s.removeLocked(id, rec.Username)
	}
	s.entries[rec.ID] = memoryEntry{rec: cloneRecord(*rec), expiresAt: s.now().Add(ttl)}
	s.byUser[rec.Username] = append(s.byUser[rec.Username], rec.ID)
	return evict, nil
}

// UserSessions lists live session ids for username, oldest first.
func (s *MemoryStore) UserSessions(ctx context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.liveLocked(username)...), nil
}

// Flush removes every session.
func (s *MemoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	s.byUser = make(map[string][]string)
	return nil
}

// Sweep drops every expired record and its index entry.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			continue
		}
		s.removeLocked(id, entry.rec.Username)
		removed++
	}
	return removed, nil
}

// liveLocked prunes dead index entries and returns the survivors.
func (s *MemoryStore) liveLocked(username string) []string {
	ids := s.byUser[username]
	live := ids[:0]
	now := s.now()
	for _, id := range ids {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			continue
		}
		live = append(live, id)
	}
	if len(live) == 0 {
		delete(s.byUser, username)
		return nil
	}
	s.byUser[username] = live
	return live
}

func (s *MemoryStore) indexedLocked(username, id string) bool {
	for _, candidate := range s.byUser[username] {
		if candidate == id {
			return true
		}
	}
	return false
}

func (s *MemoryStore) removeLocked(id, username string) {
	delete(s.entries, id)
	if username == "" {
		return
	}
	ids := s.byUser[username]
	for i, candidate := range ids {
		if candidate == id {
			s.byUser[username] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byUser[username]) == 0 {
		delete(s.byUser, username)
	}
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Authorities = append([]string(nil), rec.Authorities...)
	if rec.Values != nil {
		out.Values = make(map[string]string, len(rec.Values))
		for k, v := range rec.Values {
			out.Values[k] = v
		}
	}
	out.Flashes = append(out.Flashes[:0:0], rec.Flashes...)
	return out
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
