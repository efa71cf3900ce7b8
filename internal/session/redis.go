package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "session:"
	redisUserPrefix = "session:user:"
	admitRetries    = 8
	flushBatch      = 100
)

// indexReader is satisfied by both *redis.Client and *redis.Tx.
type indexReader interface {
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps sessions in Redis. Each record lives under
// session:<id> with a TTL; each identity has a sorted set session:user:<name>
// scored by creation time. Admission runs in a WATCH/MULTI transaction on
// that set and retries when another login for the same user commits first.
type RedisStore struct {
	client   *redis.Client
	indexTTL time.Duration
}

// NewRedisStore returns a store using client. indexTTL bounds how long an
// idle per-user index survives and should be at least the session lifetime.
func NewRedisStore(client *redis.Client, indexTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, indexTTL: indexTTL}
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) userKey(username string) string {
	return redisUserPrefix + username
}

// Get returns the live record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// Save writes a new record with the given time to live.
func (s *RedisStore) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis save: %w", err)
	}
	return nil
}

// Update rewrites an existing record. Anonymous records use SET XX; named
// records are also checked against the user index under WATCH.
func (s *RedisStore) Update(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	key := s.key(rec.ID)

	if rec.Username == "" {
		err := s.client.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("session: redis update: %w", err)
		}
		return nil
	}

	idx := s.userKey(rec.Username)
	txf := func(tx *redis.Tx) error {
		if err := tx.ZScore(ctx, idx, rec.ID).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Expire(ctx, idx, s.indexTTL)
			return nil
		})
		return err
	}

	for i := 0; i < admitRetries; i++ {
		err := s.client.Watch(ctx, txf, idx, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("session: redis update: %w", err)
	}
	return ErrConflict
}

// Delete removes the record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id, username string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		if username != "" {
			pipe.ZRem(ctx, s.userKey(username), id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	return nil
}

// Admit stores an authenticated record under the per-user cap.
func (s *RedisStore) Admit(ctx context.Context, rec *Record, ttl time.Duration, limit Limit) ([]string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	idx := s.userKey(rec.Username)

	var evicted []string
	txf := func(tx *redis.Tx) error {
		live, dead, err := s.partition(ctx, tx, idx)
		if err != nil {
			return err
		}
		evict, err := evictionPlan(live, limit)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range dead {
				pipe.ZRem(ctx, idx, id)
			}
			for _, id := range evict {
				pipe.ZRem(ctx, idx, id)
				pipe.Del(ctx, s.key(id))
			}
			pipe.Set(ctx, s.key(rec.ID), data, ttl)
			pipe.ZAdd(ctx, idx, redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: rec.ID})
			pipe.Expire(ctx, idx, s.indexTTL)
			return nil
		})
		if err == nil {
			evicted = evict
		}
		return err
	}

	for i := 0; i < admitRetries; i++ {
		err := s.client.Watch(ctx, txf, idx)
		if err == nil {
			return evicted, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrTooManySessions) {
			return nil, err
		}
		return nil, fmt.Errorf("session: redis admit: %w", err)
	}
	return nil, ErrConflict
}

// UserSessions lists live session ids for username, oldest first.
func (s *RedisStore) UserSessions(ctx context.Context, username string) ([]string, error) {
	live, _, err := s.partition(ctx, s.client, s.userKey(username))
	if err != nil {
		return nil, fmt.Errorf("session: redis list: %w", err)
	}
	return live, nil
}

// Flush removes every session and index key.
func (s *RedisStore) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", flushBatch).Result()
		if err != nil {
			return fmt.Errorf("session: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("session: redis flush: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Sweep removes index members whose record already expired.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisUserPrefix+"*", flushBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("session: redis scan: %w", err)
		}
		for _, idx := range keys {
			_, dead, err := s.partition(ctx, s.client, idx)
			if err != nil {
				return removed, fmt.Errorf("session: redis sweep: %w", err)
			}
			if len(dead) == 0 {
				continue
			}
			members := make([]any, len(dead))
			for i, id := range dead {
				members[i] = id
			}
			n, err := s.client.ZRem(ctx, idx, members...).Result()
			if err != nil {
				return removed, fmt.Errorf("session: redis sweep: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// partition splits the index members into ids whose record still exists
// and ids whose record already expired.
func (s *RedisStore) partition(ctx context.Context, c indexReader, idx string) (live, dead []string, err error) {
	ids, err := c.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		n, err := c.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, nil, err
		}
		if n == 0 {
			dead = append(dead, id)
			continue
		}
		live = append(live, id)
	}
	return live, dead, nil
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Sweeper = (*RedisStore)(nil)
)
