package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-web/aula/internal/identity"
)

func newRedisManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := newFakeClock()
	return NewManager(NewRedisStore(client, 24*time.Hour), cfg, WithClock(clock.Now)), mr, clock
}

func TestRedisStoreRoundTrip(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{})
	sess := load(t, m, nil)
	sess.Set("cart", `{"1":2}`)
	cookie := commit(t, m, sess)
	require.NotNil(t, cookie)

	again := load(t, m, cookie)
	assert.Equal(t, `{"1":2}`, again.Get("cart"))
}

func TestRedisStoreRecordExpiresWithTTL(t *testing.T) {
	m, mr, _ := newRedisManager(t, Config{IdleTimeout: 30 * time.Minute})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	mr.FastForward(31 * time.Minute)
	assert.False(t, load(t, m, cookie).Authenticated())

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisStoreEvictsOldest(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{MaxSessionsPerUser: 2})

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
	assert.False(t, load(t, m, firstCookie).Authenticated())
}

func TestRedisStoreBlocksAtCap(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{MaxSessionsPerUser: 1, BlockNewLogins: true})

	_, err := login(t, m, "alice")
	require.NoError(t, err)
	_, err = login(t, m, "alice")
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestRedisStoreConcurrentAdmission(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{MaxSessionsPerUser: 3, BlockNewLogins: true})
	const attempts = 12

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		blocked int
		other   []error
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
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	active, err := m.ActiveSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), 3)
	assert.Equal(t, len(active), ok)
	for _, err := range other {
		assert.ErrorIs(t, err, ErrConflict)
	}
}

func TestRedisStoreFlush(t *testing.T) {
	m, mr, _ := newRedisManager(t, Config{FlushOnShutdown: true})
	for _, name := range []string{"alice", "bob"} {
		sess, err := login(t, m, name)
		require.NoError(t, err)
		commit(t, m, sess)
	}
	require.NotEmpty(t, mr.Keys())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, mr.Keys())
}

func TestRedisStoreSweepDropsDeadIndexEntries(t *testing.T) {
	m, mr, _ := newRedisManager(t, Config{IdleTimeout: 30 * time.Minute})
	_, err := login(t, m, "alice")
	require.NoError(t, err)
	_, err = login(t, m, "bob")
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)
	kept, err := login(t, m, "carol")
	require.NoError(t, err)

	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists("session:user:alice"))
	assert.False(t, mr.Exists("session:user:bob"))
	members, err := mr.ZMembers("session:user:carol")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, members)
}

func TestRedisCommitDoesNotRestoreEvictedSession(t *testing.T) {
	m, mr, _ := newRedisManager(t, Config{MaxSessionsPerUser: 1})
	checkEvictedStaysEvicted(t, m)
	members, err := mr.ZMembers("session:user:alice")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisCommitDoesNotRestoreLoggedOutSession(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{})
	checkLoggedOutStaysLoggedOut(t, m)
}

func TestRedisCommitDoesNotRestoreExpiredAnonymousSession(t *testing.T) {
	m, mr, _ := newRedisManager(t, Config{IdleTimeout: 30 * time.Minute})
	sess := load(t, m, nil)
	sess.Set("cart", `{"1":1}`)
	cookie := commit(t, m, sess)
	require.NotNil(t, cookie)

	inflight := load(t, m, cookie)
	mr.FastForward(31 * time.Minute)
	inflight.Set("cart", `{"1":2}`)
	assert.Nil(t, commit(t, m, inflight))
	assert.False(t, mr.Exists("session:"+cookie.Value))
}

func TestRedisCommitUpdatesLiveSession(t *testing.T) {
	m, _, _ := newRedisManager(t, Config{})
	sess, err := login(t, m, "alice")
	require.NoError(t, err)
	cookie := commit(t, m, sess)

	again := load(t, m, cookie)
	again.Set("cart", `{"2":3}`)
	assert.NotNil(t, commit(t, m, again))
	assert.Equal(t, `{"2":3}`, load(t, m, cookie).Get("cart"))
}
