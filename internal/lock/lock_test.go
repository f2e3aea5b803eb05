package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLockExclusive(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "trenddrop:cycle", time.Minute)
	b := NewRedisLock(client, "trenddrop:cycle", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:trenddrop:cycle"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	// b never owned the lock, so its release must not free it.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:trenddrop:cycle"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:trenddrop:cycle"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "cycle", 10*time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	b := NewRedisLock(client, "cycle", 10*time.Second)
	ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be acquirable")

	// a's stale release must leave b's lock alone.
	require.NoError(t, a.Release(ctx))
	assert.True(t, mr.Exists(b.Key()))
}

func TestRedisLockExtend(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "cycle", 10*time.Second)
	extended, err := l.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "cannot extend a lock that was never acquired")

	ok, _ := l.Acquire(ctx)
	require.True(t, ok)

	extended, err = l.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, time.Minute, mr.TTL(l.Key()))
}

func TestKeepaliveRenewsRedisLock(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "cycle", 40*time.Millisecond)
	ok, _ := l.Acquire(ctx)
	require.True(t, ok)

	stop := Keepalive(ctx, l, nil)
	defer stop()

	mr.FastForward(30 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(l.Key()) == 40*time.Millisecond
	}, time.Second, 5*time.Millisecond, "keepalive should reset the expiry")
}

type countingLock struct {
	Noop
	mu    sync.Mutex
	calls int
	held  bool
}

func (c *countingLock) TTL() time.Duration { return 10 * time.Millisecond }

func (c *countingLock) Extend(context.Context, time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.held, nil
}

func (c *countingLock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestKeepaliveStops(t *testing.T) {
	l := &countingLock{held: true}
	stop := Keepalive(context.Background(), l, nil)
	require.Eventually(t, func() bool { return l.Calls() >= 2 }, time.Second, time.Millisecond)

	stop()
	n := l.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, l.Calls(), "no renewals after stop")
}

func TestKeepaliveGivesUpWhenLost(t *testing.T) {
	l := &countingLock{held: false}
	stop := Keepalive(context.Background(), l, nil)
	defer stop()

	require.Eventually(t, func() bool { return l.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, l.Calls())
}

func TestKeepaliveIgnoresNoop(t *testing.T) {
	stop := Keepalive(context.Background(), Noop{}, nil)
	stop()
}

func TestRedisLockUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err = NewRedisLock(client, "cycle", time.Second).Acquire(context.Background())
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var l Locker = Noop{}
	ok, err := l.Acquire(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, l.Release(context.Background()))
}
