// Package lock guards discovery cycles across processes.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is a non-blocking mutual exclusion lock.
type Locker interface {
	// Acquire tries to take the lock. It returns false if another owner holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this Locker still owns it.
	Release(ctx context.Context) error
}

// Extender is a Locker whose hold expires and can be renewed.
type Extender interface {
	TTL() time.Duration
	// Extend pushes the expiry out by ttl. It returns false if the lock was lost.
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// Keepalive renews l every half TTL until stop is called or ctx ends. Locks
// that do not expire are left alone.
func Keepalive(ctx context.Context, l Locker, logger *slog.Logger) (stop func()) {
	e, ok := l.(Extender)
	if !ok || e.TTL() <= 0 {
		return func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.TTL() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := e.Extend(ctx, e.TTL())
				if err != nil {
					logger.Warn("extending lock", "error", err)
					continue
				}
				if !held {
					logger.Warn("lock lost before release")
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Noop always acquires. Used when no Redis address is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) (bool, error) { return true, nil }
func (Noop) Release(context.Context) error         { return nil }

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock is a SET NX PX lock with a random owner token, released and
// extended through Lua scripts so another owner's lock is never touched.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedisLock creates a lock on key that expires after ttl.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		ttl:    ttl,
	}
}

// TTL returns the expiry set on acquire.
func (l *RedisLock) TTL() time.Duration {
	return l.ttl
}

// Key returns the Redis key holding the lock.
func (l *RedisLock) Key() string {
	return l.key
}

// Acquire tries to take the lock with a fresh owner token.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release deletes the key if it still holds our token.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}

// Extend pushes the expiry out by ttl. It returns false if the lock was lost.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	if token == "" {
		return false, nil
	}

	n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extending lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
