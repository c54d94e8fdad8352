package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker guards a critical section per key. Booking uses it to keep two
// submissions for the same doctor slot from racing out of one portal.
type Locker interface {
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisKeyLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeyLocker shares locks across portal replicas.
func NewRedisKeyLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisKeyLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisKeyLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	key = "lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// the caller's ctx may already be done; release on a fresh one
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisKeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}

type localKeyLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewLocalKeyLocker is the single-process fallback when Redis is off.
func NewLocalKeyLocker(ttl time.Duration) Locker {
	return &localKeyLocker{held: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (l *localKeyLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if exp, ok := l.held[key]; ok && l.now().Before(exp) {
		l.mu.Unlock()
		return ErrLockNotAcquired
	}
	l.held[key] = l.now().Add(l.ttl)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}
