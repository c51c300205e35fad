package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ziflex/lecho/v3"
)

// Locker guards a top-up request while it is in flight so a double tap does
// not reach the gateway twice.
type Locker interface {
	// TryLock returns ok=false when the key is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == until {
			delete(l.held, key)
		}
	}, true, nil
}

// only the owner token may release the lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares the guard between instances. A lock whose release fails
// stays held until its TTL runs out.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *lecho.Logger
}

func NewRedisLocker(client *redis.Client, logger *lecho.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: "balancehub:topup:inflight:", logger: logger}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{l.prefix + key}, token).Err(); err != nil {
			l.logger.Errorf("Failed to release in-flight lock key:%s, held until ttl %s: %v", key, ttl, err)
		}
	}, true, nil
}
