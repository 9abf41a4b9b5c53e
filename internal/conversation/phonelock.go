package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// PhoneLocker serializes processing per phone number. Two webhook deliveries
// for the same number must never mutate conversations concurrently; numbers
// are independent of each other.
type PhoneLocker interface {
	Lock(ctx context.Context, phone string) (func(), error)
}

// RedisPhoneLocker holds a redislock per phone number, so serialization holds
// across engine instances behind a load balancer.
type RedisPhoneLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisPhoneLocker(client *redis.Client, ttl time.Duration) *RedisPhoneLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPhoneLocker{
		locker: redislock.New(client),
		ttl:    ttl,
	}
}

func (l *RedisPhoneLocker) Lock(ctx context.Context, phone string) (func(), error) {
	lock, err := l.locker.Obtain(ctx, "renewal:phone:"+phone, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: obtain phone lock: %w", err)
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}

// MemoryPhoneLocker is the single-process fallback: one mutex per phone
// number, created on demand.
type MemoryPhoneLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryPhoneLocker() *MemoryPhoneLocker {
	return &MemoryPhoneLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryPhoneLocker) Lock(_ context.Context, phone string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[phone]
	if !ok {
		m = &sync.Mutex{}
		l.locks[phone] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

var (
	_ PhoneLocker = (*RedisPhoneLocker)(nil)
	_ PhoneLocker = (*MemoryPhoneLocker)(nil)
)
