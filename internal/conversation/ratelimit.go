package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplyLimiter gates how often the engine sends a given class of reply.
// Allow returns true when the action may proceed and records the attempt.
type ReplyLimiter interface {
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisReplyLimiter implements ReplyLimiter with SET NX EX, so the limit
// holds across engine instances.
type RedisReplyLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisReplyLimiter(client *redis.Client, prefix string) *RedisReplyLimiter {
	if prefix == "" {
		prefix = "renewal:ratelimit"
	}
	return &RedisReplyLimiter{client: client, prefix: prefix}
}

func (l *RedisReplyLimiter) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+":"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: rate limit check: %w", err)
	}
	return ok, nil
}

// MemoryReplyLimiter is the single-process fallback used when redis is not
// configured, and in tests.
type MemoryReplyLimiter struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplyLimiter() *MemoryReplyLimiter {
	return &MemoryReplyLimiter{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (l *MemoryReplyLimiter) Allow(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if expiry, ok := l.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.seen[key] = now.Add(ttl)
	return true, nil
}

var (
	_ ReplyLimiter = (*RedisReplyLimiter)(nil)
	_ ReplyLimiter = (*MemoryReplyLimiter)(nil)
)
