package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Window is the span over which requests are counted. Per-resource limits
// are expressed in requests per Window.
const Window = time.Minute

// Limiter counts requests per key over a sliding Window and enforces an
// optional limit. A limit of zero or less means unlimited, but the request
// is still counted so that recent load stays observable.
type Limiter interface {
	// AllowWithDetails records one request for key. remaining is -1 and
	// resetAt is zero when limit is unlimited.
	AllowWithDetails(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)

	// GetCurrentUsage returns the number of requests recorded for key in
	// the current window.
	GetCurrentUsage(ctx context.Context, key string) (int64, error)

	// Reset forgets every request recorded for key.
	Reset(ctx context.Context, key string) error
}

// ResourceKey is the limiter key of a pooled resource.
func ResourceKey(resourceID uuid.UUID) string {
	return "resource:" + resourceID.String()
}

// NoopLimiter allows everything and remembers nothing.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

func (l *NoopLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	return 0, nil
}

func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}

// RedisLimiter implements distributed limiting with one sorted set per key,
// scored by request time in milliseconds.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func redisKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// AllowWithDetails trims the window, counts what is left and adds the new
// request in one pipeline. Denied requests are not recorded.
func (rl *RedisLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	k := redisKey(key)
	now := rl.now()
	windowStart := now.Add(-Window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, k)
	oldestCmd := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(countCmd.Val())
	if limit > 0 && count >= limit {
		resetAt := now.Add(Window)
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(Window)
		}
		return false, 0, resetAt, nil
	}

	pipe = rl.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()),
	})
	pipe.Expire(ctx, k, 2*Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to record request: %w", err)
	}

	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}
	resetAt := now.Add(Window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(Window)
	}
	return true, limit - count - 1, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RedisLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	k := redisKey(key)
	windowStart := rl.now().Add(-Window)

	if err := rl.client.ZRemRangeByScore(ctx, k, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, redisKey(key)).Err()
}

// LocalLimiter is the in-process limiter used when Redis is not configured.
// Limits are enforced with a token bucket refilled at limit per Window;
// usage is a plain count of request times inside the window.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

type localEntry struct {
	limiter *rate.Limiter
	limit   int
	hits    []time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
}

func (l *LocalLimiter) entry(key string) *localEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{}
		l.entries[key] = e
	}
	return e
}

func (e *localEntry) trim(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(e.hits) && !e.hits[i].After(cutoff) {
		i++
	}
	e.hits = e.hits[i:]
}

func (e *localEntry) bucket(limit int, now time.Time) *rate.Limiter {
	every := rate.Every(Window / time.Duration(limit))
	if e.limiter == nil {
		e.limiter = rate.NewLimiter(every, limit)
	} else if e.limit != limit {
		e.limiter.SetLimitAt(now, every)
		e.limiter.SetBurstAt(now, limit)
	}
	e.limit = limit
	return e.limiter
}

func (l *LocalLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.entry(key)
	e.trim(now)

	if limit <= 0 {
		e.hits = append(e.hits, now)
		return true, -1, time.Time{}, nil
	}

	b := e.bucket(limit, now)
	if !b.AllowN(now, 1) {
		r := b.ReserveN(now, 1)
		resetAt := now.Add(r.DelayFrom(now))
		r.CancelAt(now)
		return false, 0, resetAt, nil
	}

	e.hits = append(e.hits, now)
	remaining := int(b.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, now.Add(Window), nil
}

func (l *LocalLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return 0, nil
	}
	e.trim(l.now())
	return int64(len(e.hits)), nil
}

func (l *LocalLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Cleanup drops keys with no requests left in the window and returns how
// many were removed.
func (l *LocalLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		e.trim(now)
		if len(e.hits) == 0 {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
