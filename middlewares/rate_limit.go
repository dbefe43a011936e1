package middlewares

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"paygate/pkg/resp"
	"paygate/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	// Allow records one hit and reports whether key is still within limit.
	// retryAfter is meaningful only when the hit is refused.
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RedisLimiter shares counters between instances: INCR, and EXPIRE on the
// first hit of a window.
type RedisLimiter struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{Client: client, Limit: limit, Window: window, Prefix: "paygate:rl:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.Prefix + key
	n, err := l.Client.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, err
	}
	if n == 1 {
		if err := l.Client.Expire(ctx, k, l.Window).Err(); err != nil {
			return true, 0, err
		}
	}
	if n <= int64(l.Limit) {
		return true, 0, nil
	}
	ttl, err := l.Client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = l.Window
	}
	return false, ttl, nil
}

// MemoryLimiter is the single-instance fallback used when no Redis is
// configured.
type MemoryLimiter struct {
	Limit  int
	Window time.Duration

	mu        sync.Mutex
	hits      map[string]*window
	nextSweep time.Time
	now       func() time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewMemoryLimiter(limit int, every time.Duration) *MemoryLimiter {
	return &MemoryLimiter{Limit: limit, Window: every, hits: map[string]*window{}, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	w, ok := l.hits[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(l.Window)}
		l.hits[key] = w
	}
	w.count++
	if w.count <= l.Limit {
		return true, 0, nil
	}
	return false, w.reset.Sub(now), nil
}

// sweep drops expired windows, at most once per window length.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for k, w := range l.hits {
		if !now.Before(w.reset) {
			delete(l.hits, k)
		}
	}
	l.nextSweep = now.Add(l.Window)
}

// RateLimit keys on the authenticated user when there is one, the client IP
// otherwise. Limiter errors let the request through.
func RateLimit(l Limiter, scope string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":ip:" + c.ClientIP()
		if uid := utils.CurrentUserID(c); uid != 0 {
			key = fmt.Sprintf("%s:user:%d", scope, uid)
		}

		ok, retry, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
			resp.TooManyRequests(c, "too many requests, try again later")
			return
		}
		c.Next()
	}
}
