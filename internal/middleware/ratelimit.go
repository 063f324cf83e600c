package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// Category is a named per-IP budget.
type Category struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	CategoryAuth    = Category{Name: "auth", Limit: 5, Window: 5 * time.Minute}
	CategoryUpload  = Category{Name: "upload", Limit: 10, Window: time.Hour}
	CategoryGeneral = Category{Name: "general", Limit: 200, Window: time.Hour}
)

// CheckRateLimit counts one hit against resource/id and reports whether it is
// within limit. When the limit is exceeded the remaining window is returned.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, time.Duration, error) {
	if rdb == nil {
		return false, 0, fmt.Errorf("redis client is nil")
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if cnt <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := rdb.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// A key without expiry would block forever; re-arm it.
		rdb.Expire(ctx, key, window)
		ttl = window
	}
	return false, ttl, nil
}

// RateLimiter applies category budgets keyed by client IP.
type RateLimiter struct {
	rdb     *redis.Client
	enabled bool
}

// NewRateLimiter returns a limiter; a disabled limiter passes every request.
func NewRateLimiter(rdb *redis.Client, enabled bool) *RateLimiter {
	return &RateLimiter{rdb: rdb, enabled: enabled}
}

// Limit returns a Fiber middleware enforcing cat with the FailOpen policy.
func (l *RateLimiter) Limit(cat Category) fiber.Handler {
	return l.LimitWithPolicy(cat, FailOpen)
}

// LimitWithPolicy returns a Fiber middleware enforcing cat with a specific failure policy.
func (l *RateLimiter) LimitWithPolicy(cat Category, policy FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l == nil || !l.enabled {
			return c.Next()
		}

		allowed, retryAfter, err := CheckRateLimit(c.UserContext(), l.rdb, cat.Name, "ip:"+c.IP(), cat.Limit, cat.Window)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit store unavailable, failing closed",
					slog.String("category", cat.Name),
					slog.String("path", c.Path()),
					slog.String("error", err.Error()),
				)
				return models.RespondWithError(c, fiber.StatusServiceUnavailable,
					models.NewTransientError(err))
			}
			return c.Next()
		}

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitError(fmt.Sprintf("rate limit exceeded for %s requests", cat.Name)))
		}
		return c.Next()
	}
}
