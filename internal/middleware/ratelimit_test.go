package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := CheckRateLimit(ctx, rdb, "auth", "ip:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "hit %d should pass", i+1)
	}

	allowed, retryAfter, err := CheckRateLimit(ctx, rdb, "auth", "ip:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	allowed, _, err = CheckRateLimit(ctx, rdb, "auth", "ip:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "other IPs keep their own budget")
}

func TestCheckRateLimit_WindowResets(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	_, _, _ = CheckRateLimit(ctx, rdb, "upload", "ip:a", 1, time.Hour)
	allowed, _, _ := CheckRateLimit(ctx, rdb, "upload", "ip:a", 1, time.Hour)
	assert.False(t, allowed)

	mr.FastForward(time.Hour + time.Second)

	allowed, _, err := CheckRateLimit(ctx, rdb, "upload", "ip:a", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckRateLimit_NilRedis(t *testing.T) {
	allowed, _, err := CheckRateLimit(context.Background(), nil, "auth", "ip:x", 1, time.Minute)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterMiddleware(t *testing.T) {
	t.Run("Disabled limiter passes", func(t *testing.T) {
		app := fiber.New()
		app.Get("/test", NewRateLimiter(nil, false).Limit(Category{Name: "x", Limit: 0, Window: time.Minute}), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("Exceeding budget yields 429 with Retry-After", func(t *testing.T) {
		_, rdb := newTestRedis(t)
		app := fiber.New()
		limiter := NewRateLimiter(rdb, true)
		app.Post("/auth/login", limiter.Limit(CategoryAuth), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		for i := 0; i < CategoryAuth.Limit; i++ {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			_ = resp.Body.Close()
		}

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "300", resp.Header.Get("Retry-After"))

		var body models.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, models.ErrTypeRateLimited, body.ErrorType)
	})

	t.Run("FailOpen with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/test", NewRateLimiter(nil, true).Limit(CategoryGeneral), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailClosed with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/sensitive", NewRateLimiter(nil, true).LimitWithPolicy(CategoryAuth, FailClosed), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sensitive", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
