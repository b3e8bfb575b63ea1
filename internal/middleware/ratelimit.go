package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"fetch/internal/cache"
	"fetch/internal/models"
	"fetch/internal/observability"

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

var errNoRedis = errors.New("redis client is nil")

// CheckRateLimit counts one request by caller against resource in a fixed
// window. It returns the count so far and whether the request is allowed.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, caller string, limit int, window time.Duration) (int64, bool, error) {
	if rdb == nil {
		return 0, false, errNoRedis
	}

	key := cache.RateLimitKey(resource, caller)
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, false, err
		}
	}
	return count, count <= int64(limit), nil
}

// RateLimit returns a Fiber middleware enforcing limit requests per window.
// It keys by authenticated account if present, otherwise by remote IP. A
// non-positive limit disables it.
func RateLimit(rdb *redis.Client, resource string, limit int, window time.Duration, policy FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}

		caller := "ip:" + c.IP()
		if id := UserID(c); id != "" {
			caller = "user:" + id
		}

		count, allowed, err := CheckRateLimit(c.UserContext(), rdb, resource, caller, limit, window)
		if err != nil {
			if policy == FailClosed {
				observability.Logger.WarnContext(c.UserContext(), "rate limit unavailable, failing closed",
					slog.String("resource", resource),
					slog.String("error", err.Error()),
				)
				return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewUnavailableError(err))
			}
			return c.Next()
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}
