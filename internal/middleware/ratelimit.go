package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/escrowdesk/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware counts requests per path and client IP in fixed windows.
// Counters live in Redis when rdb is set, otherwise in process memory.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	if limit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if rdb == nil {
		return limiter.New(limiter.Config{
			Max:          limit,
			Expiration:   window,
			KeyGenerator: rateLimitKey,
			LimitReached: limitReached,
		})
	}

	return func(c *fiber.Ctx) error {
		key := rateLimitKey(c)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return limitReached(c)
		}

		return c.Next()
	}
}

func rateLimitKey(c *fiber.Ctx) string {
	return fmt.Sprintf("rl:%s:%s", c.Path(), c.IP())
}

func limitReached(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
		Error:     "rate limit exceeded",
		RequestID: GetRequestID(c),
	})
}
