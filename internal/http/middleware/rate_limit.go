package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	// Timeout bounds the Redis round trip; past it the request is let through.
	Timeout time.Duration
}

// DefaultRateLimitConfig is 120 heartbeats per user per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 120,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit:heartbeat",
		Timeout:     100 * time.Millisecond,
	}
}

// RateLimit counts requests per user in fixed windows stored in Redis. It
// must run after Auth. Redis failures fail open.
func RateLimit(client redis.UniversalClient, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 100 * time.Millisecond
	}

	return func(c *fiber.Ctx) error {
		if client == nil || config.MaxRequests <= 0 {
			return c.Next()
		}

		subject := UserID(c)
		if subject == "" {
			subject = c.IP()
		}

		now := time.Now()
		window := now.UnixNano() / int64(config.Window)
		key := config.KeyPrefix + ":" + subject + ":" + strconv.FormatInt(window, 10)
		resetAt := time.Unix(0, (window+1)*int64(config.Window))

		ctx, cancel := context.WithTimeout(c.UserContext(), config.Timeout)
		defer cancel()

		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, config.Window)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("rate limit redis error", zap.String("key", key), zap.Error(err))
			return c.Next()
		}

		count := int(incr.Val())
		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, config.MaxRequests-count)))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > config.MaxRequests {
			retry := int(time.Until(resetAt).Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":     "rate limit exceeded",
				"retryable": true,
			})
		}

		return c.Next()
	}
}
