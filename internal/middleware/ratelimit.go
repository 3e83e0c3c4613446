package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/pkg/response"
)

type RateLimiter struct {
	redis     *redis.Client
	keyPrefix string
	log       *logrus.Entry
}

// NewRateLimiter counts requests in Redis. A nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client, keyPrefix string, log logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		keyPrefix: keyPrefix,
		log:       logger.Component(log, "ratelimit"),
	}
}

// Limit creates a fixed-window rate limiting middleware keyed by user, or by
// client IP for anonymous requests.
func (rl *RateLimiter) Limit(name string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("%sratelimit:%s:%s", rl.keyPrefix, name, caller)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			rl.log.WithError(err).Warn("rate limit counter unavailable")
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// StartLimit limits generation start commands per hour
func (rl *RateLimiter) StartLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("start", maxPerHour, time.Hour)
}
