package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// APIRateLimit returns a rate limiter for API endpoints keyed by user,
// falling back to the client IP.
func APIRateLimit(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := UserID(c); userID != "" && userID != AnonymousUser {
				return fmt.Sprintf("api:user:%s", userID)
			}
			return fmt.Sprintf("api:ip:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "API rate limit exceeded. Please slow down your requests.")
		},
	})
}
