package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RequestLogConfig holds request logging configuration
type RequestLogConfig struct {
	Logger    logrus.FieldLogger
	SkipPaths []string // Paths to skip, e.g. health checks
}

// RequestLogger logs one structured entry per request
func RequestLogger(config RequestLogConfig) fiber.Handler {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one sent.
			if handlerErr := ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		entry := logger.WithFields(logrus.Fields{
			"method":      c.Method(),
			"path":        path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_id":     UserID(c),
			"ip":          c.IP(),
		})
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= fiber.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
		return nil
	}
}
