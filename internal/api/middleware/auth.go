package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/guiofsaints/procureflow-sub000/internal/auth"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
)

// AnonymousUser is the user ID of unauthenticated callers when auth is
// optional. It gets no cart and no stored conversations.
const AnonymousUser = tools.AnonymousUser

// UserIDHeader lets unauthenticated callers name their user when auth is
// optional.
const UserIDHeader = "X-User-ID"

// AuthConfig holds the auth middleware configuration
type AuthConfig struct {
	Tokens   *auth.TokenService
	Required bool // If false, requests without a valid token fall back to X-User-ID
}

// AuthMiddleware resolves the caller's user ID into c.Locals("user_id")
func AuthMiddleware(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization))

		// Also check for token in cookie (for web clients)
		if token == "" {
			token = c.Cookies("access_token")
		}

		if token != "" && config.Tokens != nil {
			claims, err := config.Tokens.Validate(token)
			if err == nil {
				c.Locals("user_id", claims.UserID)
				c.Locals("auth_method", "jwt")
				return c.Next()
			}
			if config.Required {
				return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
			}
		}

		if config.Required {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}

		userID := strings.TrimSpace(c.Get(UserIDHeader))
		if userID == "" {
			userID = AnonymousUser
		}
		c.Locals("user_id", userID)
		c.Locals("auth_method", "header")
		return c.Next()
	}
}

// UserID returns the user resolved by AuthMiddleware
func UserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}
