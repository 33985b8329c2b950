package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/config"
)

// AdminAuth guards admin routes with X-Admin-Token or a bearer token. An empty
// admin_api_key leaves the routes open.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(apiKey)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}

		return c.Next()
	}
}
