package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/processlens/backend/internal/infrastructure/logger"
)

// RequestID reuses the inbound id from header when present and echoes it back.
func RequestID(header string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var reqID string
		if header != "" {
			reqID = c.Get(header)
		}
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.SetUserContext(context.WithValue(c.UserContext(), "request_id", reqID))
		if header != "" {
			c.Set(header, reqID)
		}
		return c.Next()
	}
}

func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"query", string(c.Request().URI().QueryString()),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"user_agent", string(c.Request().Header.UserAgent()),
			"request_id", c.Locals("request_id"),
			"req_bytes", len(c.Request().Body()),
			"resp_bytes", len(c.Response().Body()),
		)
		return err
	}
}

func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("X-XSS-Protection", "0")
		return c.Next()
	}
}
