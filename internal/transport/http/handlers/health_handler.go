package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/pkg/api"
)

type HealthHandler struct {
	service ports.HealthService
	version string
	stream  api.StreamSettings
}

func NewHealthHandler(service ports.HealthService, version string, stream api.StreamSettings) *HealthHandler {
	return &HealthHandler{service: service, version: version, stream: stream}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	report := h.service.Check(c.UserContext())
	status := fiber.StatusOK
	if report.Status == services.HealthUnhealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

func (h *HealthHandler) Info(c *fiber.Ctx) error {
	stream := h.stream
	return c.JSON(api.ServerInfo{
		Name:    "ProcessLens API",
		Version: h.version,
		Docs:    "/health",
		Stream:  &stream,
	})
}
