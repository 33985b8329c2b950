package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
)

type CleanupHandler struct {
	service ports.AnalysisService
	logger  *logger.Logger
}

func NewCleanupHandler(service ports.AnalysisService, logger *logger.Logger) *CleanupHandler {
	return &CleanupHandler{service: service, logger: logger}
}

// Cleanup deletes finished analyses older than ?days (default 30).
func (h *CleanupHandler) Cleanup(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)

	h.logger.Infow("cleanup_request", "days", days, "request_id", c.Locals("request_id"))

	deleted, err := h.service.Cleanup(c.UserContext(), days)
	if err != nil {
		h.logger.Errorw("cleanup_failed", "days", days, "error", err)
		return toFiberError(err)
	}

	return c.JSON(api.CleanupReceipt{
		Message: fmt.Sprintf("Cleaned up %d old analyses", deleted),
		Deleted: deleted,
		Days:    days,
	})
}
