package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/core/ports"
)

type ProjectHandler struct {
	service ports.AnalysisService
}

func NewProjectHandler(service ports.AnalysisService) *ProjectHandler {
	return &ProjectHandler{service: service}
}

func (h *ProjectHandler) List(c *fiber.Ctx) error {
	skip := c.QueryInt("skip", 0)
	limit := c.QueryInt("limit", 10)
	if skip < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "skip must be non-negative")
	}

	projects, err := h.service.List(c.UserContext(), skip, limit)
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(projects)
}
