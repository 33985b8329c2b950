package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/core/services"
)

// toFiberError maps service errors onto HTTP statuses; unknown errors become 500.
func toFiberError(err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, services.ErrAnalysisNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Analysis not found")
	case errors.Is(err, services.ErrUploadTooLarge):
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, services.ErrEmptyUpload),
		errors.Is(err, services.ErrUnsupportedFormat),
		errors.Is(err, services.ErrInvalidCleanupDays):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}
