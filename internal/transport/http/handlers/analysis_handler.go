package handlers

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
)

type AnalysisHandler struct {
	service   ports.AnalysisService
	logger    *logger.Logger
	maxUpload int64
}

func NewAnalysisHandler(service ports.AnalysisService, logger *logger.Logger, maxUpload int64) *AnalysisHandler {
	return &AnalysisHandler{service: service, logger: logger, maxUpload: maxUpload}
}

// Analyze accepts a multipart dataset upload and starts an analysis.
func (h *AnalysisHandler) Analyze(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded")
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		return toFiberError(fmt.Errorf("%w: %d bytes, limit %d", services.ErrUploadTooLarge, header.Size, h.maxUpload))
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Errorw("analysis_upload_open_failed", "filename", header.Filename, "error", err)
		return fiber.NewError(fiber.StatusBadRequest, "Could not read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Could not read uploaded file")
	}

	model := c.FormValue("model")
	if model == "" {
		model = c.Query("model")
	}

	id, err := h.service.Start(c.UserContext(), domain.Upload{
		ProjectName: c.FormValue("project_name"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Model:       model,
		Data:        data,
	})
	if err != nil {
		h.logger.Warnw("analysis_start_rejected", "filename", header.Filename, "error", err)
		return toFiberError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(api.AnalyzeResponse{
		TaskID:  id,
		Status:  "accepted",
		Message: "Analysis started successfully",
	})
}

// GetStatus serves both /analyze/:id and /status/:id.
func (h *AnalysisHandler) GetStatus(c *fiber.Ctx) error {
	snap, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(snap)
}
