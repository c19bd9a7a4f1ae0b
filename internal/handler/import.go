package handler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/setlistvote/api/internal/model"
	"github.com/setlistvote/api/internal/service"
	"github.com/setlistvote/api/pkg/response"
)

type ImportHandler struct {
	service   *service.ImportService
	validator *validator.Validate
}

func NewImportHandler(svc *service.ImportService, v *validator.Validate) *ImportHandler {
	return &ImportHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/imports
func (h *ImportHandler) Start(c *fiber.Ctx) error {
	var req model.ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Enqueue(c.Context(), req.ExternalID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/imports/status/:jobId
func (h *ImportHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if job == nil {
		return response.NotFound(c, "Import job not found")
	}

	return response.OK(c, job)
}

// StatusByArtist handles GET /api/imports/artist/:artistId
func (h *ImportHandler) StatusByArtist(c *fiber.Ctx) error {
	artistID := c.Params("artistId")
	if artistID == "" {
		return response.ValidationError(c, "Artist ID is required", nil)
	}

	job, err := h.service.StatusByArtist(c.Context(), artistID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if job == nil {
		return response.NotFound(c, "No import found for artist")
	}

	return response.OK(c, job)
}

// Active handles GET /api/imports/active
func (h *ImportHandler) Active(c *fiber.Ctx) error {
	jobs, err := h.service.Active(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if jobs == nil {
		jobs = []*model.ImportJob{}
	}
	return response.OK(c, jobs)
}

// Cleanup handles POST /api/imports/cleanup
func (h *ImportHandler) Cleanup(c *fiber.Ctx) error {
	var req model.CleanupRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	deleted, err := h.service.Cleanup(c.Context(), req.OlderThanHours)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.CleanupResponse{Deleted: deleted})
}

// formatValidationErrors converts validator errors into field messages.
func formatValidationErrors(err error) []map[string]string {
	var details []map[string]string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, verr := range verrs {
			details = append(details, map[string]string{
				"field": verr.Field(),
				"error": fmt.Sprintf("failed on '%s' rule", verr.Tag()),
			})
		}
	}
	return details
}
