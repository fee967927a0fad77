package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/services"
)

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	service *services.Job
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.Job) *JobHandler {
	return &JobHandler{service: s}
}

// CreateJob handles the request to create a new job
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	kind, err := models.ParseJobKind(req.Kind)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	var job *models.Job
	switch kind {
	case models.JobKindCut:
		if req.URL == "" {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput("url is required for cut jobs"))
		}
		mode := models.CutMode(req.Mode)
		if mode == "" {
			mode = models.CutModeSimple
		}
		if mode != models.CutModeSimple && mode != models.CutModeAuto {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput(fmt.Sprintf("invalid cut mode: %s", req.Mode)))
		}
		job, err = h.service.CreateCut(c.Context(), req.URL, mode, req.Start, req.End)
	case models.JobKindUpscale:
		if req.FilePath == "" {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput("file_path is required for upscale jobs"))
		}
		job, err = h.service.CreateUpscale(c.Context(), req.FilePath)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).
		JSON(Response{
			Slug: SuccessSlug,
			Data: job,
		})
}

// GetJob handles the request to get a single job
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	job, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).
				JSON(errNotFound(fmt.Sprintf("job %s not found", id)))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// ListJobs handles the request to list jobs
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	opts := &models.ListOptions{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseJobStatus(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput(err.Error()))
		}
		opts.Status = &status
	}
	if raw := c.Query("kind"); raw != "" {
		kind, err := models.ParseJobKind(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput(err.Error()))
		}
		opts.Kind = &kind
	}

	jobs, err := h.service.List(c.Context(), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: jobs,
	})
}

// RetryJob handles the request to resubmit a failed or canceled job
func (h *JobHandler) RetryJob(c *fiber.Ctx) error {
	id := c.Params("id")

	job, err := h.service.Retry(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).
				JSON(errNotFound(fmt.Sprintf("job %s not found", id)))
		}
		return c.Status(fiber.StatusConflict).
			JSON(errInvalidInput(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// CancelJob handles the request to cancel a job
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id := c.Params("id")

	job, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).
				JSON(errNotFound(fmt.Sprintf("job %s not found", id)))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// DeleteJob handles the request to delete a job and its local files
func (h *JobHandler) DeleteJob(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).
				JSON(errNotFound(fmt.Sprintf("job %s not found", id)))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
	})
}
