package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/remote"
)

// InstanceHandler handles HTTP requests for GPU instance state
type InstanceHandler struct {
	manager *remote.Manager
	engine  *pipeline.Engine
}

// NewInstanceHandler creates a new instance handler instance
func NewInstanceHandler(m *remote.Manager, e *pipeline.Engine) *InstanceHandler {
	return &InstanceHandler{manager: m, engine: e}
}

type instanceStatus struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	GPUActive  int    `json:"gpu_active"`
	GPUCap     int    `json:"gpu_cap"`
}

// GetInstance handles the request to get the rented instance's status
func (h *InstanceHandler) GetInstance(c *fiber.Ctx) error {
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: instanceStatus{
			InstanceID: h.manager.InstanceID(),
			Status:     h.manager.Status(c.Context()),
			GPUActive:  h.engine.Slots().ActiveGPU(),
			GPUCap:     h.engine.Slots().GPUCap(),
		},
	})
}
