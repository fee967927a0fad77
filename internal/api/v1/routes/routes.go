// Package routes configures the HTTP routes for the v1 API
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/api/v1/handlers"
)

// RegisterRoutes configures all the v1 routes
func RegisterRoutes(app *fiber.App, jobs *handlers.JobHandler, instance *handlers.InstanceHandler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")

	jobGroup := v1.Group("/jobs")
	jobGroup.Post("/", jobs.CreateJob)
	jobGroup.Get("/", jobs.ListJobs)
	jobGroup.Get("/:id", jobs.GetJob)
	jobGroup.Post("/:id/retry", jobs.RetryJob)
	jobGroup.Post("/:id/cancel", jobs.CancelJob)
	jobGroup.Delete("/:id", jobs.DeleteJob)

	v1.Get("/instance", instance.GetInstance)
}
