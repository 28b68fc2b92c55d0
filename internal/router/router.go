package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/aula-go-api/internal/config"
	"github.com/noah-isme/aula-go-api/internal/handler"
	"github.com/noah-isme/aula-go-api/internal/middleware"
	"github.com/noah-isme/aula-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SyncHandler       *handler.SyncHandler
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	GradeHandler      *handler.GradeHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	protected := api.Group("", jwtMiddleware)

	// Snapshot sync is reserved for administrators and rate limited; a run
	// touches every entity type in the class.
	if deps.SyncHandler != nil {
		syncGroup := protected.Group("",
			middleware.RequireRole("admin"),
			middleware.RateLimit("curriculum-sync", cfg.SyncRateLimit, cfg.SyncRateWindow),
		)
		deps.SyncHandler.Register(syncGroup)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(protected)
	}

	if deps.GradingHandler != nil {
		gradingGroup := protected.Group("", middleware.RequireRole("grader", "admin"))
		deps.GradingHandler.Register(gradingGroup)
	}

	if deps.GradeHandler != nil {
		deps.GradeHandler.Register(protected)
	}
}
