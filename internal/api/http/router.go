package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dispute-service/internal/api/http/handlers"
	"github.com/spec-kit/dispute-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Users          *handlers.UsersHandler
	Contracts      *handlers.ContractsHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	users := api.Group("/users")
	users.Post("/", auth.RequireAdmin(), cfg.Users.Create)
	users.Get("/self", cfg.Users.Self)
	users.Patch("/self", cfg.Users.UpdateSelf)
	users.Get("/judges", cfg.Users.Judges)
	users.Get("/by-account/:account", cfg.Users.ByAccount)
	users.Get("/:id", cfg.Users.Get)
	users.Get("/:id/contracts", cfg.Users.Contracts)
	users.Delete("/:id", auth.RequireAdmin(), cfg.Users.Delete)

	contracts := api.Group("/contracts")
	contracts.Post("/", cfg.Contracts.Create)
	contracts.Get("/:id", cfg.Contracts.Get)
	contracts.Patch("/:id", cfg.Contracts.Update)
	contracts.Get("/:id/stages/:num", cfg.Contracts.Stage)
	contracts.Patch("/:id/stages/:num", cfg.Contracts.UpdateStage)

	events := api.Group("/events")
	events.Post("/", auth.RequireAdmin(), cfg.Events.Submit)
	events.Get("/", cfg.Events.List)
	events.Get("/:id", cfg.Events.Get)
	events.Post("/:id/seen", cfg.Events.MarkSeen)
}
