package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-service/internal/api/http/handlers"
	"github.com/spec-kit/request-service/internal/auth"
	"github.com/spec-kit/request-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Requests       *handlers.RequestsHandler
	SLA            *handlers.SLAHandler
	Jobs           *handlers.JobsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	requests := app.Group("/requests", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	requests.Post("", cfg.Requests.Create)
	requests.Get("", cfg.Requests.List)
	requests.Get("/:id", cfg.Requests.Get)
	requests.Patch("/:id", cfg.Requests.Edit)
	requests.Delete("/:id", cfg.Requests.Delete)
	requests.Post("/:id/transition", cfg.Requests.Transition)
	requests.Post("/:id/assign", cfg.Requests.Assign)
	requests.Get("/:id/history", cfg.Requests.History)
	requests.Get("/:id/sla", cfg.SLA.Evaluate)
	requests.Post("/:id/sla/exemptions", cfg.SLA.GrantExemption)

	sla := app.Group("/sla", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleStaff, domain.RoleAdmin))
	sla.Get("/definitions", cfg.SLA.ListDefinitions)
	sla.Put("/definitions", cfg.SLA.UpsertDefinition)
	sla.Get("/stats", cfg.SLA.BreachStats)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Get("/jobs/dead-letters", cfg.Jobs.ListDeadLetters)
	admin.Get("/jobs/queues", cfg.Jobs.QueueDepth)
	admin.Post("/jobs/exports", cfg.Jobs.TriggerExport)
	admin.Get("/metrics", cfg.Jobs.Metrics)
}
