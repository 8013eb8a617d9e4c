package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-service/internal/persistence"
)

const readinessTimeout = 2 * time.Second

// componentCheck pings one backing component of the request service.
type componentCheck struct {
	name string
	ping func(context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	checks      []componentCheck
}

// NewHealthHandler returns a handler probing the request store and the
// dedup cache.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		checks: []componentCheck{
			{name: "request_store", ping: postgres.Ping},
			{name: "dedup_cache", ping: redis.Ping},
		},
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports readiness by pinging every backing component.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	components := fiber.Map{}
	ready := true
	for _, check := range h.checks {
		if err := check.ping(ctx); err != nil {
			components[check.name] = err.Error()
			ready = false
			continue
		}
		components[check.name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more backing components unavailable",
				"details": components,
			},
		})
	}

	return c.JSON(fiber.Map{
		"status":     "ready",
		"service":    h.serviceName,
		"components": components,
	})
}
