package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthDeps groups dependencies required by the health handler.
type HealthDeps struct {
	Logger *zap.Logger
	// Required checks turn the response into a 503 when they fail.
	Required map[string]HealthCheck
	// Optional checks are reported but never fail the probe.
	Optional map[string]HealthCheck
	Timeout  time.Duration
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	logger   *zap.Logger
	required map[string]HealthCheck
	optional map[string]HealthCheck
	timeout  time.Duration
}

// NewHealthHandler creates a health handler with the provided dependencies.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{
		logger:   logger,
		required: deps.Required,
		optional: deps.Optional,
		timeout:  timeout,
	}
}

// Register wires health routes onto the provided router.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
}

// Health reports the service and the state of its dependencies.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	status := fiber.StatusOK
	components := fiber.Map{}

	for name, check := range h.required {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			components[name] = "down"
			status = fiber.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	for name, check := range h.optional {
		if err := check(ctx); err != nil {
			components[name] = "degraded"
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"service":    "pinradar",
		"status":     overall,
		"components": components,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}
