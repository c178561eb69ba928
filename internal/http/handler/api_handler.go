package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PinRadar/internal/app/model"
	"github.com/sifan077/PinRadar/internal/app/service"
	"github.com/sifan077/PinRadar/internal/http/middleware"
	"go.uber.org/zap"
)

// HeartbeatProcessor is the discovery engine as seen by the API.
type HeartbeatProcessor interface {
	ProcessHeartbeat(ctx context.Context, userID string, lat, lon float64) (*service.DiscoveryResult, error)
}

// ActivityLister reads a user's diary.
type ActivityLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Activity, error)
}

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger       *zap.Logger
	Pins         service.PinService
	Interactions service.InteractionService
	Discovery    HeartbeatProcessor
	Activities   ActivityLister
	// Auth resolves the caller for every /api route.
	Auth fiber.Handler
	// HeartbeatLimit is applied to the discovery routes only. Optional.
	HeartbeatLimit fiber.Handler
}

// APIHandler implements the pin and discovery endpoints.
type APIHandler struct {
	logger       *zap.Logger
	pins         service.PinService
	interactions service.InteractionService
	discovery    HeartbeatProcessor
	activities   ActivityLister
	auth         fiber.Handler
	limit        fiber.Handler
	validate     *validator.Validate
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:       logger,
		pins:         deps.Pins,
		interactions: deps.Interactions,
		discovery:    deps.Discovery,
		activities:   deps.Activities,
		auth:         deps.Auth,
		limit:        deps.HeartbeatLimit,
		validate:     validator.New(),
	}
}

func passThrough(c *fiber.Ctx) error { return c.Next() }

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	auth, limit := h.auth, h.limit
	if auth == nil {
		auth = passThrough
	}
	if limit == nil {
		limit = passThrough
	}

	api := router.Group("/api", auth)
	{
		pins := api.Group("/pins")
		{
			pins.Post("/", h.CreatePin)
			pins.Get("/mine", h.ListMine)
			pins.Get("/:id", h.GetPin)
			pins.Delete("/:id", h.DeletePin)
			pins.Post("/:id/interactions", h.RecordInteraction)
		}

		discovery := api.Group("/discovery", limit)
		{
			discovery.Post("/heartbeat", h.Heartbeat)
			discovery.Get("/nearby", h.Nearby)
		}

		api.Get("/activities", h.ListActivities)
	}
}

// CreatePinRequest represents the request body for creating a pin.
type CreatePinRequest struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Directions  string   `json:"directions" validate:"max=500"`
	Details     *string  `json:"details,omitempty" validate:"omitempty,max=2000"`
	Latitude    *float64 `json:"lat" validate:"required"`
	Longitude   *float64 `json:"lon" validate:"required"`
	Category    string   `json:"category,omitempty" validate:"omitempty,oneof=normal community paid"`
	VisibleFrom *string  `json:"visible_from,omitempty"`
	VisibleTo   *string  `json:"visible_to,omitempty"`
	TTLHours    int      `json:"ttl_hours,omitempty" validate:"min=0,max=8760"`
	NoExpiry    bool     `json:"no_expiry,omitempty"`
}

// PinResponse is the public shape of a pin.
type PinResponse struct {
	ID               string         `json:"id"`
	CreatedBy        string         `json:"created_by"`
	Title            string         `json:"title"`
	Directions       string         `json:"directions"`
	Details          *string        `json:"details,omitempty"`
	Latitude         float64        `json:"lat"`
	Longitude        float64        `json:"lon"`
	Geohash          string         `json:"geohash"`
	Category         model.Category `json:"category"`
	VisibleFrom      *string        `json:"visible_from,omitempty"`
	VisibleTo        *string        `json:"visible_to,omitempty"`
	LikeCount        int            `json:"like_count"`
	ReportCount      int            `json:"report_count"`
	PassThroughCount int            `json:"pass_through_count"`
	ExpiresAt        *time.Time     `json:"expires_at"`
	ExtensionCount   int            `json:"extension_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

func newPinResponse(p *model.Pin) PinResponse {
	return PinResponse{
		ID:               p.ID,
		CreatedBy:        p.CreatedBy,
		Title:            p.Title,
		Directions:       p.Directions,
		Details:          p.Details,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		Geohash:          p.Geohash,
		Category:         p.Category,
		VisibleFrom:      p.VisibleFrom,
		VisibleTo:        p.VisibleTo,
		LikeCount:        p.LikeCount,
		ReportCount:      p.ReportCount,
		PassThroughCount: p.PassThroughCount,
		ExpiresAt:        p.ExpiresAt,
		ExtensionCount:   p.ExtensionCount,
		CreatedAt:        p.CreatedAt,
	}
}

// CreatePin handles POST /api/pins
func (h *APIHandler) CreatePin(c *fiber.Ctx) error {
	var req CreatePinRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	pin, err := h.pins.CreatePin(c.UserContext(), service.CreatePinInput{
		OwnerID:     middleware.UserID(c),
		Title:       req.Title,
		Directions:  req.Directions,
		Details:     req.Details,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		Category:    model.Category(req.Category),
		VisibleFrom: req.VisibleFrom,
		VisibleTo:   req.VisibleTo,
		TTL:         time.Duration(req.TTLHours) * time.Hour,
		NoExpiry:    req.NoExpiry,
	})
	if err != nil {
		return h.fail(c, "create pin", err)
	}

	return c.Status(fiber.StatusCreated).JSON(newPinResponse(pin))
}

// ListMine handles GET /api/pins/mine
func (h *APIHandler) ListMine(c *fiber.Ctx) error {
	limit := 20
	offset := 0
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
		limit = parsed
	}
	if parsed := c.QueryInt("offset"); parsed > 0 {
		offset = parsed
	}

	pins, err := h.pins.ListMine(c.UserContext(), middleware.UserID(c), limit, offset)
	if err != nil {
		return h.fail(c, "list pins", err)
	}

	response := make([]PinResponse, len(pins))
	for i := range pins {
		response[i] = newPinResponse(&pins[i])
	}
	return c.JSON(fiber.Map{
		"pins":   response,
		"limit":  limit,
		"offset": offset,
		"count":  len(response),
	})
}

// GetPin handles GET /api/pins/:id
func (h *APIHandler) GetPin(c *fiber.Ctx) error {
	pin, err := h.pins.GetPin(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "get pin", err)
	}
	return c.JSON(newPinResponse(pin))
}

// DeletePin handles DELETE /api/pins/:id
func (h *APIHandler) DeletePin(c *fiber.Ctx) error {
	if err := h.pins.DeletePin(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return h.fail(c, "delete pin", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// InteractionRequest represents the request body for an interaction.
type InteractionRequest struct {
	Kind string `json:"kind" validate:"required,oneof=like unlike report unreport hide"`
}

// RecordInteraction handles POST /api/pins/:id/interactions
func (h *APIHandler) RecordInteraction(c *fiber.Ctx) error {
	var req InteractionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	counters, err := h.interactions.RecordInteraction(c.UserContext(), middleware.UserID(c), c.Params("id"), model.InteractionKind(req.Kind))
	if err != nil {
		return h.fail(c, "record interaction", err)
	}
	return c.JSON(counters)
}

// HeartbeatRequest is a position report.
type HeartbeatRequest struct {
	Latitude  *float64 `json:"lat" validate:"required"`
	Longitude *float64 `json:"lon" validate:"required"`
}

// Heartbeat handles POST /api/discovery/heartbeat
func (h *APIHandler) Heartbeat(c *fiber.Ctx) error {
	var req HeartbeatRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	return h.discover(c, *req.Latitude, *req.Longitude)
}

// Nearby handles GET /api/discovery/nearby?lat=&lon=
func (h *APIHandler) Nearby(c *fiber.Ctx) error {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		return badRequest("lat and lon query parameters are required")
	}
	return h.discover(c, lat, lon)
}

func (h *APIHandler) discover(c *fiber.Ctx, lat, lon float64) error {
	result, err := h.discovery.ProcessHeartbeat(c.UserContext(), middleware.UserID(c), lat, lon)
	if err != nil {
		return h.fail(c, "heartbeat", err)
	}
	return c.JSON(result)
}

// ListActivities handles GET /api/activities
func (h *APIHandler) ListActivities(c *fiber.Ctx) error {
	if h.activities == nil {
		return c.JSON(fiber.Map{"activities": []model.Activity{}, "count": 0})
	}

	limit := 50
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
		limit = parsed
	}

	activities, err := h.activities.ListByUser(c.UserContext(), middleware.UserID(c), limit)
	if err != nil {
		return h.fail(c, "list activities", fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err))
	}

	type activityResponse struct {
		PinID     string    `json:"pin_id"`
		Type      string    `json:"type"`
		Detail    string    `json:"detail,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	response := make([]activityResponse, len(activities))
	for i, a := range activities {
		response[i] = activityResponse{PinID: a.PinID, Type: a.ActivityType, Detail: a.Detail, CreatedAt: a.CreatedAt}
	}
	return c.JSON(fiber.Map{"activities": response, "count": len(response)})
}

// bind parses and validates a JSON body into out.
func (h *APIHandler) bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return badRequest("invalid request body")
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return badRequest("invalid field: " + verrs[0].Field())
		}
		return badRequest("invalid request body")
	}
	return nil
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// ErrorHandler renders errors that escape handlers as JSON.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code, msg = fe.Code, fe.Message
		} else {
			logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

// fail maps service errors onto HTTP statuses.
func (h *APIHandler) fail(c *fiber.Ctx, op string, err error) error {
	status, body := fiber.StatusInternalServerError, fiber.Map{"error": "internal server error"}

	switch {
	case errors.Is(err, service.ErrInvalidCoordinate),
		errors.Is(err, service.ErrInvalidWindow),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidInteraction),
		errors.Is(err, service.ErrInvalidInput):
		status, body = fiber.StatusBadRequest, fiber.Map{"error": err.Error()}
	case errors.Is(err, service.ErrNotFound):
		status, body = fiber.StatusNotFound, fiber.Map{"error": "pin not found"}
	case errors.Is(err, service.ErrForbidden):
		status, body = fiber.StatusForbidden, fiber.Map{"error": "pin belongs to another user"}
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		status, body = fiber.StatusServiceUnavailable, fiber.Map{"error": "store unavailable", "retryable": true}
	}

	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("op", op),
			zap.String("user_id", middleware.UserID(c)),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err))
	}
	return c.Status(status).JSON(body)
}
