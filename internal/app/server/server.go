package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PinRadar/internal/app/service"
	inthttp "github.com/sifan077/PinRadar/internal/http/handler"
	"github.com/sifan077/PinRadar/internal/http/middleware"
	httpUtil "github.com/sifan077/PinRadar/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs.
type Dependencies struct {
	Logger       *zap.Logger
	Pins         service.PinService
	Interactions service.InteractionService
	Discovery    inthttp.HeartbeatProcessor
	Activities   inthttp.ActivityLister
	Tokens       *httpUtil.TokenSigner

	// Redis backs the heartbeat rate limiter; nil disables it.
	Redis              redis.UniversalClient
	HeartbeatRateLimit int

	Required map[string]inthttp.HealthCheck
	Optional map[string]inthttp.HealthCheck
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "pinradar",
		DisableStartupMessage: true,
		ErrorHandler:          inthttp.ErrorHandler(deps.Logger),
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
		BodyLimit:             64 * 1024,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	log := s.deps.Logger.Named("http")

	s.app.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.CORS(),
	)

	inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger:   log,
		Required: s.deps.Required,
		Optional: s.deps.Optional,
	}).Register(s.app)

	var limiter fiber.Handler
	if s.deps.Redis != nil {
		cfg := middleware.DefaultRateLimitConfig()
		if s.deps.HeartbeatRateLimit > 0 {
			cfg.MaxRequests = s.deps.HeartbeatRateLimit
		}
		limiter = middleware.RateLimit(s.deps.Redis, cfg, log)
	}

	inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:         log,
		Pins:           s.deps.Pins,
		Interactions:   s.deps.Interactions,
		Discovery:      s.deps.Discovery,
		Activities:     s.deps.Activities,
		Auth:           middleware.Auth(s.deps.Tokens),
		HeartbeatLimit: limiter,
	}).Register(s.app)
}
