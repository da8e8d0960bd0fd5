// Package mgmt serves the operator API: candidate review, staging, exchange
// intake, merge preview, probes and metrics. Merges themselves stay on the CLI.
package mgmt

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/persona-curator/internal/health"
	"github.com/p-blackswan/persona-curator/internal/metrics"
	"github.com/p-blackswan/persona-curator/internal/ratelimit"
	"github.com/p-blackswan/persona-curator/internal/requestid"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr string
	AuthConfig AuthConfig
	// Limiter admits API requests per client; nil disables limiting.
	Limiter *ratelimit.Limiter
}

// Server is the management API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new management API server.
func NewServer(cfg ServerConfig, deps Deps, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if deps.Checker == nil {
		deps.Checker = health.NewChecker(logger)
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "mgmt_server").Logger(),
		config: cfg,
	}
	s.setupMiddleware(cfg, m)
	s.setupRoutes(NewHandlers(deps, logger), deps.Checker, m)
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.Middleware())

	// Audit and metrics (log every non-probe request)
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}
		route := c.Route().Path
		m.RecordRequest(route, strconv.Itoa(status))
		m.ObserveDuration(route, time.Since(start).Seconds())

		if !isProbe(c.Path()) {
			s.logger.Info().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Str("request_id", requestid.Get(c)).
				Dur("duration", time.Since(start)).
				Msg("mgmt api request")
		}
		return err
	})

	if cfg.Limiter != nil {
		s.app.Use(NewRateLimitMiddleware(cfg.Limiter, m))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, m *metrics.Metrics) {
	s.app.Get("/healthz", health.LivenessHandler())
	s.app.Get("/readyz", checker.ReadinessHandler())
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/api/v1")

	v1.Get("/candidates", h.ListCandidates)
	v1.Get("/candidates/:id", h.GetCandidate)
	v1.Post("/candidates", requireRole(RoleOperator), h.StageCandidate)
	v1.Post("/candidates/:id/decision", requireRole(RoleOperator), h.Decide)

	v1.Post("/exchanges", requireRole(RoleOperator), h.SubmitExchange)
	v1.Post("/channels/:channel/turns", requireRole(RoleOperator), h.Turn)

	v1.Get("/merge/preview", h.MergePreview)
	v1.Get("/health", h.HealthDetail)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}
		errType := "internal_error"
		if code < fiber.StatusInternalServerError {
			errType = "request_error"
		}
		return problemResponse(c, code, errType, http.StatusText(code), detail)
	}
}
