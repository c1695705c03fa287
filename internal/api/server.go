// Package api exposes the policy agent over HTTP: chat turns, fact-checks,
// target-file resolution, research, repository browsing and run history,
// plus the GitHub webhook and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/health"
	"github.com/p-blackswan/policy-agent/internal/metrics"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	TLSCert     string
	TLSKey      string
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Chat      Chatter
	// ChatTools lists the tool names the chat agent may call.
	ChatTools []string
	FactCheck FactChecker
	Resolver  Resolver
	Research  Researcher
	Files     Files
	Runs      RunStore
	Webhook   http.Handler
	Health    *health.Checker
	Metrics   *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
		BodyLimit:             8 * 1024 * 1024,
		UnescapePath:          true,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, deps)
	s.setupRoutes(newHandlers(deps, logger))
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, deps Deps) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestIDMiddleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))
	s.app.Use(auditMiddleware(deps.Runs, deps.Metrics, s.logger))
}

func (s *Server) setupRoutes(h *handlers) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if h.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(h.deps.Metrics.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	if h.deps.Webhook != nil {
		s.app.Post(webhookPath, adaptor.HTTPHandler(h.deps.Webhook))
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/chat", h.Chat)
	v1.Post("/chat/stream", h.ChatStream)
	v1.Get("/chat/status", h.ChatStatus)
	v1.Post("/factcheck", h.FactCheck)
	v1.Post("/resolve", h.Resolve)
	v1.Post("/research", h.Research)
	v1.Get("/files", h.ListFiles)
	v1.Get("/files/*", h.GetFile)
	v1.Get("/runs", h.ListRuns)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":3001"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
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

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    http.StatusText(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
