package api

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/requestid"
	"github.com/p-blackswan/policy-agent/internal/store"
)

const webhookPath = "/webhooks/github"

// isOperational reports whether path is an unauthenticated operational endpoint.
func isOperational(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode   string // "api-key" or "none"
	APIKey string
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header. The webhook authenticates by signature instead.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			return c.Next()
		}

		path := c.Path()
		if isOperational(path) || path == webhookPath || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		if cfg.APIKey != "" && strings.TrimPrefix(authHeader, "Bearer ") == cfg.APIKey {
			return c.Next()
		}

		logger.Warn().
			Str("path", path).
			Str("method", c.Method()).
			Msg("unauthorized request: invalid API key")

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_api_key", "Unauthorized",
			"Invalid API key")
	}
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

func (rl *rateLimiter) evict(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for k, v := range rl.clients {
		if now.Sub(v.lastSeen) > idle {
			delete(rl.clients, k)
		}
	}
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RPS
	}
	rl := &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.evict(10 * time.Minute)
		}
	}()

	return func(c *fiber.Ctx) error {
		if isOperational(c.Path()) {
			return c.Next()
		}
		if !rl.allow(c.IP()) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}

// requestIDMiddleware reuses a valid inbound X-Request-ID or mints one and
// carries it on the request context.
func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, id := requestid.FromHeader(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, id)
		c.Locals("request_id", id)
		return c.Next()
	}
}

// AuditSink receives one entry per API request.
type AuditSink interface {
	RecordAudit(ctx context.Context, e store.AuditEntry) error
}

// auditMiddleware logs every non-operational request, records request metrics and
// appends to the audit sink when one is configured.
func auditMiddleware(sink AuditSink, m *metrics.Metrics, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if isOperational(path) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := path
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		m.RecordRequest(route, strconv.Itoa(status), elapsed.Seconds())

		id, _ := c.Locals("request_id").(string)
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", id).
			Msg("api request")

		if sink != nil {
			entry := store.AuditEntry{
				RequestID: id,
				Method:    c.Method(),
				Path:      path,
				Status:    status,
				ClientIP:  c.IP(),
				Duration:  elapsed,
			}
			if aerr := sink.RecordAudit(context.WithoutCancel(c.UserContext()), entry); aerr != nil {
				logger.Warn().Err(aerr).Msg("audit write failed")
			}
		}
		return err
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
