// Package health tracks dependency health for the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

type check struct {
	fn       CheckFunc
	critical bool
}

// Report is the outcome of one readiness evaluation.
type Report struct {
	Status    Status            `json:"status"`
	Checks    map[string]Status `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Ready reports whether no critical dependency is down.
func (r Report) Ready() bool {
	return r.Status != StatusDown
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]check
	last    Report
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]check),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a critical check: when it reports down the service is not ready.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.register(name, fn, true)
}

// RegisterOptional adds a check whose failure only degrades the service.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.register(name, fn, false)
}

func (c *Checker) register(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{fn: fn, critical: critical}
}

// Run executes all checks concurrently, caches and returns the report.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]Status, len(checks))
		overall = StatusOK
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, chk := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			s := chk.fn(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			results[name] = s
			switch {
			case s == StatusDown && chk.critical:
				overall = StatusDown
			case s != StatusOK && overall == StatusOK:
				overall = StatusDegraded
			}
			if s != StatusOK {
				c.logger.Warn().Str("check", name).Str("status", string(s)).Msg("dependency unhealthy")
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: overall, Checks: results, CheckedAt: time.Now().UTC()}
	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// IsReady returns true if no critical check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.Run(ctx).Ready()
}

// Last returns the most recent report without running checks.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
