package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/metrics"
)

// Family is the vendor a model id belongs to.
type Family string

const (
	FamilyOpenAI     Family = "openai"
	FamilyGoogle     Family = "google"
	FamilyAnthropic  Family = "anthropic"
	FamilyOpenRouter Family = "openrouter"
)

// FamilyOf classifies a model id such as "gpt-4o", "google/gemini-2.5-pro"
// or "anthropic/claude-3-opus". Unknown ids belong to OpenRouter.
func FamilyOf(model string) Family {
	switch {
	case strings.HasPrefix(model, "gpt-") || strings.Contains(model, "openai/"):
		return FamilyOpenAI
	case strings.HasPrefix(model, "gemini-") || strings.Contains(model, "google/"):
		return FamilyGoogle
	case strings.HasPrefix(model, "claude-") || strings.Contains(model, "anthropic/"):
		return FamilyAnthropic
	}
	return FamilyOpenRouter
}

// NormalizeModelID strips a "vendor/" prefix.
func NormalizeModelID(model string) string {
	if i := strings.Index(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

// RouterConfig wires the available backends. Any of them may be nil.
type RouterConfig struct {
	OpenRouter   Provider
	OpenAI       Provider
	Anthropic    Provider
	Gemini       Provider
	DefaultModel string
	// Timeout bounds each Complete call on top of the HTTP client timeout.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Router dispatches a request to the backend owning its model. A model whose
// vendor SDK is not configured goes through OpenRouter under its full id.
// Every failure leaving the router is a KindProvider error.
type Router struct {
	direct       map[Family]Provider
	openRouter   Provider
	defaultModel string
	timeout      time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		direct:       map[Family]Provider{},
		openRouter:   cfg.OpenRouter,
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "llm_router").Logger(),
	}
	if cfg.OpenAI != nil {
		r.direct[FamilyOpenAI] = cfg.OpenAI
	}
	if cfg.Anthropic != nil {
		r.direct[FamilyAnthropic] = cfg.Anthropic
	}
	if cfg.Gemini != nil {
		r.direct[FamilyGoogle] = cfg.Gemini
	}
	return r
}

func (r *Router) Name() string { return "router" }

// Route returns the backend and the model id to send for model.
func (r *Router) Route(model string) (Provider, string, error) {
	if model == "" {
		model = r.defaultModel
	}
	if p, ok := r.direct[FamilyOf(model)]; ok {
		return p, NormalizeModelID(model), nil
	}
	if r.openRouter != nil {
		return r.openRouter, model, nil
	}
	return nil, "", fmt.Errorf("no completion provider configured for model %q", model)
}

// Complete implements Provider.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p, model, err := r.Route(req.Model)
	if err != nil {
		return nil, perrors.Provider("llm.Complete", err)
	}
	req.Model = model

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.RecordCompletion(p.Name(), "error", elapsed.Seconds(), 0, 0)
		r.logger.Error().Err(err).
			Str("provider", p.Name()).
			Str("model", model).
			Dur("elapsed", elapsed).
			Msg("completion failed")
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", perrors.ErrTimeout, err)
		}
		return nil, perrors.Provider("llm."+p.Name(), err)
	}

	r.metrics.RecordCompletion(p.Name(), "ok", elapsed.Seconds(), resp.InputTokens, resp.OutputTokens)
	r.logger.Info().
		Str("provider", p.Name()).
		Str("model", model).
		Str("stop_reason", resp.StopReason).
		Int("tool_calls", len(resp.ToolCalls)).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Dur("elapsed", elapsed).
		Msg("completion finished")
	return resp, nil
}

// Model returns a Provider that sends requests without an explicit model to
// model instead of the router default.
func (r *Router) Model(model string) Provider {
	return boundProvider{next: r, model: model}
}

type boundProvider struct {
	next  Provider
	model string
}

func (b boundProvider) Name() string { return b.next.Name() }

func (b boundProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = b.model
	}
	return b.next.Complete(ctx, req)
}
