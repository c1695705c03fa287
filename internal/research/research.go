// Package research verifies a statement by asking several models in
// parallel and synthesizing their answers with one more model.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/prompts"
	"github.com/p-blackswan/policy-agent/internal/requestid"
	"github.com/p-blackswan/policy-agent/internal/retry"
)

// Result holds the synthesis and the individual research answers in the
// order of Config.Models.
type Result struct {
	Synthesis    string   `json:"synthesis"`
	RawResponses []string `json:"rawResponses"`
}

// Config holds research configuration.
type Config struct {
	Models         []string
	SynthesisModel string
	MaxTokens      int
	Retry          retry.Config
}

// Service runs contextual research.
type Service struct {
	provider llm.Provider
	prompts  *prompts.Catalogue
	cfg      Config
	logger   zerolog.Logger
}

// New creates a Service. provider must route every configured model.
func New(provider llm.Provider, catalogue *prompts.Catalogue, cfg Config, logger zerolog.Logger) (*Service, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one research LLM client is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = func(err error) bool {
			return perrors.IsRetryable(err) || errors.Is(err, perrors.ErrProvider)
		}
	}
	return &Service{
		provider: provider,
		prompts:  catalogue,
		cfg:      cfg,
		logger:   logger.With().Str("component", "research").Logger(),
	}, nil
}

// Models returns the research models in query order.
func (s *Service) Models() []string {
	return append([]string(nil), s.cfg.Models...)
}

// Execute researches statement with every model in parallel, then
// synthesizes the answers. Any research failure fails the whole run.
func (s *Service) Execute(ctx context.Context, statement string) (*Result, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, perrors.Validation("research.Execute", "statement is required")
	}
	logger := requestid.Logger(ctx, s.logger)
	start := time.Now()

	query, err := s.prompts.Render(prompts.ResearchQuery, map[string]any{"Statement": statement})
	if err != nil {
		return nil, fmt.Errorf("render research prompt: %w", err)
	}

	responses := make([]string, len(s.cfg.Models))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range s.cfg.Models {
		g.Go(func() error {
			text, err := s.complete(gctx, model, query)
			if err != nil {
				return fmt.Errorf("research with %s: %w", model, err)
			}
			responses[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("contextual research failed")
		return nil, err
	}
	logger.Info().Int("responses", len(responses)).Msg("research responses received")

	prompt, err := s.prompts.Render(prompts.ResearchSynthesis, map[string]any{
		"Statement": statement,
		"Results":   responses,
	})
	if err != nil {
		return nil, fmt.Errorf("render synthesis prompt: %w", err)
	}
	synthesis, err := s.complete(ctx, s.cfg.SynthesisModel, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesis with %s: %w", s.cfg.SynthesisModel, err)
	}

	logger.Info().Dur("elapsed", time.Since(start)).Msg("research synthesized")
	return &Result{Synthesis: synthesis, RawResponses: responses}, nil
}

func (s *Service) complete(ctx context.Context, model, prompt string) (string, error) {
	return retry.DoValue(ctx, s.cfg.Retry, func(ctx context.Context) (string, error) {
		resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
			Model:     model,
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			MaxTokens: s.cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}
