// Package bootstrap assembles the policy agent's services from Config. The
// HTTP service and the operator CLI share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/agent"
	"github.com/p-blackswan/policy-agent/internal/config"
	"github.com/p-blackswan/policy-agent/internal/factcheck"
	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/health"
	"github.com/p-blackswan/policy-agent/internal/labels"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/notify"
	"github.com/p-blackswan/policy-agent/internal/prompts"
	"github.com/p-blackswan/policy-agent/internal/research"
	"github.com/p-blackswan/policy-agent/internal/resolver"
	"github.com/p-blackswan/policy-agent/internal/store"
	"github.com/p-blackswan/policy-agent/internal/tool"
	"github.com/p-blackswan/policy-agent/pkg/tokenstore"
)

// Services holds everything built from Config. Fields for features whose
// configuration is missing are nil.
type Services struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Health  *health.Checker
	Prompts *prompts.Catalogue
	Router  *llm.Router

	GitHub    *github.MultiClient
	Gateway   *github.Gateway
	Webhook   *github.WebhookHandler
	Resolver  *resolver.Resolver
	Agent     *agent.Agent
	Tools     *tool.Registry
	FactCheck *factcheck.Pipeline
	Research  *research.Service
	Notifier  *notify.Slack
	Store     *store.Store
}

// Build wires the services. m may be nil.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*Services, error) {
	s := &Services{
		Config:  cfg,
		Metrics: m,
		Health:  health.NewChecker(logger),
	}

	catalogue, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}
	s.Prompts = catalogue

	router, err := newRouter(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}
	s.Router = router

	if cfg.StoreEnabled() {
		st, err := store.New(cfg.StorePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening run store: %w", err)
		}
		s.Store = st
		s.Health.RegisterOptional("store", func(ctx context.Context) health.Status {
			if err := st.Ping(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})
	}

	s.Notifier = notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, logger)

	if len(cfg.ResearchModels) > 0 {
		svc, err := research.New(router, catalogue, research.Config{
			Models:         cfg.ResearchModels,
			SynthesisModel: cfg.SynthesisModel,
			MaxTokens:      cfg.ChatMaxTokens,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.Research = svc
	}

	if cfg.GitHubWebhookSecret != "" {
		s.Webhook = github.NewWebhookHandler(cfg.GitHubWebhookSecret, logger)
	} else {
		logger.Info().Msg("GITHUB_WEBHOOK_SECRET not set, webhook disabled")
	}

	if !cfg.GitHubEnabled() {
		logger.Info().Msg("GitHub not configured, repository features disabled")
		return s, nil
	}
	if err := s.buildGitHub(cfg, logger); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) buildGitHub(cfg *config.Config, logger zerolog.Logger) error {
	app, err := github.NewApp(github.AppConfig{
		AppID:          cfg.GitHubAppID,
		PrivateKey:     []byte(cfg.GitHubPrivateKey),
		PrivateKeyPath: cfg.GitHubPrivateKeyPath,
		APIURL:         cfg.GitHubAPIURL,
		Timeout:        cfg.GitHubTimeout,
		Store:          tokenstore.NewMemoryStore(),
		Metrics:        s.Metrics,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("initializing GitHub App: %w", err)
	}

	orgs, err := cfg.ParseGitHubOrgs()
	if err != nil {
		return err
	}
	installs := make([]github.OrgInstallation, 0, len(orgs))
	for _, o := range orgs {
		installs = append(installs, github.OrgInstallation{Owner: o.Owner, InstallationID: o.InstallationID})
	}
	multi, err := github.NewMultiClient(app, installs, logger)
	if err != nil {
		return err
	}
	s.GitHub = multi

	gw, err := multi.Gateway(github.RepositoryRef{
		Owner:      cfg.GitHubTargetOwner,
		Repo:       cfg.GitHubTargetRepo,
		BaseBranch: cfg.GitHubBaseBranch,
	})
	if err != nil {
		return err
	}
	s.Gateway = gw
	s.Health.Register("github", func(ctx context.Context) health.Status {
		if _, err := gw.ListLabels(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	s.Resolver = resolver.New(gw, s.Router.Model(cfg.ResolverModel), s.Prompts, s.Metrics, logger)

	var observers []tool.PRObserver
	if cfg.LabelsEnabled {
		observers = append(observers, labels.New(gw, s.Router.Model(cfg.LabelModel), s.Prompts, logger))
	}
	if s.Notifier != nil {
		observers = append(observers, s.Notifier)
	}
	tools := tool.NewRegistry(
		tool.NewUpsertFile(gw, logger),
		tool.NewUpdatePR(gw, logger, observers...),
	)
	s.Tools = tools

	s.Agent = agent.New(s.Router.Model(cfg.ChatModel), tools, s.Prompts, agent.Config{
		Model:          cfg.ChatModel,
		MaxTokens:      cfg.ChatMaxTokens,
		MaxFileContent: cfg.MaxFileContent,
	}, logger)
	s.Agent.SetResolver(s.Resolver, gw)
	s.Agent.SetMetrics(s.Metrics)

	repos := factcheck.RepositoryFactoryFunc(func(owner, repo string) (factcheck.Repository, error) {
		g, err := multi.Gateway(github.RepositoryRef{Owner: owner, Repo: repo})
		if err != nil {
			return nil, err
		}
		return g, nil
	})
	s.FactCheck = factcheck.New(repos, s.Router, s.Prompts, factcheck.Config{
		Credential:  cfg.FactCheckCredential,
		Model:       cfg.FactCheckModel,
		MaxTokens:   cfg.FactCheckMaxTokens,
		Temperature: cfg.FactCheckTemperature,
	}, logger)
	s.FactCheck.SetMetrics(s.Metrics)
	if s.Notifier != nil {
		s.FactCheck.SetNotifier(s.Notifier)
	}

	if s.Webhook != nil {
		pipeline := s.FactCheck
		s.Webhook.OnFactCheck(func(ctx context.Context, trigger github.FactCheckTrigger) {
			res := pipeline.Run(ctx, factcheck.Request{PRURL: trigger.PRURL, Credential: cfg.FactCheckCredential})
			if s.Store != nil {
				run := &store.Run{Kind: store.KindFactCheck, Status: "ok", PRURL: trigger.PRURL, Detail: res.CommentURL}
				if res.Error != nil {
					run.Status = string(res.Error.Code)
					run.Detail = "requested by " + trigger.Requester
				}
				if err := s.Store.Record(ctx, run); err != nil {
					logger.Warn().Err(err).Msg("recording webhook fact-check failed")
				}
			}
		})
	}

	logger.Info().
		Str("repository", gw.Ref().String()).
		Strs("orgs", multi.Owners()).
		Bool("labels", cfg.LabelsEnabled).
		Msg("GitHub features enabled")
	return nil
}

func newRouter(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*llm.Router, error) {
	rc := llm.RouterConfig{
		DefaultModel: cfg.ChatModel,
		Timeout:      cfg.LLMTimeout,
		Metrics:      m,
		Logger:       logger,
	}
	common := []llm.Option{llm.WithTimeout(cfg.LLMTimeout), llm.WithLogger(logger)}

	if cfg.OpenRouterAPIKey != "" {
		rc.OpenRouter = llm.NewOpenRouterProvider(cfg.OpenRouterAPIKey, append(common, llm.WithBaseURL(cfg.OpenRouterBaseURL))...)
	}
	if cfg.OpenAIAPIKey != "" {
		rc.OpenAI = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, common...)
	}
	if cfg.AnthropicAPIKey != "" {
		rc.Anthropic = llm.NewAnthropicProvider(cfg.AnthropicAPIKey, common...)
	}
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiProvider(ctx, cfg.GeminiAPIKey, common...)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini provider: %w", err)
		}
		rc.Gemini = g
	}
	if rc.OpenRouter == nil && rc.OpenAI == nil && rc.Anthropic == nil && rc.Gemini == nil {
		logger.Warn().Msg("no completion provider configured, completions will fail")
	}
	return llm.NewRouter(rc), nil
}

// Close releases resources held by the services.
func (s *Services) Close() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
