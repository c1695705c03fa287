package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/policy-agent/internal/api"
	"github.com/p-blackswan/policy-agent/internal/bootstrap"
	"github.com/p-blackswan/policy-agent/internal/config"
	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal().Err(err).Msg("failed to load .env")
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("github_enabled", cfg.GitHubEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("store_enabled", cfg.StoreEnabled()).
		Msg("starting policy agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()
	svc, err := bootstrap.Build(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize services")
	}

	deps := api.Deps{
		Health:  svc.Health,
		Metrics: m,
	}
	// Interface fields stay nil for disabled features so handlers answer 503.
	if svc.Webhook != nil {
		deps.Webhook = svc.Webhook
	}
	if svc.Agent != nil {
		deps.Chat = svc.Agent
		deps.ChatTools = svc.Tools.Names()
	}
	if svc.FactCheck != nil {
		deps.FactCheck = svc.FactCheck
	}
	if svc.Resolver != nil {
		deps.Resolver = svc.Resolver
	}
	if svc.Gateway != nil {
		deps.Files = svc.Gateway
	}
	if svc.Store != nil {
		deps.Runs = svc.Store
		svc.Store.StartRetention(ctx, store.DefaultRetention(), time.Hour, logger)
	}
	if svc.Research != nil {
		deps.Research = svc.Research
	}

	authMode := cfg.AuthMode
	if cfg.APIKey == "" {
		logger.Warn().Msg("API_KEY not set, API authentication disabled")
		authMode = "none"
	}

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		Auth: api.AuthConfig{
			Mode:   authMode,
			APIKey: cfg.APIKey,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
		TLSCert:     cfg.TLSCert,
		TLSKey:      cfg.TLSKey,
	}, deps, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := svc.Close(); err != nil {
		logger.Error().Err(err).Msg("closing services failed")
	}
	logger.Info().Msg("policy agent stopped")
}
