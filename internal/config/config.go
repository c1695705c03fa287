package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// OrgInstallation pairs an org name with its GitHub App installation ID.
type OrgInstallation struct {
	Owner          string
	InstallationID int64
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":3001"`
	AuthMode       string `envconfig:"AUTH_MODE" default:"api-key"`
	APIKey         string `envconfig:"API_KEY"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"40"`
	CORSOrigins    string `envconfig:"POLICY_CORS_ORIGIN" default:"http://localhost:5174"`
	TLSCert        string `envconfig:"TLS_CERT"`
	TLSKey         string `envconfig:"TLS_KEY"`

	// GitHub App
	GitHubAppID          int64         `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64         `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string        `envconfig:"GITHUB_PRIVATE_KEY_PATH" default:"/app/secrets/github-key.pem"`
	GitHubPrivateKey     string        `envconfig:"GITHUB_PRIVATE_KEY"` // PEM contents; wins over the path
	GitHubWebhookSecret  string        `envconfig:"GITHUB_WEBHOOK_SECRET"`
	GitHubTargetOwner    string        `envconfig:"GITHUB_TARGET_OWNER"`
	GitHubTargetRepo     string        `envconfig:"GITHUB_TARGET_REPO"`
	GitHubBaseBranch     string        `envconfig:"GITHUB_BASE_BRANCH" default:"main"`
	GitHubAPIURL         string        `envconfig:"GITHUB_API_URL"` // GHES or test server; empty for github.com
	GitHubTimeout        time.Duration `envconfig:"GITHUB_TIMEOUT" default:"30s"`

	// Extra orgs whose PRs may be fact-checked: "owner:installationID,...".
	GitHubOrgs string `envconfig:"GITHUB_ORGS"`

	// Completion providers
	OpenRouterAPIKey  string        `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey   string        `envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	LLMTimeout        time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`

	ChatModel      string `envconfig:"CHAT_MODEL" default:"google/gemini-2.5-pro-preview-03-25"`
	ResolverModel  string `envconfig:"RESOLVER_MODEL" default:"google/gemini-2.5-pro-preview-03-25"`
	LabelModel     string `envconfig:"LABEL_MODEL" default:"google/gemini-2.5-pro-preview-03-25"`
	ChatMaxTokens  int    `envconfig:"CHAT_MAX_TOKENS" default:"8192"`
	LabelsEnabled  bool   `envconfig:"LABELS_ENABLED" default:"false"`
	PromptsFile    string `envconfig:"PROMPTS_FILE"`
	MaxFileContent int    `envconfig:"MAX_FILE_CONTENT" default:"50000"`

	// Fact-check
	FactCheckCredential  string  `envconfig:"FACTCHECK_CREDENTIAL"`
	FactCheckModel       string  `envconfig:"FACTCHECK_MODEL" default:"gpt-4o"`
	FactCheckMaxTokens   int     `envconfig:"FACTCHECK_MAX_TOKENS" default:"4000"`
	FactCheckTemperature float64 `envconfig:"FACTCHECK_TEMPERATURE" default:"0.7"`

	// Contextual research
	ResearchModels []string `envconfig:"RESEARCH_MODELS" default:"google/gemini-2.5-pro-preview-03-25"`
	SynthesisModel string   `envconfig:"SYNTHESIS_MODEL" default:"anthropic/claude-3-opus-20240229"`

	// Run history (SQLite); empty disables it.
	StorePath string `envconfig:"STORE_PATH"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`
}

// GitHubEnabled returns true if GitHub App credentials and a target repository are configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubInstallationID > 0 &&
		(c.GitHubPrivateKey != "" || c.GitHubPrivateKeyPath != "") &&
		c.GitHubTargetOwner != "" && c.GitHubTargetRepo != ""
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// StoreEnabled returns true if run history should be persisted.
func (c *Config) StoreEnabled() bool {
	return c.StorePath != ""
}

// ParseGitHubOrgs parses GITHUB_ORGS into OrgInstallation entries. The target
// repository owner is always included with GITHUB_INSTALLATION_ID.
func (c *Config) ParseGitHubOrgs() ([]OrgInstallation, error) {
	var orgs []OrgInstallation
	if c.GitHubTargetOwner != "" && c.GitHubInstallationID > 0 {
		orgs = append(orgs, OrgInstallation{Owner: c.GitHubTargetOwner, InstallationID: c.GitHubInstallationID})
	}
	if c.GitHubOrgs != "" {
		extra, err := parseOrgInstallations(c.GitHubOrgs)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, extra...)
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("no GitHub installations configured")
	}
	return orgs, nil
}

func parseOrgInstallations(raw string) ([]OrgInstallation, error) {
	parts := strings.Split(raw, ",")
	orgs := make([]OrgInstallation, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("invalid org format %q, expected owner:installationID", part)
		}
		owner := strings.TrimSpace(tokens[0])
		id, err := strconv.ParseInt(strings.TrimSpace(tokens[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid installation ID for %q: %w", owner, err)
		}
		orgs = append(orgs, OrgInstallation{Owner: owner, InstallationID: id})
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("GITHUB_ORGS is set but contains no valid entries")
	}
	return orgs, nil
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
