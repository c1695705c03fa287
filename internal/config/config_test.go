// Package config tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setGitHubEnvs(t *testing.T) {
	t.Helper()
	envs := map[string]string{
		"GITHUB_APP_ID":           "12345",
		"GITHUB_INSTALLATION_ID":  "67890",
		"GITHUB_PRIVATE_KEY_PATH": "/tmp/test.pem",
		"GITHUB_TARGET_OWNER":     "team-mirai",
		"GITHUB_TARGET_REPO":      "policy",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Success(t *testing.T) {
	setGitHubEnvs(t)
	cfg, err := LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cfg.GitHubAppID)
	assert.Equal(t, "team-mirai", cfg.GitHubTargetOwner)
	assert.Equal(t, "main", cfg.GitHubBaseBranch)
	assert.True(t, cfg.GitHubEnabled())
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":3001", cfg.ListenAddr)
	assert.Equal(t, "api-key", cfg.AuthMode)
	assert.Equal(t, 30*time.Second, cfg.GitHubTimeout)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "gpt-4o", cfg.FactCheckModel)
	assert.Equal(t, 4000, cfg.FactCheckMaxTokens)
	assert.InDelta(t, 0.7, cfg.FactCheckTemperature, 1e-9)
	assert.Equal(t, 50000, cfg.MaxFileContent)
	assert.Equal(t, []string{"google/gemini-2.5-pro-preview-03-25"}, cfg.ResearchModels)
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.StoreEnabled())
}

func TestLoad_ResearchModelsList(t *testing.T) {
	t.Setenv("RESEARCH_MODELS", "gpt-4o,claude-3-opus-20240229")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "claude-3-opus-20240229"}, cfg.ResearchModels)
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.GitHubEnabled())

	cfg.SlackBotToken = "xoxb-test"
	assert.False(t, cfg.SlackEnabled(), "channel is required too")
	cfg.SlackChannel = "#policy"
	assert.True(t, cfg.SlackEnabled())

	cfg.StorePath = "runs.db"
	assert.True(t, cfg.StoreEnabled())
}

func TestParseGitHubOrgs(t *testing.T) {
	cfg := &Config{
		GitHubTargetOwner:    "team-mirai",
		GitHubInstallationID: 1,
		GitHubOrgs:           "other-org:2, third:3",
	}
	orgs, err := cfg.ParseGitHubOrgs()
	require.NoError(t, err)
	assert.Equal(t, []OrgInstallation{
		{Owner: "team-mirai", InstallationID: 1},
		{Owner: "other-org", InstallationID: 2},
		{Owner: "third", InstallationID: 3},
	}, orgs)

	cfg.GitHubOrgs = "broken"
	_, err = cfg.ParseGitHubOrgs()
	assert.Error(t, err)

	_, err = (&Config{}).ParseGitHubOrgs()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FACTCHECK_CREDENTIAL=from-file\nCHAT_MODEL=gpt-4o\n"), 0o600))

	t.Setenv("CHAT_MODEL", "claude-3-opus-20240229")
	t.Cleanup(func() { os.Unsetenv("FACTCHECK_CREDENTIAL") })
	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.FactCheckCredential)
	assert.Equal(t, "claude-3-opus-20240229", cfg.ChatModel, "existing env wins over .env")
}
