package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/retry"
	"github.com/p-blackswan/policy-agent/pkg/tokenstore"
)

const defaultAPIURL = "https://api.github.com/"

// AppConfig configures GitHub App authentication.
type AppConfig struct {
	AppID int64
	// PrivateKey holds PEM bytes; when empty PrivateKeyPath is read.
	PrivateKey     []byte
	PrivateKeyPath string
	// APIURL overrides https://api.github.com/ (GHES or a test server).
	APIURL  string
	Timeout time.Duration
	Store   tokenstore.Store
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// App authenticates as a GitHub App and hands out installation clients.
type App struct {
	appID      int64
	privateKey *rsa.PrivateKey
	tokenStore tokenstore.Store
	apiURL     *url.URL
	httpClient *http.Client
	timeout    time.Duration
	retry      retry.Config
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewApp parses the private key and validates the API URL. No network calls
// are made until an installation client is first used.
func NewApp(cfg AppConfig) (*App, error) {
	keyData := cfg.PrivateKey
	if len(keyData) == 0 {
		if cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("github app: no private key configured")
		}
		var err error
		keyData, err = os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	apiURL, err := parseAPIURL(cfg.APIURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	store := cfg.Store
	if store == nil {
		store = tokenstore.NewMemoryStore()
	}

	return &App{
		appID:      cfg.AppID,
		privateKey: key,
		tokenStore: store,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		retry:      retry.DefaultConfig(),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "github").Logger(),
	}, nil
}

func parseAPIURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = defaultAPIURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub API URL %q: %w", raw, err)
	}
	return u, nil
}

// generateJWT creates a JWT for GitHub App authentication.
func (a *App) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

// Installation returns a lazily-initialized client source for one
// installation. The go-github client is built on first use and reused; each
// request resolves the installation token through the token store.
func (a *App) Installation(installationID int64) *Installation {
	return &Installation{app: a, id: installationID}
}

// ClientSource yields an authenticated go-github client.
type ClientSource interface {
	Client(ctx context.Context) (*gh.Client, error)
}

// ClientSourceFunc adapts a function to ClientSource.
type ClientSourceFunc func(ctx context.Context) (*gh.Client, error)

func (f ClientSourceFunc) Client(ctx context.Context) (*gh.Client, error) { return f(ctx) }

// Installation is the ClientSource for a single GitHub App installation.
type Installation struct {
	app *App
	id  int64

	once   sync.Once
	client *gh.Client
}

// ID returns the installation ID.
func (i *Installation) ID() int64 { return i.id }

// Client implements ClientSource.
func (i *Installation) Client(_ context.Context) (*gh.Client, error) {
	i.once.Do(func() {
		c := gh.NewClient(&http.Client{
			Transport: &tokenTransport{app: i.app, installationID: i.id, base: http.DefaultTransport},
			Timeout:   i.app.timeout,
		})
		base := *i.app.apiURL
		c.BaseURL = &base
		i.client = c
	})
	return i.client, nil
}

// tokenTransport injects a fresh-or-cached installation token per request.
type tokenTransport struct {
	app            *App
	installationID int64
	base           http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.app.installationToken(req.Context(), t.installationID)
	if err != nil {
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+token)
	return t.base.RoundTrip(req2)
}
