package llm

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

type options struct {
	name       string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func newOptions(name, model string, opts []Option) options {
	o := options{
		name:       name,
		model:      model,
		maxTokens:  defaultMaxTokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = o.logger.With().Str("component", "llm").Str("provider", o.name).Logger()
	return o
}

// Option configures a provider.
type Option func(*options)

// WithModel sets the model used when a request does not name one.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithHTTPClient replaces the HTTP client. Its Timeout bounds every call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithBaseURL points the provider at a different endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithName overrides the provider name reported in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the provider logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func (o options) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return o.model
}

func (o options) maxTokensFor(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return o.maxTokens
}
