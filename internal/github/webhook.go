package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
)

// FactCheckCommand is the PR comment prefix that requests a fact-check.
const FactCheckCommand = "/factcheck"

// FactCheckTrigger is a fact-check requested from a PR comment.
type FactCheckTrigger struct {
	PRURL     string
	Requester string
}

// WebhookHandler handles GitHub webhook events.
type WebhookHandler struct {
	secret      []byte
	logger      zerolog.Logger
	onFactCheck func(ctx context.Context, trigger FactCheckTrigger)
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: []byte(secret),
		logger: logger.With().Str("component", "github.webhook").Logger(),
	}
}

// OnFactCheck sets the handler run for "/factcheck" PR comments. It runs
// asynchronously after the webhook has been acknowledged.
func (w *WebhookHandler) OnFactCheck(fn func(ctx context.Context, trigger FactCheckTrigger)) {
	w.onFactCheck = fn
}

// ServeHTTP handles incoming webhook requests.
func (w *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Deliveries must be signed. Without a secret nothing is accepted.
	if len(w.secret) == 0 {
		w.logger.Warn().Msg("webhook secret not configured, rejecting delivery")
		http.Error(rw, "webhook secret not configured", http.StatusUnauthorized)
		return
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if err := gh.ValidateSignature(sig, payload, w.secret); err != nil {
		w.logger.Warn().Err(err).Msg("invalid webhook signature")
		http.Error(rw, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	w.logger.Info().Str("event", eventType).Str("delivery", r.Header.Get("X-GitHub-Delivery")).Msg("webhook received")

	switch eventType {
	case "issue_comment":
		var event gh.IssueCommentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			http.Error(rw, "invalid payload", http.StatusBadRequest)
			return
		}
		if trigger, ok := factCheckTrigger(&event); ok && w.onFactCheck != nil {
			w.logger.Info().Str("pr_url", trigger.PRURL).Str("requester", trigger.Requester).Msg("fact-check requested by comment")
			go w.onFactCheck(context.WithoutCancel(r.Context()), trigger)
		}

	case "ping":
		w.logger.Info().Msg("webhook ping")

	default:
		w.logger.Debug().Str("event", eventType).Msg("unhandled event type")
	}

	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "ok")
}

func factCheckTrigger(event *gh.IssueCommentEvent) (FactCheckTrigger, bool) {
	if event.GetAction() != "created" || !event.GetIssue().IsPullRequest() {
		return FactCheckTrigger{}, false
	}
	if !strings.HasPrefix(strings.TrimSpace(event.GetComment().GetBody()), FactCheckCommand) {
		return FactCheckTrigger{}, false
	}
	return FactCheckTrigger{
		PRURL:     event.GetIssue().GetHTMLURL(),
		Requester: event.GetComment().GetUser().GetLogin(),
	}, true
}
