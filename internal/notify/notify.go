// Package notify posts Slack messages when the agent opens or updates a draft
// pull request and when a fact-check comment is published.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/requestid"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack sends notifications to one channel. A nil *Slack is a valid no-op
// notifier.
type Slack struct {
	api     BotAPI
	channel string
	limiter *RateLimiter
	logger  zerolog.Logger
}

// NewSlack returns a notifier posting to channel, or nil when botToken or
// channel is empty.
func NewSlack(botToken, channel string, logger zerolog.Logger) *Slack {
	if botToken == "" || channel == "" {
		return nil
	}
	return newSlack(slack.New(botToken), channel, logger)
}

func newSlack(api BotAPI, channel string, logger zerolog.Logger) *Slack {
	return &Slack{
		api:     api,
		channel: channel,
		limiter: NewRateLimiter(5, time.Minute),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// PullRequestUpdated announces a draft PR change.
func (s *Slack) PullRequestUpdated(ctx context.Context, pr *github.PullRequest) {
	if s == nil || pr == nil {
		return
	}
	s.post(ctx, pr.HTMLURL, PullRequestBlocks(pr), fmt.Sprintf("Draft PR updated: %s", pr.HTMLURL))
}

// FactCheckPosted announces a published fact-check comment.
func (s *Slack) FactCheckPosted(ctx context.Context, prURL, commentURL string) {
	if s == nil {
		return
	}
	s.post(ctx, prURL, FactCheckBlocks(prURL, commentURL), fmt.Sprintf("Fact-check posted: %s", commentURL))
}

func (s *Slack) post(ctx context.Context, key string, blocks []slack.Block, fallback string) {
	logger := requestid.Logger(ctx, s.logger)
	if !s.limiter.Allow(key) {
		logger.Warn().Str("key", key).Msg("notification rate limited")
		return
	}
	_, ts, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	if err != nil {
		logger.Error().Err(err).Str("channel", s.channel).Msg("slack notification failed")
		return
	}
	logger.Debug().Str("channel", s.channel).Str("ts", ts).Msg("slack notification sent")
}
