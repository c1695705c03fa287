package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/policy-agent/internal/github"
)

// truncate shortens s to max runes, appending "…" if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// PullRequestBlocks renders a draft PR update.
func PullRequestBlocks(pr *github.PullRequest) []slack.Block {
	title := pr.Title
	if title == "" {
		title = fmt.Sprintf("#%d", pr.Number)
	}
	text := fmt.Sprintf("📝 *<%s|%s>*\n*Branch:* `%s`", pr.HTMLURL, title, pr.HeadRef)

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
	if pr.Body != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", truncate(pr.Body, 280), false, false),
		))
	}
	return blocks
}

// FactCheckBlocks renders a fact-check publication.
func FactCheckBlocks(prURL, commentURL string) []slack.Block {
	text := fmt.Sprintf("🔍 *Fact-check posted*\n<%s|View comment> on <%s|pull request>", commentURL, prURL)
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
}

// RateLimiter implements a simple sliding window rate limiter per key.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow checks if an event for the given key is allowed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	times := r.requests[key]
	valid := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[key] = valid
		return false
	}

	r.requests[key] = append(valid, now)
	return true
}
