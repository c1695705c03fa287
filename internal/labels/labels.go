// Package labels picks repository labels for a pull request with a
// completion provider and applies them. Labelling is best-effort: failures
// are logged and never reach the caller.
package labels

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/prompts"
	"github.com/p-blackswan/policy-agent/internal/requestid"
)

// Repository is the label side of the repository gateway.
type Repository interface {
	ListLabels(ctx context.Context) ([]github.Label, error)
	AddLabels(ctx context.Context, number int, labels []string) error
}

var (
	quoted     = regexp.MustCompile(`"([^"]+)"`)
	codeFences = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Labeler selects and applies labels after a pull request is updated.
type Labeler struct {
	repo     Repository
	provider llm.Provider
	prompts  *prompts.Catalogue
	logger   zerolog.Logger
}

// New creates a Labeler. provider should already be bound to the label model.
func New(repo Repository, provider llm.Provider, catalogue *prompts.Catalogue, logger zerolog.Logger) *Labeler {
	return &Labeler{
		repo:     repo,
		provider: provider,
		prompts:  catalogue,
		logger:   logger.With().Str("component", "labels").Logger(),
	}
}

// PullRequestUpdated labels pr.
func (l *Labeler) PullRequestUpdated(ctx context.Context, pr *github.PullRequest) {
	logger := requestid.Logger(ctx, l.logger).With().Int("pr_number", pr.Number).Logger()

	available, err := l.repo.ListLabels(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("fetching repository labels failed")
		return
	}
	if len(available) == 0 {
		logger.Debug().Msg("repository has no labels")
		return
	}

	selected := l.Select(ctx, pr.Title, pr.Body, available)
	if len(selected) == 0 {
		logger.Info().Msg("no labels to apply")
		return
	}
	if err := l.repo.AddLabels(ctx, pr.Number, selected); err != nil {
		logger.Error().Err(err).Strs("labels", selected).Msg("applying labels failed")
		return
	}
	logger.Info().Strs("labels", selected).Msg("labels applied")
}

type labelChoice struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Select asks the model which of available fit the pull request. Only
// names of existing labels are returned; any failure yields none.
func (l *Labeler) Select(ctx context.Context, title, body string, available []github.Label) []string {
	choices := make([]labelChoice, 0, len(available))
	for _, lb := range available {
		desc := lb.Description
		if desc == "" {
			desc = "Label: " + lb.Name
		}
		choices = append(choices, labelChoice{Name: lb.Name, Description: desc})
	}
	labelsJSON, err := json.MarshalIndent(choices, "", "  ")
	if err != nil {
		return nil
	}

	system, err := l.prompts.Render(prompts.LabelsSystem, nil)
	if err != nil {
		l.logger.Error().Err(err).Msg("rendering label prompt failed")
		return nil
	}
	user, err := l.prompts.Render(prompts.LabelsUser, map[string]any{
		"Title":      title,
		"Body":       body,
		"LabelsJSON": string(labelsJSON),
	})
	if err != nil {
		l.logger.Error().Err(err).Msg("rendering label prompt failed")
		return nil
	}

	resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		l.logger.Error().Err(err).Msg("label selection completion failed")
		return nil
	}
	if strings.TrimSpace(resp.Text) == "" {
		l.logger.Warn().Msg("label selection returned empty content")
		return nil
	}

	names := make([]string, 0, len(available))
	for _, lb := range available {
		names = append(names, lb.Name)
	}
	return filterExisting(ParseSelection(resp.Text), names)
}

// ParseSelection reads label names from a model answer. It accepts a JSON
// array or an object with a "labels" array, repairs malformed JSON, and as a
// last resort collects every double-quoted string.
func ParseSelection(text string) []string {
	text = strings.TrimSpace(text)
	if m := codeFences.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	if out, ok := decodeSelection(text); ok {
		return out
	}
	if strings.HasPrefix(text, "[") || strings.HasPrefix(text, "{") {
		if repaired, err := jsonrepair.JSONRepair(text); err == nil {
			if out, ok := decodeSelection(repaired); ok {
				return out
			}
		}
	}

	var out []string
	for _, m := range quoted.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

func decodeSelection(text string) ([]string, bool) {
	var arr []string
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return arr, true
	}
	var obj struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj.Labels != nil {
		return obj.Labels, true
	}
	return nil, false
}

func filterExisting(selected, existing []string) []string {
	var out []string
	for _, s := range selected {
		if slices.Contains(existing, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
