// Package resolver maps a free-text edit request to the Markdown file it
// should modify.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/prompts"
)

// Source records what a Decision was based on.
type Source string

const (
	SourceRules    Source = "rules"
	SourceFilename Source = "filename"
	SourceFallback Source = "fallback"
)

// Decision is the resolved target file. Reason is a human-readable Japanese
// sentence that is fed into the agent's system prompt.
type Decision struct {
	TargetFilePath string `json:"targetFilePath"`
	Reason         string `json:"reason"`
	Source         Source `json:"source"`
}

// Repository is the read side of the gateway the resolver needs.
type Repository interface {
	ListMarkdownFiles(ctx context.Context, ref string) ([]string, error)
	GetFile(ctx context.Context, path, branch string) (*github.FileRecord, error)
}

const (
	reasonSuffixRules    = "（リポジトリのルールファイルに基づいて判断しました）"
	reasonSuffixFilename = "（ファイル名のみから判断しました）"
	defaultReasonRules   = "リポジトリのルールファイルに基づいて最適なファイルを判断しました"
	defaultReasonName    = "ファイル名から最適なファイルを判断しました"

	reasonNoFiles     = "リポジトリにMarkdownファイルが見つからないため、現在のファイルを使用します。"
	reasonListFailed  = "ファイル一覧を取得できなかったため、現在のファイルを使用します。"
	reasonLLMFailed   = "ファイルの自動選択に失敗したため、現在のファイルを使用します。"
	reasonUnparseable = "選択結果を読み取れなかったため、現在のファイルを使用します。"

	maxSelectionTokens = 1000
)

var (
	filePathLine = regexp.MustCompile(`ファイルパス[:：]\s*(.+)`)
	reasonLine   = regexp.MustCompile(`理由[:：]\s*(.+)`)
)

// Resolver picks the target file for a request. It never fails: every error
// degrades to the caller's current path with Source set to fallback.
type Resolver struct {
	repo     Repository
	provider llm.Provider
	prompts  *prompts.Catalogue
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a Resolver. provider should already be bound to the resolver
// model.
func New(repo Repository, provider llm.Provider, catalogue *prompts.Catalogue, m *metrics.Metrics, logger zerolog.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		provider: provider,
		prompts:  catalogue,
		metrics:  m,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the file query should be applied to.
func (r *Resolver) Resolve(ctx context.Context, query, currentPath string) Decision {
	d := r.resolve(ctx, query, currentPath)
	r.metrics.RecordResolverDecision(string(d.Source))
	r.logger.Info().
		Str("target", d.TargetFilePath).
		Str("source", string(d.Source)).
		Str("current", currentPath).
		Msg("target file resolved")
	return d
}

func (r *Resolver) resolve(ctx context.Context, query, currentPath string) Decision {
	files, err := r.repo.ListMarkdownFiles(ctx, "")
	if err != nil {
		r.logger.Warn().Err(err).Msg("listing markdown files failed")
		return fallback(currentPath, reasonListFailed)
	}
	if len(files) == 0 {
		return fallback(currentPath, reasonNoFiles)
	}

	rules := r.loadRules(ctx)
	source := SourceFilename
	name := prompts.ResolverFilename
	if len(rules) > 0 {
		source = SourceRules
		name = prompts.ResolverRules
	}

	prompt, err := r.prompts.Render(name, map[string]any{
		"Query":       query,
		"Files":       files,
		"Rules":       rules,
		"CurrentPath": currentPath,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("rendering resolver prompt failed")
		return fallback(currentPath, reasonLLMFailed)
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: maxSelectionTokens,
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("file selection completion failed")
		return fallback(currentPath, reasonLLMFailed)
	}

	target, reason, ok := parseSelection(resp.Text)
	if !ok {
		r.logger.Warn().Str("response", resp.Text).Msg("file selection response has no path")
		return fallback(currentPath, reasonUnparseable)
	}
	if !slices.Contains(files, target) {
		r.logger.Warn().Str("selected", target).Msg("selected file does not exist, using current file path")
		return fallback(currentPath, fmt.Sprintf("選択されたファイル %s が存在しないため、現在のファイルを使用します。", target))
	}

	return Decision{TargetFilePath: target, Reason: decorate(reason, source), Source: source}
}

// loadRules reads the rules file from the base branch. A missing or
// unreadable file means filename-only selection.
func (r *Resolver) loadRules(ctx context.Context) []Rule {
	file, err := r.repo.GetFile(ctx, RulesPath, "")
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			r.logger.Info().Str("path", RulesPath).Msg("rules file not found, using filename-based selection")
		} else {
			r.logger.Warn().Err(err).Str("path", RulesPath).Msg("reading rules file failed, using filename-based selection")
		}
		return nil
	}
	rules := ParseRules(file.Content)
	r.logger.Debug().Int("rules", len(rules)).Msg("loaded target file rules")
	return rules
}

func parseSelection(text string) (target, reason string, ok bool) {
	m := filePathLine.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	target = strings.Trim(strings.TrimSpace(m[1]), "[]`\"'「」 ")
	if target == "" {
		return "", "", false
	}
	if rm := reasonLine.FindStringSubmatch(text); rm != nil {
		reason = strings.TrimSpace(rm[1])
	}
	return target, reason, true
}

func decorate(reason string, source Source) string {
	if source == SourceRules {
		if reason == "" {
			return defaultReasonRules
		}
		return reason + reasonSuffixRules
	}
	if reason == "" {
		return defaultReasonName
	}
	return reason + reasonSuffixFilename
}

func fallback(currentPath, reason string) Decision {
	return Decision{TargetFilePath: currentPath, Reason: reason, Source: SourceFallback}
}
