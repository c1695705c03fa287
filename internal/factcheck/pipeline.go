package factcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/metrics"
	"github.com/p-blackswan/policy-agent/internal/prompts"
	"github.com/p-blackswan/policy-agent/internal/requestid"
	"github.com/p-blackswan/policy-agent/internal/tool"
)

const searchFailedText = "検索処理中にエラーが発生しました。"

// Repository is the part of the repository gateway the pipeline needs.
type Repository interface {
	GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error)
	GetDiff(ctx context.Context, number int) (string, error)
	PostComment(ctx context.Context, number int, body string) (string, error)
}

// RepositoryFactory opens the repository a pull request lives in.
type RepositoryFactory interface {
	Repository(owner, repo string) (Repository, error)
}

// RepositoryFactoryFunc adapts a function to RepositoryFactory.
type RepositoryFactoryFunc func(owner, repo string) (Repository, error)

func (f RepositoryFactoryFunc) Repository(owner, repo string) (Repository, error) {
	return f(owner, repo)
}

// Notifier is told about every posted fact-check comment.
type Notifier interface {
	FactCheckPosted(ctx context.Context, prURL, commentURL string)
}

// Config holds pipeline configuration.
type Config struct {
	Credential  string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Pipeline runs fact-checks. Run never returns an error: every outcome is
// a tagged Result.
type Pipeline struct {
	repos    RepositoryFactory
	provider llm.Provider
	prompts  *prompts.Catalogue
	search   tool.Tool
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a Pipeline.
func New(repos RepositoryFactory, provider llm.Provider, catalogue *prompts.Catalogue, cfg Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		repos:    repos,
		provider: provider,
		prompts:  catalogue,
		search:   tool.WebSearch{},
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "factcheck").Logger(),
	}
}

// SetNotifier sets the notifier told about posted comments.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetMetrics sets the metrics collector.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// failure is a classified pipeline error. cause is logged, never returned.
type failure struct {
	code  Code
	cause error
}

func (f *failure) Error() string {
	if f.cause == nil {
		return string(f.code)
	}
	return fmt.Sprintf("%s: %v", f.code, f.cause)
}

func (f *failure) Unwrap() error { return f.cause }

func fail(code Code, cause error) error {
	return &failure{code: code, cause: cause}
}

// Run fact-checks the pull request at req.PRURL and posts the result as a
// comment. A wrong credential fails before any repository call.
func (p *Pipeline) Run(ctx context.Context, req Request) (res Result) {
	logger := requestid.Logger(ctx, p.logger).With().Str("pr_url", req.PRURL).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("fact-check panicked")
			res = Failed(CodeInternal)
		}
		code := "OK"
		if res.Error != nil {
			code = string(res.Error.Code)
		}
		p.metrics.RecordFactCheck(code)
	}()

	url, err := p.run(ctx, logger, req)
	if err != nil {
		var f *failure
		if !errors.As(err, &f) {
			f = &failure{code: CodeInternal, cause: err}
		}
		logger.Error().Err(f.cause).Str("code", string(f.code)).Dur("elapsed", time.Since(start)).Msg("fact-check failed")
		return Failed(f.code)
	}

	logger.Info().Str("comment_url", url).Dur("elapsed", time.Since(start)).Msg("fact-check posted")
	if p.notifier != nil {
		p.notifier.FactCheckPosted(ctx, req.PRURL, url)
	}
	return Succeeded(url)
}

func (p *Pipeline) run(ctx context.Context, logger zerolog.Logger, req Request) (string, error) {
	if p.cfg.Credential == "" || req.Credential != p.cfg.Credential {
		return "", fail(CodeAuthenticationFailed, nil)
	}

	loc, err := github.ParsePRURL(req.PRURL)
	if err != nil {
		return "", fail(CodeInvalidPRURL, err)
	}

	repo, err := p.repos.Repository(loc.Owner, loc.Repo)
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return "", fail(CodePRNotFound, err)
		}
		return "", fail(CodeInternal, err)
	}

	pr, diff, err := fetch(ctx, repo, loc.Number)
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return "", fail(CodePRNotFound, err)
		}
		return "", fail(CodeInternal, err)
	}
	logger.Debug().Int("pr_number", loc.Number).Int("diff_bytes", len(diff)).Msg("pull request fetched")

	text, err := p.analyse(ctx, logger, pr, diff)
	if err != nil {
		return "", fail(CodeLLMAPIError, err)
	}

	body := Format(Parse(text), p.now())
	url, err := repo.PostComment(ctx, loc.Number, body)
	if err != nil {
		return "", fail(CodeCommentFailed, err)
	}
	return url, nil
}

func fetch(ctx context.Context, repo Repository, number int) (*github.PullRequest, string, error) {
	pr, err := repo.GetPullRequest(ctx, number)
	if err != nil {
		return nil, "", err
	}
	diff, err := repo.GetDiff(ctx, number)
	if err != nil {
		return nil, "", err
	}
	return pr, diff, nil
}

// analyse asks the model for the review. A direct answer is used as is;
// search requests are answered with the stand-in and followed by one more
// completion without tools.
func (p *Pipeline) analyse(ctx context.Context, logger zerolog.Logger, pr *github.PullRequest, diff string) (string, error) {
	system, err := p.prompts.Render(prompts.FactCheckSystem, nil)
	if err != nil {
		return "", err
	}
	user, err := p.prompts.Render(prompts.FactCheckUser, struct {
		Title       string
		Description string
		Diff        string
	}{pr.Title, pr.Body, diff})
	if err != nil {
		return "", err
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: user}}
	req := llm.CompletionRequest{
		Model:        p.cfg.Model,
		SystemPrompt: system,
		Messages:     messages,
		Tools:        []llm.ToolSchema{p.search.Schema()},
		ToolChoice:   llm.ToolChoiceAuto,
		MaxTokens:    p.cfg.MaxTokens,
		Temperature:  llm.Float(p.cfg.Temperature),
	}

	first, err := p.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first.Text) != "" {
		return first.Text, nil
	}
	if !first.HasToolCalls() {
		return "", errors.New("empty response")
	}

	messages = append(messages, llm.AssistantMessage(first))
	for _, call := range first.ToolCalls {
		messages = append(messages, llm.ToolResultMessage(call.ID, p.answerSearch(ctx, logger, call)))
	}

	req.Messages = messages
	req.Tools = nil
	req.ToolChoice = ""
	followup, err := p.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(followup.Text) == "" {
		return "", errors.New("empty follow-up response")
	}
	return followup.Text, nil
}

func (p *Pipeline) answerSearch(ctx context.Context, logger zerolog.Logger, call llm.ToolCall) string {
	if call.Name != tool.WebSearchName {
		logger.Warn().Str("tool", call.Name).Msg("unexpected tool call in fact-check")
		return searchFailedText
	}
	out, err := p.search.Execute(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		logger.Error().Err(err).Msg("web_search stand-in failed")
		return searchFailedText
	}
	logger.Info().Str("call_id", call.ID).Msg("web_search answered")
	return out
}
