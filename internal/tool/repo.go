package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
)

// FileWriter is the part of the repository gateway upsert_file_and_commit needs.
type FileWriter interface {
	EnsureBranch(ctx context.Context, name string) error
	UpsertFile(ctx context.Context, filePath, branch, content, message string) (*github.CommitResult, error)
}

// PullRequestWriter is the part of the repository gateway update_pr needs.
type PullRequestWriter interface {
	FindOrCreateDraftPR(ctx context.Context, branch, title, body string) (*github.PullRequest, error)
	UpdatePR(ctx context.Context, number int, title *string, body string) (*github.PullRequest, error)
}

// PRObserver is told about every pull request update_pr touched. Observers
// are best-effort: they handle and log their own failures.
type PRObserver interface {
	PullRequestUpdated(ctx context.Context, pr *github.PullRequest)
}

// UpsertFile commits a full Markdown file to a working branch, creating the
// branch from the base branch first when needed.
type UpsertFile struct {
	repo   FileWriter
	logger zerolog.Logger
}

// NewUpsertFile creates the upsert_file_and_commit tool.
func NewUpsertFile(repo FileWriter, logger zerolog.Logger) *UpsertFile {
	return &UpsertFile{repo: repo, logger: logger.With().Str("tool", UpsertFileName).Logger()}
}

func (t *UpsertFile) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        UpsertFileName,
		Description: "Create or update a Markdown file in the working branch and commit it. The branch is created from the base branch if it does not exist.",
		InputSchema: SchemaFor[UpsertFileArgs](),
	}
}

func (t *UpsertFile) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := DecodeArgs(UpsertFileName, input)
	if err != nil {
		return "", err
	}
	a := args.(UpsertFileArgs)

	if err := github.ValidateMarkdownPath(a.FilePath); err != nil {
		return "", err
	}
	if err := t.repo.EnsureBranch(ctx, a.BranchName); err != nil {
		return "", fmt.Errorf("ensure branch %s: %w", a.BranchName, err)
	}
	res, err := t.repo.UpsertFile(ctx, a.FilePath, a.BranchName, a.Content, a.CommitMessage)
	if err != nil {
		return "", err
	}

	t.logger.Info().
		Str("path", res.Path).
		Str("branch", res.Branch).
		Str("commit", res.CommitSHA).
		Bool("created", res.Created).
		Msg("file committed")
	return fmt.Sprintf("Successfully committed changes to %s in branch %s", a.FilePath, a.BranchName), nil
}

// UpdatePR finds or opens the draft pull request for a branch and sets its
// description, and its title when one is given.
type UpdatePR struct {
	repo      PullRequestWriter
	observers []PRObserver
	logger    zerolog.Logger
}

// NewUpdatePR creates the update_pr tool. Observers run after a successful
// update, in order.
func NewUpdatePR(repo PullRequestWriter, logger zerolog.Logger, observers ...PRObserver) *UpdatePR {
	return &UpdatePR{
		repo:      repo,
		observers: observers,
		logger:    logger.With().Str("tool", UpdatePRName).Logger(),
	}
}

func (t *UpdatePR) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        UpdatePRName,
		Description: "Update the title and description of the draft pull request for a branch. A draft pull request is opened first when the branch has none.",
		InputSchema: SchemaFor[UpdatePRArgs](),
	}
}

func (t *UpdatePR) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := DecodeArgs(UpdatePRName, input)
	if err != nil {
		return "", err
	}
	a := args.(UpdatePRArgs)
	if a.Title != nil && strings.TrimSpace(*a.Title) == "" {
		a.Title = nil
	}

	pr, err := t.repo.FindOrCreateDraftPR(ctx, a.BranchName, "WIP: Changes for "+a.BranchName, *a.Body)
	if err != nil {
		return "", fmt.Errorf("find or create pull request for %s: %w", a.BranchName, err)
	}
	updated, err := t.repo.UpdatePR(ctx, pr.Number, a.Title, *a.Body)
	if err != nil {
		return "", fmt.Errorf("update pull request #%d: %w", pr.Number, err)
	}

	t.logger.Info().Int("pr_number", updated.Number).Str("branch", a.BranchName).Msg("pull request updated")
	for _, o := range t.observers {
		o.PullRequestUpdated(ctx, updated)
	}

	what := "description"
	if a.Title != nil {
		what = "title and description"
	}
	return fmt.Sprintf("Successfully updated pull request %s. View PR: %s", what, updated.HTMLURL), nil
}
