package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

// RepositoryRef identifies the repository a Gateway operates on.
type RepositoryRef struct {
	Owner      string
	Repo       string
	BaseBranch string
}

func (r RepositoryRef) String() string { return r.Owner + "/" + r.Repo }

// FileRecord is one file read at a branch.
type FileRecord struct {
	Path    string
	Content string
	SHA     string
	Branch  string
}

// CommitResult describes a file write.
type CommitResult struct {
	Path      string
	Branch    string
	CommitSHA string
	Created   bool
}

// PullRequest is the subset of PR metadata the service uses.
type PullRequest struct {
	Number    int
	Title     string
	Body      string
	HTMLURL   string
	HeadRef   string
	HeadSHA   string
	Draft     bool
	CreatedAt time.Time
}

// Label is a repository label.
type Label struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Gateway performs repository operations against one repository. Every call
// is bounded by the configured timeout. Host failures are returned as
// KindGateway errors, missing objects as KindNotFound.
//
// Writes are not transactional: two writers on the same branch and path race
// on the file SHA and the later write wins or fails on a stale SHA.
type Gateway struct {
	source  ClientSource
	ref     RepositoryRef
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGateway creates a Gateway. A zero timeout defaults to 30s.
func NewGateway(source ClientSource, ref RepositoryRef, timeout time.Duration, logger zerolog.Logger) *Gateway {
	if ref.BaseBranch == "" {
		ref.BaseBranch = "main"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		source:  source,
		ref:     ref,
		timeout: timeout,
		logger:  logger.With().Str("component", "github.gateway").Str("repo", ref.String()).Logger(),
	}
}

// Ref returns the repository the gateway is bound to.
func (g *Gateway) Ref() RepositoryRef { return g.ref }

func (g *Gateway) client(ctx context.Context, op string) (*gh.Client, context.Context, context.CancelFunc, error) {
	c, err := g.source.Client(ctx)
	if err != nil {
		return nil, nil, nil, wrapErr(op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return c, ctx, cancel, nil
}

// EnsureBranch creates refs/heads/{name} from the base branch head unless it
// already exists. A concurrent creation of the same ref counts as success.
func (g *Gateway) EnsureBranch(ctx context.Context, name string) error {
	const op = "github.EnsureBranch"
	if strings.TrimSpace(name) == "" {
		return perrors.Validation(op, "branch name is required")
	}
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()

	_, _, err = c.Git.GetRef(ctx, g.ref.Owner, g.ref.Repo, "heads/"+name)
	if err == nil {
		g.logger.Debug().Str("branch", name).Msg("branch already exists")
		return nil
	}
	if statusCode(err) != http.StatusNotFound {
		return wrapErr(op, err)
	}

	base, _, err := c.Git.GetRef(ctx, g.ref.Owner, g.ref.Repo, "heads/"+g.ref.BaseBranch)
	if err != nil {
		return wrapErr(op, fmt.Errorf("reading base branch %s: %w", g.ref.BaseBranch, err))
	}
	_, _, err = c.Git.CreateRef(ctx, g.ref.Owner, g.ref.Repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + name),
		Object: &gh.GitObject{SHA: base.GetObject().SHA},
	})
	if err != nil {
		if isRefExists(err) {
			g.logger.Info().Str("branch", name).Msg("branch created concurrently")
			return nil
		}
		return wrapErr(op, err)
	}
	g.logger.Info().Str("branch", name).Str("base", g.ref.BaseBranch).Msg("branch created")
	return nil
}

// GetFile reads path at branch. An empty branch reads the base branch.
func (g *Gateway) GetFile(ctx context.Context, filePath, branch string) (*FileRecord, error) {
	const op = "github.GetFile"
	if branch == "" {
		branch = g.ref.BaseBranch
	}
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.getFile(ctx, c, op, filePath, branch)
}

func (g *Gateway) getFile(ctx context.Context, c *gh.Client, op, filePath, branch string) (*FileRecord, error) {
	file, _, _, err := c.Repositories.GetContents(ctx, g.ref.Owner, g.ref.Repo, filePath, &gh.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	if file == nil {
		return nil, perrors.Validation(op, "%s is a directory", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, &perrors.Error{Kind: perrors.KindGateway, Op: op, Message: "decoding content", Err: err}
	}
	return &FileRecord{Path: file.GetPath(), Content: content, SHA: file.GetSHA(), Branch: branch}, nil
}

// ValidateMarkdownPath rejects anything but a relative .md path without ".."
// segments.
func ValidateMarkdownPath(filePath string) error {
	const op = "github.UpsertFile"
	switch {
	case strings.TrimSpace(filePath) == "":
		return perrors.Validation(op, "filePath is required")
	case !strings.HasSuffix(filePath, ".md"):
		return perrors.Validation(op, "only Markdown files (.md) are supported: %q", filePath)
	case strings.HasPrefix(filePath, "/") || strings.HasPrefix(filePath, "\\"):
		return perrors.Validation(op, "file path must be relative: %q", filePath)
	}
	for _, seg := range strings.FieldsFunc(filePath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return perrors.Validation(op, "file path cannot contain '..': %q", filePath)
		}
	}
	return nil
}

// UpsertFile commits content to path on branch, updating with the current
// SHA when the file exists and creating it otherwise. The path is validated
// before any request is made.
func (g *Gateway) UpsertFile(ctx context.Context, filePath, branch, content, message string) (*CommitResult, error) {
	const op = "github.UpsertFile"
	if err := ValidateMarkdownPath(filePath); err != nil {
		return nil, err
	}
	if strings.TrimSpace(branch) == "" {
		return nil, perrors.Validation(op, "branch name is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, perrors.Validation(op, "commit message is required")
	}

	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(content),
		Branch:  gh.String(branch),
	}

	existing, err := g.getFile(ctx, c, op, filePath, branch)
	switch {
	case err == nil:
		opts.SHA = gh.String(existing.SHA)
	case errors.Is(err, perrors.ErrNotFound):
		existing = nil
	default:
		return nil, err
	}

	var resp *gh.RepositoryContentResponse
	if existing != nil {
		resp, _, err = c.Repositories.UpdateFile(ctx, g.ref.Owner, g.ref.Repo, filePath, opts)
	} else {
		resp, _, err = c.Repositories.CreateFile(ctx, g.ref.Owner, g.ref.Repo, filePath, opts)
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}

	result := &CommitResult{Path: filePath, Branch: branch, CommitSHA: resp.Commit.GetSHA(), Created: existing == nil}
	g.logger.Info().
		Str("path", filePath).
		Str("branch", branch).
		Bool("created", result.Created).
		Str("commit", result.CommitSHA).
		Msg("file committed")
	return result, nil
}

// ListMarkdownFiles returns every .md path at ref (the base branch when
// empty), sorted. It reads the recursive Git tree and walks the contents API
// when the tree response is truncated.
func (g *Gateway) ListMarkdownFiles(ctx context.Context, ref string) ([]string, error) {
	const op = "github.ListMarkdownFiles"
	if ref == "" {
		ref = g.ref.BaseBranch
	}
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	tree, _, err := c.Git.GetTree(ctx, g.ref.Owner, g.ref.Repo, ref, true)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	var files []string
	if tree.GetTruncated() {
		g.logger.Warn().Str("ref", ref).Msg("tree listing truncated, walking contents")
		files, err = g.walkContents(ctx, c, "", ref)
		if err != nil {
			return nil, wrapErr(op, err)
		}
	} else {
		for _, e := range tree.Entries {
			if e.GetType() == "blob" && strings.HasSuffix(e.GetPath(), ".md") {
				files = append(files, e.GetPath())
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (g *Gateway) walkContents(ctx context.Context, c *gh.Client, dir, ref string) ([]string, error) {
	_, entries, _, err := c.Repositories.GetContents(ctx, g.ref.Owner, g.ref.Repo, dir, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		switch e.GetType() {
		case "file":
			if strings.HasSuffix(e.GetPath(), ".md") {
				files = append(files, e.GetPath())
			}
		case "dir":
			sub, err := g.walkContents(ctx, c, e.GetPath(), ref)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// SearchFiles returns Markdown paths at ref whose path contains query,
// case-insensitively. An empty query matches everything.
func (g *Gateway) SearchFiles(ctx context.Context, query, ref string) ([]string, error) {
	files, err := g.ListMarkdownFiles(ctx, ref)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return files, nil
	}
	matches := make([]string, 0, len(files))
	for _, f := range files {
		if strings.Contains(strings.ToLower(f), q) || strings.Contains(strings.ToLower(path.Base(f)), q) {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// FindOrCreateDraftPR returns the open PR from branch into the base branch,
// creating a draft one when none exists. When several are open the
// lowest-numbered one wins.
func (g *Gateway) FindOrCreateDraftPR(ctx context.Context, branch, title, body string) (*PullRequest, error) {
	const op = "github.FindOrCreateDraftPR"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	existing, _, err := c.PullRequests.List(ctx, g.ref.Owner, g.ref.Repo, &gh.PullRequestListOptions{
		State:       "open",
		Head:        g.ref.Owner + ":" + branch,
		Base:        g.ref.BaseBranch,
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	if len(existing) > 0 {
		sort.Slice(existing, func(i, j int) bool { return existing[i].GetNumber() < existing[j].GetNumber() })
		pr := existing[0]
		if len(existing) > 1 {
			g.logger.Warn().
				Str("branch", branch).
				Int("open_prs", len(existing)).
				Int("pr_number", pr.GetNumber()).
				Msg("multiple open PRs for branch, using the earliest")
		}
		return toPullRequest(pr), nil
	}

	pr, _, err := c.PullRequests.Create(ctx, g.ref.Owner, g.ref.Repo, &gh.NewPullRequest{
		Title: gh.String(title),
		Head:  gh.String(branch),
		Base:  gh.String(g.ref.BaseBranch),
		Body:  gh.String(TrimTrailingSeparators(body)),
		Draft: gh.Bool(true),
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	g.logger.Info().Str("branch", branch).Int("pr_number", pr.GetNumber()).Str("url", pr.GetHTMLURL()).Msg("draft PR created")
	return toPullRequest(pr), nil
}

// UpdatePR sets the PR body and, when title is non-nil, its title.
func (g *Gateway) UpdatePR(ctx context.Context, number int, title *string, body string) (*PullRequest, error) {
	const op = "github.UpdatePR"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	edit := &gh.PullRequest{Body: gh.String(TrimTrailingSeparators(body))}
	if title != nil {
		edit.Title = title
	}
	pr, _, err := c.PullRequests.Edit(ctx, g.ref.Owner, g.ref.Repo, number, edit)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	g.logger.Info().Int("pr_number", number).Bool("title", title != nil).Msg("PR updated")
	return toPullRequest(pr), nil
}

// GetPullRequest reads PR metadata.
func (g *Gateway) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	const op = "github.GetPullRequest"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	pr, _, err := c.PullRequests.Get(ctx, g.ref.Owner, g.ref.Repo, number)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return toPullRequest(pr), nil
}

// GetDiff returns the PR's unified diff.
func (g *Gateway) GetDiff(ctx context.Context, number int) (string, error) {
	const op = "github.GetDiff"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return "", err
	}
	defer cancel()

	diff, _, err := c.PullRequests.GetRaw(ctx, g.ref.Owner, g.ref.Repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", wrapErr(op, err)
	}
	return diff, nil
}

// PostComment adds an issue comment to the PR and returns its URL.
func (g *Gateway) PostComment(ctx context.Context, number int, body string) (string, error) {
	const op = "github.PostComment"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return "", err
	}
	defer cancel()

	comment, _, err := c.Issues.CreateComment(ctx, g.ref.Owner, g.ref.Repo, number, &gh.IssueComment{
		Body: gh.String(TrimTrailingSeparators(body)),
	})
	if err != nil {
		return "", wrapErr(op, err)
	}
	g.logger.Info().Int("pr_number", number).Str("url", comment.GetHTMLURL()).Msg("comment posted")
	return comment.GetHTMLURL(), nil
}

// ListLabels returns up to 100 repository labels.
func (g *Gateway) ListLabels(ctx context.Context) ([]Label, error) {
	const op = "github.ListLabels"
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	labels, _, err := c.Issues.ListLabels(ctx, g.ref.Owner, g.ref.Repo, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, Label{Name: l.GetName(), Description: l.GetDescription()})
	}
	return out, nil
}

// AddLabels adds labels to the PR.
func (g *Gateway) AddLabels(ctx context.Context, number int, labels []string) error {
	const op = "github.AddLabels"
	if len(labels) == 0 {
		return nil
	}
	c, ctx, cancel, err := g.client(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()

	if _, _, err := c.Issues.AddLabelsToIssue(ctx, g.ref.Owner, g.ref.Repo, number, labels); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func toPullRequest(pr *gh.PullRequest) *PullRequest {
	return &PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		HTMLURL:   pr.GetHTMLURL(),
		HeadRef:   pr.GetHead().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		Draft:     pr.GetDraft(),
		CreatedAt: pr.GetCreatedAt().Time,
	}
}

var trailingSeparator = regexp.MustCompile(`(?:\s|\n(?:-{3,}|\*{3,}|_{3,}|={3,})[ \t]*)+$`)

// TrimTrailingSeparators strips trailing whitespace and Markdown rule lines
// ("---", "***", "___") that models tend to append to PR bodies.
func TrimTrailingSeparators(s string) string {
	return trailingSeparator.ReplaceAllString(s, "")
}

func statusCode(err error) int {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func isRefExists(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil &&
		ghErr.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(ghErr.Message, "Reference already exists")
}

// wrapErr classifies a go-github failure.
func wrapErr(op string, err error) error {
	if perrors.KindOf(err) == perrors.KindAuthentication {
		return &perrors.Error{Kind: perrors.KindAuthentication, Op: op, Err: err}
	}
	switch code := statusCode(err); code {
	case 0:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", perrors.ErrTimeout, err)
		}
		return perrors.Gateway(op, err)
	case http.StatusNotFound:
		return &perrors.Error{Kind: perrors.KindNotFound, Op: op, Message: "not found", Err: err}
	case http.StatusUnauthorized:
		return perrors.Authentication(op, err)
	default:
		return perrors.Gateway(op, &perrors.APIError{Service: "github", StatusCode: code, Message: http.StatusText(code), Err: err})
	}
}
