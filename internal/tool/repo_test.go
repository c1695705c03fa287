package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/github"
)

type fakeRepo struct {
	calls []string

	ensureErr error
	upsertErr error
	findErr   error

	pr        *github.PullRequest
	lastTitle *string
	lastBody  string
}

func (f *fakeRepo) EnsureBranch(_ context.Context, name string) error {
	f.calls = append(f.calls, "ensure:"+name)
	return f.ensureErr
}

func (f *fakeRepo) UpsertFile(_ context.Context, path, branch, _, _ string) (*github.CommitResult, error) {
	f.calls = append(f.calls, "upsert:"+path+"@"+branch)
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return &github.CommitResult{Path: path, Branch: branch, CommitSHA: "c0ffee", Created: true}, nil
}

func (f *fakeRepo) FindOrCreateDraftPR(_ context.Context, branch, title, body string) (*github.PullRequest, error) {
	f.calls = append(f.calls, "find:"+branch+":"+title)
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.pr == nil {
		f.pr = &github.PullRequest{Number: 7, Title: title, Body: body, HeadRef: branch, Draft: true,
			HTMLURL: "https://github.com/acme/policies/pull/7"}
	}
	return f.pr, nil
}

func (f *fakeRepo) UpdatePR(_ context.Context, number int, title *string, body string) (*github.PullRequest, error) {
	f.calls = append(f.calls, "update")
	f.lastTitle = title
	f.lastBody = body
	pr := *f.pr
	pr.Number = number
	pr.Body = body
	if title != nil {
		pr.Title = *title
	}
	return &pr, nil
}

type recordingObserver struct{ seen []int }

func (o *recordingObserver) PullRequestUpdated(_ context.Context, pr *github.PullRequest) {
	o.seen = append(o.seen, pr.Number)
}

func TestUpsertFile_Success(t *testing.T) {
	repo := &fakeRepo{}
	tl := NewUpsertFile(repo, zerolog.Nop())

	out, err := tl.Execute(context.Background(), json.RawMessage(
		`{"filePath":"policies/leave.md","branchName":"b-1","content":"# Leave","commitMessage":"update leave"}`))
	require.NoError(t, err)
	assert.Equal(t, "Successfully committed changes to policies/leave.md in branch b-1", out)
	assert.Equal(t, []string{"ensure:b-1", "upsert:policies/leave.md@b-1"}, repo.calls)
}

func TestUpsertFile_ValidationBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing path", `{"branchName":"b","content":"x","commitMessage":"m"}`, "filePath is required"},
		{"missing branch", `{"filePath":"a.md","content":"x","commitMessage":"m"}`, "branchName is required"},
		{"blank message", `{"filePath":"a.md","branchName":"b","content":"x","commitMessage":"  "}`, "commitMessage is required"},
		{"not markdown", `{"filePath":"a.txt","branchName":"b","content":"x","commitMessage":"m"}`, ".md"},
		{"traversal", `{"filePath":"../secrets.md","branchName":"b","content":"x","commitMessage":"m"}`, ".."},
		{"bad json", `{"filePath":`, "invalid arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{}
			_, err := NewUpsertFile(repo, zerolog.Nop()).Execute(context.Background(), json.RawMessage(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, repo.calls)
		})
	}
}

func TestUpsertFile_EnsureBranchFailureStops(t *testing.T) {
	repo := &fakeRepo{ensureErr: perrors.Gateway("github.EnsureBranch", errors.New("boom"))}
	_, err := NewUpsertFile(repo, zerolog.Nop()).Execute(context.Background(), json.RawMessage(
		`{"filePath":"a.md","branchName":"b","content":"x","commitMessage":"m"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrGateway)
	assert.Equal(t, []string{"ensure:b"}, repo.calls)
}

func TestUpdatePR_DefaultTitleAndObservers(t *testing.T) {
	repo := &fakeRepo{}
	obs := &recordingObserver{}
	tl := NewUpdatePR(repo, zerolog.Nop(), obs)

	out, err := tl.Execute(context.Background(), json.RawMessage(`{"branchName":"b-1","body":"Adds remote work rules"}`))
	require.NoError(t, err)
	assert.Equal(t, "Successfully updated pull request description. View PR: https://github.com/acme/policies/pull/7", out)
	assert.Equal(t, []string{"find:b-1:WIP: Changes for b-1", "update"}, repo.calls)
	assert.Nil(t, repo.lastTitle)
	assert.Equal(t, "Adds remote work rules", repo.lastBody)
	assert.Equal(t, []int{7}, obs.seen)
}

func TestUpdatePR_WithTitle(t *testing.T) {
	repo := &fakeRepo{}
	out, err := NewUpdatePR(repo, zerolog.Nop()).Execute(context.Background(),
		json.RawMessage(`{"branchName":"b-1","title":"Remote work policy","body":""}`))
	require.NoError(t, err)
	assert.Contains(t, out, "title and description")
	require.NotNil(t, repo.lastTitle)
	assert.Equal(t, "Remote work policy", *repo.lastTitle)
}

func TestUpdatePR_EmptyTitleKeepsCurrent(t *testing.T) {
	for name, input := range map[string]string{
		"empty":      `{"branchName":"b-1","title":"","body":"x"}`,
		"whitespace": `{"branchName":"b-1","title":"  ","body":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			repo := &fakeRepo{}
			out, err := NewUpdatePR(repo, zerolog.Nop()).Execute(context.Background(), json.RawMessage(input))
			require.NoError(t, err)
			assert.Nil(t, repo.lastTitle)
			assert.Contains(t, out, "updated pull request description.")
			assert.Equal(t, "WIP: Changes for b-1", repo.pr.Title)
		})
	}
}

func TestUpdatePR_BodyRequired(t *testing.T) {
	repo := &fakeRepo{}
	_, err := NewUpdatePR(repo, zerolog.Nop()).Execute(context.Background(), json.RawMessage(`{"branchName":"b-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body is required")
	assert.Empty(t, repo.calls)
}

func TestUpdatePR_FindFailureSkipsObservers(t *testing.T) {
	repo := &fakeRepo{findErr: perrors.Gateway("github.FindOrCreateDraftPR", errors.New("502"))}
	obs := &recordingObserver{}
	_, err := NewUpdatePR(repo, zerolog.Nop(), obs).Execute(context.Background(),
		json.RawMessage(`{"branchName":"b-1","body":"x"}`))
	require.Error(t, err)
	assert.Empty(t, obs.seen)
}

func TestWebSearch(t *testing.T) {
	out, err := WebSearch{}.Execute(context.Background(), json.RawMessage(`{"query":"育児休業 2025 改正"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"育児休業 2025 改正"に関する情報です。`)

	_, err = WebSearch{}.Execute(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDecodeArgs_Unknown(t *testing.T) {
	_, err := DecodeArgs("delete_repo", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool: delete_repo")
}
