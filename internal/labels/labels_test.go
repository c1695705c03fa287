package labels

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/prompts"
)

type fakeRepo struct {
	labels   []github.Label
	listErr  error
	addErr   error
	added    []string
	addedFor int
}

func (f *fakeRepo) ListLabels(context.Context) ([]github.Label, error) {
	return f.labels, f.listErr
}

func (f *fakeRepo) AddLabels(_ context.Context, number int, labels []string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.addedFor = number
	f.added = append(f.added, labels...)
	return nil
}

type fakeProvider struct {
	text     string
	err      error
	requests []llm.CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text}, nil
}

func newLabeler(t *testing.T, repo *fakeRepo, p *fakeProvider) *Labeler {
	t.Helper()
	catalogue, err := prompts.Default()
	require.NoError(t, err)
	return New(repo, p, catalogue, zerolog.Nop())
}

var repoLabels = []github.Label{
	{Name: "子育て", Description: "子育て政策"},
	{Name: "教育"},
	{Name: "経済財政", Description: "財政・税制"},
}

func TestPullRequestUpdated_AppliesSelectedLabels(t *testing.T) {
	repo := &fakeRepo{labels: repoLabels}
	p := &fakeProvider{text: `["子育て", "存在しない", "教育"]`}
	l := newLabeler(t, repo, p)

	l.PullRequestUpdated(context.Background(), &github.PullRequest{Number: 7, Title: "保育所の拡充", Body: "待機児童対策"})

	assert.Equal(t, 7, repo.addedFor)
	assert.Equal(t, []string{"子育て", "教育"}, repo.added)

	require.Len(t, p.requests, 1)
	user := p.requests[0].Messages[0].Content
	assert.Contains(t, user, "タイトル: 保育所の拡充")
	assert.Contains(t, user, `"description": "Label: 教育"`)
	assert.Contains(t, user, `"description": "子育て政策"`)
	assert.NotEmpty(t, p.requests[0].SystemPrompt)
}

func TestPullRequestUpdated_BestEffort(t *testing.T) {
	tests := []struct {
		name string
		repo *fakeRepo
		p    *fakeProvider
	}{
		{"list fails", &fakeRepo{listErr: errors.New("403")}, &fakeProvider{text: `["教育"]`}},
		{"no labels", &fakeRepo{}, &fakeProvider{text: `["教育"]`}},
		{"provider fails", &fakeRepo{labels: repoLabels}, &fakeProvider{err: errors.New("timeout")}},
		{"empty answer", &fakeRepo{labels: repoLabels}, &fakeProvider{text: " "}},
		{"nothing matches", &fakeRepo{labels: repoLabels}, &fakeProvider{text: `[]`}},
		{"apply fails", &fakeRepo{labels: repoLabels, addErr: errors.New("422")}, &fakeProvider{text: `["教育"]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLabeler(t, tt.repo, tt.p)
			assert.NotPanics(t, func() {
				l.PullRequestUpdated(context.Background(), &github.PullRequest{Number: 1})
			})
			assert.Empty(t, tt.repo.added)
		})
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"array", `["a","b"]`, []string{"a", "b"}},
		{"object", `{"labels":["a"]}`, []string{"a"}},
		{"fenced", "```json\n[\"a\", \"b\"]\n```", []string{"a", "b"}},
		{"trailing comma", `["a", "b",]`, []string{"a", "b"}},
		{"prose", `I would pick "a" and "b".`, []string{"a", "b"}},
		{"empty array", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSelection(tt.in))
		})
	}
}

func TestFilterExisting_Dedupes(t *testing.T) {
	assert.Equal(t, []string{"a"}, filterExisting([]string{"a", "x", "a"}, []string{"a", "b"}))
	assert.Nil(t, filterExisting([]string{"x"}, []string{"a"}))
}
