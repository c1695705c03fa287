package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/llm"
	"github.com/p-blackswan/policy-agent/internal/prompts"
)

type fakeRepo struct {
	files    []string
	listErr  error
	rules    string
	rulesErr error
}

func (f *fakeRepo) ListMarkdownFiles(_ context.Context, _ string) ([]string, error) {
	return f.files, f.listErr
}

func (f *fakeRepo) GetFile(_ context.Context, path, _ string) (*github.FileRecord, error) {
	if path != RulesPath {
		return nil, perrors.NotFound("fake.GetFile", "%s", path)
	}
	if f.rulesErr != nil {
		return nil, f.rulesErr
	}
	if f.rules == "" {
		return nil, perrors.NotFound("fake.GetFile", "%s", path)
	}
	return &github.FileRecord{Path: path, Content: f.rules}, nil
}

type fakeProvider struct {
	text  string
	err   error
	calls []llm.CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text}, nil
}

func newResolver(t *testing.T, repo Repository, p llm.Provider) *Resolver {
	t.Helper()
	catalogue, err := prompts.Default()
	require.NoError(t, err)
	return New(repo, p, catalogue, nil, zerolog.Nop())
}

var policyFiles = []string{"policies/education.md", "policies/health.md", "README.md"}

func TestResolve_Rules(t *testing.T) {
	repo := &fakeRepo{files: policyFiles, rules: "# routing\n教育, 学校: policies/education.md\n\n医療: policies/health.md\n"}
	p := &fakeProvider{text: "ファイルパス: policies/education.md\n理由: 教育に関する提案です"}
	r := newResolver(t, repo, p)

	d := r.Resolve(context.Background(), "学校給食を無償化したい", "policies/health.md")
	assert.Equal(t, Decision{
		TargetFilePath: "policies/education.md",
		Reason:         "教育に関する提案です（リポジトリのルールファイルに基づいて判断しました）",
		Source:         SourceRules,
	}, d)

	require.Len(t, p.calls, 1)
	prompt := p.calls[0].Messages[0].Content
	assert.Contains(t, prompt, "【ファイル選択ルール】")
	assert.Contains(t, prompt, "- キーワード [教育, 学校] => policies/education.md")
	assert.Contains(t, prompt, "学校給食を無償化したい")
}

func TestResolve_FilenameOnly(t *testing.T) {
	repo := &fakeRepo{files: policyFiles}
	p := &fakeProvider{text: "ファイルパス: [policies/health.md]\n理由: 医療に関する内容のため"}
	r := newResolver(t, repo, p)

	d := r.Resolve(context.Background(), "病院の待ち時間", "README.md")
	assert.Equal(t, "policies/health.md", d.TargetFilePath)
	assert.Equal(t, SourceFilename, d.Source)
	assert.Equal(t, "医療に関する内容のため（ファイル名のみから判断しました）", d.Reason)
	assert.NotContains(t, p.calls[0].Messages[0].Content, "【ファイル選択ルール】")
}

func TestResolve_DefaultReason(t *testing.T) {
	p := &fakeProvider{text: "ファイルパス：policies/health.md"}
	r := newResolver(t, &fakeRepo{files: policyFiles}, p)

	d := r.Resolve(context.Background(), "q", "README.md")
	assert.Equal(t, "ファイル名から最適なファイルを判断しました", d.Reason)
}

func TestResolve_EmptyRepositorySkipsProvider(t *testing.T) {
	p := &fakeProvider{text: "ファイルパス: x.md"}
	r := newResolver(t, &fakeRepo{}, p)

	d := r.Resolve(context.Background(), "q", "policies/current.md")
	assert.Equal(t, "policies/current.md", d.TargetFilePath)
	assert.Equal(t, SourceFallback, d.Source)
	assert.NotEmpty(t, d.Reason)
	assert.Empty(t, p.calls)
}

func TestResolve_UnknownFileFallsBack(t *testing.T) {
	p := &fakeProvider{text: "ファイルパス: policies/nonexistent.md\n理由: なんとなく"}
	r := newResolver(t, &fakeRepo{files: policyFiles}, p)

	d := r.Resolve(context.Background(), "q", "policies/health.md")
	assert.Equal(t, "policies/health.md", d.TargetFilePath)
	assert.Equal(t, SourceFallback, d.Source)
	assert.Equal(t, "選択されたファイル policies/nonexistent.md が存在しないため、現在のファイルを使用します。", d.Reason)
}

func TestResolve_Degradations(t *testing.T) {
	tests := []struct {
		name string
		repo *fakeRepo
		p    *fakeProvider
	}{
		{"provider error", &fakeRepo{files: policyFiles}, &fakeProvider{err: errors.New("503")}},
		{"unparseable", &fakeRepo{files: policyFiles}, &fakeProvider{text: "I think education."}},
		{"listing error", &fakeRepo{listErr: perrors.Gateway("list", errors.New("boom"))}, &fakeProvider{text: "ファイルパス: README.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newResolver(t, tt.repo, tt.p).Resolve(context.Background(), "q", "policies/health.md")
			assert.Equal(t, "policies/health.md", d.TargetFilePath)
			assert.Equal(t, SourceFallback, d.Source)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestResolve_RulesReadErrorUsesFilename(t *testing.T) {
	repo := &fakeRepo{files: policyFiles, rulesErr: perrors.Gateway("get", errors.New("500"))}
	p := &fakeProvider{text: "ファイルパス: README.md\n理由: 全体"}
	d := newResolver(t, repo, p).Resolve(context.Background(), "q", "")
	assert.Equal(t, SourceFilename, d.Source)
	assert.Equal(t, "README.md", d.TargetFilePath)
}

func TestParseRules(t *testing.T) {
	rules := ParseRules("# comment\n\n教育, 学校 ,: policies/education.md\r\n医療:policies/health.md\nno colon here\nempty:\n")
	assert.Equal(t, []Rule{
		{Keywords: []string{"教育", "学校"}, FilePath: "policies/education.md"},
		{Keywords: []string{"医療"}, FilePath: "policies/health.md"},
	}, rules)
	assert.Empty(t, ParseRules(""))
}
