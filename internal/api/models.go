package api

import (
	"context"

	"github.com/p-blackswan/policy-agent/internal/agent"
	"github.com/p-blackswan/policy-agent/internal/factcheck"
	"github.com/p-blackswan/policy-agent/internal/github"
	"github.com/p-blackswan/policy-agent/internal/research"
	"github.com/p-blackswan/policy-agent/internal/resolver"
	"github.com/p-blackswan/policy-agent/internal/store"
)

// Chatter runs one agent turn.
type Chatter interface {
	Turn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error)
}

// FactChecker runs the fact-check pipeline.
type FactChecker interface {
	Run(ctx context.Context, req factcheck.Request) factcheck.Result
}

// Resolver picks the target file for a query.
type Resolver interface {
	Resolve(ctx context.Context, query, currentPath string) resolver.Decision
}

// Researcher verifies a statement with several models.
type Researcher interface {
	Execute(ctx context.Context, statement string) (*research.Result, error)
}

// Files is the read side of the repository gateway.
type Files interface {
	ListMarkdownFiles(ctx context.Context, ref string) ([]string, error)
	SearchFiles(ctx context.Context, query, ref string) ([]string, error)
	GetFile(ctx context.Context, filePath, branch string) (*github.FileRecord, error)
}

// RunStore persists run history and the audit log.
type RunStore interface {
	AuditSink
	Record(ctx context.Context, r *store.Run) error
	List(ctx context.Context, limit int) ([]*store.Run, error)
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ResolveRequest is the body of POST /api/v1/resolve.
type ResolveRequest struct {
	Query       string `json:"query"`
	CurrentPath string `json:"currentPath"`
}

// ResearchRequest is the body of POST /api/v1/research.
type ResearchRequest struct {
	Statement string `json:"statement"`
}

// FileResponse is the body of GET /api/v1/files/*.
type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

// FileListResponse is the body of GET /api/v1/files.
type FileListResponse struct {
	Files []string `json:"files"`
}

// RunListResponse is the body of GET /api/v1/runs.
type RunListResponse struct {
	Runs []*store.Run `json:"runs"`
}
