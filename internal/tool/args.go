package tool

import (
	"encoding/json"
	"strings"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

// Tool names the chat agent exposes.
const (
	UpsertFileName = "upsert_file_and_commit"
	UpdatePRName   = "update_pr"
	WebSearchName  = "web_search"
)

// Args is the decoded, validated argument set of one tool call.
type Args interface {
	ToolName() string
	Validate() error
}

// UpsertFileArgs are the arguments of upsert_file_and_commit.
type UpsertFileArgs struct {
	FilePath      string `json:"filePath" jsonschema:"required" jsonschema_description:"Repository-relative path of the Markdown file, e.g. policies/remote-work.md"`
	BranchName    string `json:"branchName" jsonschema:"required" jsonschema_description:"Working branch to commit to; created from the base branch when missing"`
	Content       string `json:"content" jsonschema:"required" jsonschema_description:"Complete new file content"`
	CommitMessage string `json:"commitMessage" jsonschema:"required" jsonschema_description:"Commit message describing the change"`
}

func (UpsertFileArgs) ToolName() string { return UpsertFileName }

func (a UpsertFileArgs) Validate() error {
	const op = "tool." + UpsertFileName
	switch {
	case strings.TrimSpace(a.FilePath) == "":
		return perrors.Validation(op, "filePath is required")
	case strings.TrimSpace(a.BranchName) == "":
		return perrors.Validation(op, "branchName is required")
	case strings.TrimSpace(a.CommitMessage) == "":
		return perrors.Validation(op, "commitMessage is required")
	}
	return nil
}

// UpdatePRArgs are the arguments of update_pr. Body is a pointer so that an
// omitted body can be told apart from an empty one.
type UpdatePRArgs struct {
	BranchName string  `json:"branchName" jsonschema:"required" jsonschema_description:"Branch whose pull request should be created or updated"`
	Title      *string `json:"title,omitempty" jsonschema_description:"New pull request title; left unchanged when omitted or empty"`
	Body       *string `json:"body" jsonschema:"required" jsonschema_description:"Pull request description in Markdown"`
}

func (UpdatePRArgs) ToolName() string { return UpdatePRName }

func (a UpdatePRArgs) Validate() error {
	const op = "tool." + UpdatePRName
	switch {
	case strings.TrimSpace(a.BranchName) == "":
		return perrors.Validation(op, "branchName is required")
	case a.Body == nil:
		return perrors.Validation(op, "body is required")
	}
	return nil
}

// WebSearchArgs are the arguments of the fact-check web_search stand-in.
type WebSearchArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"The search query"`
}

func (WebSearchArgs) ToolName() string { return WebSearchName }

func (a WebSearchArgs) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return perrors.Validation("tool."+WebSearchName, "query is required")
	}
	return nil
}

// DecodeArgs decodes raw into the argument type belonging to name and
// validates it. Unknown names and malformed JSON are validation errors.
func DecodeArgs(name string, raw json.RawMessage) (Args, error) {
	switch name {
	case UpsertFileName:
		return decode[UpsertFileArgs](name, raw)
	case UpdatePRName:
		return decode[UpdatePRArgs](name, raw)
	case WebSearchName:
		return decode[WebSearchArgs](name, raw)
	}
	return nil, perrors.Validation("tool.DecodeArgs", "unknown tool: %s", name)
}

func decode[T Args](name string, raw json.RawMessage) (Args, error) {
	var a T
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &perrors.Error{Kind: perrors.KindValidation, Op: "tool." + name, Message: "invalid arguments", Err: err}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
