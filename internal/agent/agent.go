// Package agent runs one chat turn of the policy-edit assistant: it builds
// the prompt, asks the completion provider, executes any requested tools
// against the repository and asks once more for the final answer.
//
// The agent holds no conversation state. Callers send the full history on
// every turn.
package agent

import (
	"context"
	"encoding/json"
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
	"github.com/p-blackswan/policy-agent/internal/resolver"
	"github.com/p-blackswan/policy-agent/internal/tool"
)

const (
	// EmptyResponseText replaces an empty final answer.
	EmptyResponseText = "I received the request but didn't generate a text response."

	defaultUserName  = "不明"
	truncationMarker = "\n... (content truncated)"

	reasonFetchFailed = "選択したファイルの内容取得に失敗したため、現在のファイルを使用します。"
)

// Resolver picks the target file when the caller did not name one.
type Resolver interface {
	Resolve(ctx context.Context, query, currentPath string) resolver.Decision
}

// FileReader loads the content of a resolved file.
type FileReader interface {
	GetFile(ctx context.Context, path, branch string) (*github.FileRecord, error)
}

// Config holds agent configuration.
type Config struct {
	Model          string
	MaxTokens      int
	MaxFileContent int
}

// TurnRequest is one user message plus everything the agent needs to answer
// it. History holds prior user and assistant turns, oldest first.
type TurnRequest struct {
	Message     string        `json:"message"`
	History     []llm.Message `json:"history,omitempty"`
	BranchID    string        `json:"branchId,omitempty"`
	FileContent string        `json:"fileContent,omitempty"`
	UserName    string        `json:"userName,omitempty"`
	FilePath    string        `json:"filePath,omitempty"`
}

// ToolOutcome records one executed tool call.
type ToolOutcome struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Output string `json:"output"`
	Failed bool   `json:"failed"`
}

// TurnResponse is the result of a turn. TargetFilePath and
// FileSelectionReason are set only when the resolver ran.
type TurnResponse struct {
	Text                string        `json:"text"`
	TargetFilePath      string        `json:"targetFilePath,omitempty"`
	FileSelectionReason string        `json:"fileSelectionReason,omitempty"`
	ToolCalls           []ToolOutcome `json:"toolCalls,omitempty"`
}

// Agent is the tool-calling chat loop.
type Agent struct {
	provider llm.Provider
	tools    *tool.Registry
	prompts  *prompts.Catalogue
	resolver Resolver
	files    FileReader
	metrics  *metrics.Metrics
	cfg      Config
	logger   zerolog.Logger
}

// New creates an Agent. provider should already be bound to the chat model
// or cfg.Model set.
func New(provider llm.Provider, tools *tool.Registry, catalogue *prompts.Catalogue, cfg Config, logger zerolog.Logger) *Agent {
	if cfg.MaxFileContent <= 0 {
		cfg.MaxFileContent = 50000
	}
	return &Agent{
		provider: provider,
		tools:    tools,
		prompts:  catalogue,
		cfg:      cfg,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
}

// SetResolver enables target-file resolution for turns without a file path.
// files loads the resolved file when it differs from the caller's.
func (a *Agent) SetResolver(r Resolver, files FileReader) {
	a.resolver = r
	a.files = files
}

// SetMetrics sets the metrics collector.
func (a *Agent) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Turn answers one user message. Tool side effects that already happened
// are not rolled back when a later completion fails; the returned response
// still lists them.
func (a *Agent) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	logger := requestid.Logger(ctx, a.logger)
	start := time.Now()

	resp := &TurnResponse{}
	tgt := target{path: req.FilePath, content: req.FileContent}
	if req.FilePath == "" && a.resolver != nil {
		tgt = a.resolve(ctx, logger, req)
		resp.TargetFilePath = tgt.path
		resp.FileSelectionReason = tgt.reason
	}

	system, messages, err := a.buildPrompt(req, tgt)
	if err != nil {
		return nil, err
	}

	schemas := a.tools.Schemas()
	first, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Model:        a.cfg.Model,
		SystemPrompt: system,
		Messages:     messages,
		Tools:        schemas,
		ToolChoice:   llm.ToolChoiceAuto,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		a.metrics.RecordError("agent", "first_completion")
		return nil, providerErr(err)
	}

	texts := []string{first.Text}
	if first.HasToolCalls() {
		messages = append(messages, llm.AssistantMessage(first))
		for _, call := range first.ToolCalls {
			outcome := a.execute(ctx, logger, call)
			resp.ToolCalls = append(resp.ToolCalls, outcome)
			messages = append(messages, llm.ToolResultMessage(call.ID, outcome.Output))
		}

		followup, err := a.provider.Complete(ctx, llm.CompletionRequest{
			Model:        a.cfg.Model,
			SystemPrompt: system,
			Messages:     messages,
			Tools:        schemas,
			ToolChoice:   llm.ToolChoiceNone,
			MaxTokens:    a.cfg.MaxTokens,
		})
		if err != nil {
			a.metrics.RecordError("agent", "followup_completion")
			return resp, providerErr(err)
		}
		texts = append(texts, followup.Text)
	}

	resp.Text = strings.TrimSpace(strings.Join(texts, "\n"))
	if resp.Text == "" {
		resp.Text = EmptyResponseText
	}

	logger.Info().
		Str("file_path", tgt.path).
		Str("branch", req.BranchID).
		Int("history", len(req.History)).
		Int("tool_calls", len(resp.ToolCalls)).
		Dur("elapsed", time.Since(start)).
		Msg("turn completed")
	return resp, nil
}

type target struct {
	path    string
	reason  string
	content string
}

func (a *Agent) resolve(ctx context.Context, logger zerolog.Logger, req TurnRequest) target {
	d := a.resolver.Resolve(ctx, req.Message, req.FilePath)
	t := target{path: d.TargetFilePath, reason: d.Reason, content: req.FileContent}
	if d.TargetFilePath == "" || d.TargetFilePath == req.FilePath || a.files == nil {
		return t
	}

	file, err := a.files.GetFile(ctx, d.TargetFilePath, "")
	if err != nil {
		logger.Error().Err(err).Str("path", d.TargetFilePath).Msg("fetching resolved file failed")
		return target{path: req.FilePath, reason: reasonFetchFailed, content: req.FileContent}
	}
	t.content = file.Content
	return t
}

func (a *Agent) buildPrompt(req TurnRequest, t target) (string, []llm.Message, error) {
	userName := req.UserName
	if userName == "" {
		userName = defaultUserName
	}
	system, err := a.prompts.Render(prompts.AgentSystem, struct {
		UserName        string
		FilePath        string
		SelectionReason string
	}{userName, t.path, t.reason})
	if err != nil {
		return "", nil, fmt.Errorf("render system prompt: %w", err)
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	block, err := a.prompts.Render(prompts.AgentContext, struct {
		BranchID    string
		FilePath    string
		FileContent string
	}{req.BranchID, t.path, truncate(t.content, a.cfg.MaxFileContent)})
	if err != nil {
		return "", nil, fmt.Errorf("render context block: %w", err)
	}
	if block = strings.TrimSpace(block); block != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: block})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	return system, messages, nil
}

// execute runs one tool call. Failures become the tool's result text so the
// model can react to them in the follow-up completion.
func (a *Agent) execute(ctx context.Context, logger zerolog.Logger, call llm.ToolCall) ToolOutcome {
	outcome := ToolOutcome{CallID: call.ID, Name: call.Name}

	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		outcome.Output = "Error: Invalid arguments format. " + err.Error()
		outcome.Failed = true
		a.metrics.RecordToolCall(call.Name, "invalid_arguments")
		logger.Warn().Err(err).Str("tool", call.Name).Msg("tool arguments are not valid JSON")
		return outcome
	}

	out, err := a.tools.Execute(ctx, call.Name, json.RawMessage(raw))
	if err != nil {
		outcome.Output = "Error executing tool: " + err.Error()
		outcome.Failed = true
		a.metrics.RecordToolCall(call.Name, "error")
		logger.Error().Err(err).Str("tool", call.Name).Str("call_id", call.ID).Msg("tool call failed")
		return outcome
	}

	outcome.Output = out
	a.metrics.RecordToolCall(call.Name, "ok")
	logger.Info().Str("tool", call.Name).Str("call_id", call.ID).Msg("tool call succeeded")
	return outcome
}

func validate(req TurnRequest) error {
	const op = "agent.Turn"
	if strings.TrimSpace(req.Message) == "" {
		return perrors.Validation(op, "message is required")
	}
	for i, m := range req.History {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return perrors.Validation(op, "history[%d]: role must be %q or %q, got %q", i, llm.RoleUser, llm.RoleAssistant, m.Role)
		}
	}
	return nil
}

// truncate caps s at limit characters.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationMarker
}

func providerErr(err error) error {
	if perrors.KindOf(err) == perrors.KindProvider {
		return err
	}
	return perrors.Provider("agent.Turn", err)
}
