// Package llm defines the completion-provider interface shared by the chat
// agent, the target-file resolver and the fact-check pipeline, plus SDK-backed
// implementations for OpenAI-compatible endpoints (OpenAI, OpenRouter),
// Anthropic and Gemini.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// StopReason describes why the provider stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// ToolChoice controls whether the provider may request tool calls.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone keeps tool schemas attached (some providers reject tool
	// results without them) but forbids new calls.
	ToolChoiceNone ToolChoice = "none"
)

// ToolCall is one tool invocation requested by the provider. Arguments is
// the raw JSON text as the provider produced it and may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single turn in the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSchema describes a tool's interface for the provider.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema object
}

// CompletionRequest is the input to a provider's Complete() call.
//
// SystemPrompt is sent first. Messages may contain further RoleSystem
// entries; providers without positional system messages hoist them into the
// system instruction in order.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	ToolChoice   ToolChoice
	MaxTokens    int
	Temperature  *float64
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string
	ToolCalls    []ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the provider asked for at least one tool call.
func (r *CompletionResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name identifies the backend in logs and metrics, e.g. "openrouter".
	Name() string
}

// AssistantMessage records a provider response in the conversation so that
// tool results can reference its tool calls.
func AssistantMessage(resp *CompletionResponse) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	}
}

// ToolResultMessage creates the tool turn answering call callID.
func ToolResultMessage(callID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
	}
}

// Float returns a pointer to v, for CompletionRequest.Temperature.
func Float(v float64) *float64 {
	return &v
}

// schemaObject decodes a tool schema into a generic map. Invalid schemas
// decode to an empty object schema.
func schemaObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 || json.Unmarshal(raw, &out) != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}
