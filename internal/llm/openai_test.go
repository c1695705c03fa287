package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

func TestOpenAIProvider_ToolCallRoundTrip(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "google/gemini-2.5-pro-preview-03-25",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "upsert_file_and_commit", "arguments": "{\"filePath\":\"policies/chapter3.md\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", WithBaseURL(srv.URL+"/"), WithName("openrouter"))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Model:        "google/gemini-2.5-pro-preview-03-25",
		SystemPrompt: "system",
		Messages: []Message{
			{Role: RoleUser, Content: "earlier"},
			{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{ID: "c0", Name: "update_pr", Arguments: `{}`}}},
			ToolResultMessage("c0", "done"),
			{Role: RoleSystem, Content: "Current Branch ID: b"},
			{Role: RoleUser, Content: "第3章の表現を柔らかくして"},
		},
		Tools: []ToolSchema{{
			Name:        "upsert_file_and_commit",
			Description: "commit a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"filePath":{"type":"string"}},"required":["filePath"]}`),
		}},
		ToolChoice: ToolChoiceAuto,
		MaxTokens:  1000,
	})
	require.NoError(t, err)

	assert.Equal(t, StopReasonToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "upsert_file_and_commit", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"filePath":"policies/chapter3.md"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)

	assert.Equal(t, "auto", captured["tool_choice"])
	msgs := captured["messages"].([]any)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "system", "user"}, roles)
	assert.Equal(t, "c0", msgs[3].(map[string]any)["tool_call_id"])
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "upsert_file_and_commit", fn["name"])
}

func TestOpenAIProvider_HTTPErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)

	var apiErr *perrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, perrors.IsRetryable(err))
}

func TestOpenAIStopReason(t *testing.T) {
	assert.Equal(t, StopReasonEndTurn, openAIStopReason("stop", false))
	assert.Equal(t, StopReasonMaxTokens, openAIStopReason("length", false))
	assert.Equal(t, StopReasonToolUse, openAIStopReason("stop", true))
}
