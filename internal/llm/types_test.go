package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("call_123", "Successfully committed")
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call_123", msg.ToolCallID)
	assert.Equal(t, "Successfully committed", msg.Content)
}

func TestAssistantMessage_CarriesToolCalls(t *testing.T) {
	resp := &CompletionResponse{
		Text: "editing now",
		ToolCalls: []ToolCall{
			{ID: "a", Name: "upsert_file_and_commit", Arguments: `{}`},
			{ID: "b", Name: "update_pr", Arguments: `{}`},
		},
	}
	msg := AssistantMessage(resp)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "editing now", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "b", msg.ToolCalls[1].ID)
	assert.True(t, resp.HasToolCalls())
	assert.False(t, (&CompletionResponse{}).HasToolCalls())
}

func TestToolSchema_JSONMarshal(t *testing.T) {
	schema := ToolSchema{
		Name:        "update_pr",
		Description: "Update the pull request",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
	b, err := json.Marshal(schema)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "update_pr", m["name"])
}

func TestSchemaObject(t *testing.T) {
	obj := schemaObject(json.RawMessage(`{"type":"object","required":["filePath"]}`))
	assert.Equal(t, "object", obj["type"])

	obj = schemaObject(json.RawMessage(`not json`))
	assert.Equal(t, "object", obj["type"])
	assert.NotNil(t, obj["properties"])
}
