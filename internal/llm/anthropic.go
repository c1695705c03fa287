package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	opts   options
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...Option) *AnthropicProvider {
	o := newOptions("anthropic", "claude-3-opus-20240229", opts)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(reqOpts...), opts: o}
}

func (p *AnthropicProvider) Name() string { return p.opts.name }

// Complete implements Provider. RoleSystem messages are hoisted into the
// system blocks; consecutive tool results are folded into one user turn.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	system, messages := buildAnthropicMessages(req)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.modelFor(req)),
		MaxTokens: int64(p.opts.maxTokensFor(req)),
		Messages:  messages,
		System:    system,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
		if req.ToolChoice == ToolChoiceNone {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &perrors.APIError{Service: p.opts.name, StatusCode: apiErr.StatusCode, Message: "messages request failed", Err: err}
		}
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := &CompletionResponse{
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}
	var text []string
	for _, content := range message.Content {
		switch content.Type {
		case "text":
			text = append(text, content.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: string(content.Input),
			})
		}
	}
	resp.Text = strings.Join(text, "\n")

	switch {
	case len(resp.ToolCalls) > 0:
		resp.StopReason = StopReasonToolUse
	case message.StopReason == anthropic.StopReasonMaxTokens:
		resp.StopReason = StopReasonMaxTokens
	default:
		resp.StopReason = StopReasonEndTurn
	}
	return resp, nil
}

func buildAnthropicMessages(req CompletionRequest) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	if strings.TrimSpace(req.SystemPrompt) != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.SystemPrompt})
	}

	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) == 0 {
			return
		}
		out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleUser, Content: pendingResults})
		pendingResults = nil
	}

	for _, m := range req.Messages {
		if m.Role != RoleTool {
			flush()
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: rawInput(tc.Arguments),
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		case RoleTool:
			pendingResults = append(pendingResults, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: m.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: m.Content},
					}},
				},
			})
		}
	}
	flush()
	return system, out
}

// rawInput replays tool arguments; malformed JSON is replayed as an empty object.
func rawInput(args string) json.RawMessage {
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	return json.RawMessage(`{}`)
}

func toAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := schemaObject(t.InputSchema)
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					input.Required = append(input.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: input,
			},
		})
	}
	return out
}
