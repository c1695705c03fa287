package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

// OpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint. With WithBaseURL(OpenRouterBaseURL) it serves
// every model OpenRouter routes, which is the default deployment.
type OpenAIProvider struct {
	client openai.Client
	opts   options
}

// NewOpenAIProvider constructs a provider for api.openai.com or, with
// WithBaseURL, any compatible endpoint.
func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	o := newOptions("openai", "gpt-4o", opts)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(reqOpts...), opts: o}
}

// NewOpenRouterProvider is NewOpenAIProvider preconfigured for OpenRouter.
func NewOpenRouterProvider(apiKey string, opts ...Option) *OpenAIProvider {
	base := []Option{WithName("openrouter"), WithBaseURL(OpenRouterBaseURL)}
	return NewOpenAIProvider(apiKey, append(base, opts...)...)
}

func (p *OpenAIProvider) Name() string { return p.opts.name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.opts.modelFor(req)),
		Messages:  toOpenAIMessages(req),
		MaxTokens: openai.Int(int64(p.opts.maxTokensFor(req))),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(choice)),
		}
	}

	p.opts.logger.Debug().
		Str("model", string(params.Model)).
		Int("messages", len(params.Messages)).
		Int("tools", len(params.Tools)).
		Msg("chat completion request")

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", p.opts.name)
	}

	choice := completion.Choices[0]
	resp := &CompletionResponse{
		Text:         choice.Message.Content,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	resp.StopReason = openAIStopReason(choice.FinishReason, len(resp.ToolCalls) > 0)
	return resp, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &perrors.APIError{Service: p.opts.name, StatusCode: apiErr.StatusCode, Message: "chat completion failed", Err: err}
	}
	return fmt.Errorf("%s chat completion: %w", p.opts.name, err)
}

func openAIStopReason(finish string, hasTools bool) string {
	switch {
	case hasTools || finish == "tool_calls":
		return StopReasonToolUse
	case finish == "length":
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}

func toOpenAIMessages(req CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return msgs
}

func toOpenAITools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(schemaObject(t.InputSchema)),
			},
		})
	}
	return out
}
