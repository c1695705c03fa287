package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	opts   options
}

// NewGeminiProvider constructs a Gemini provider backed by an API key.
func NewGeminiProvider(ctx context.Context, apiKey string, opts ...Option) (*GeminiProvider, error) {
	o := newOptions("gemini", "gemini-2.5-pro-preview-03-25", opts)
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, opts: o}, nil
}

func (p *GeminiProvider) Name() string { return p.opts.name }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	system, contents := buildGeminiContents(req)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.opts.maxTokensFor(req)),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schemaObject(t.InputSchema),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice == ToolChoiceNone {
			mode = genai.FunctionCallingConfigModeNone
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	result, err := p.client.Models.GenerateContent(ctx, p.opts.modelFor(req), contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, errors.New("gemini: no content generated")
	}

	candidate := result.Candidates[0]
	resp := &CompletionResponse{Model: p.opts.modelFor(req)}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	var text []string
	for i, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
			continue
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte(`{}`)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: string(args)})
		case part.Text != "":
			text = append(text, part.Text)
		}
	}
	resp.Text = strings.Join(text, "")

	switch {
	case len(resp.ToolCalls) > 0:
		resp.StopReason = StopReasonToolUse
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		resp.StopReason = StopReasonMaxTokens
	default:
		resp.StopReason = StopReasonEndTurn
	}
	return resp, nil
}

func buildGeminiContents(req CompletionRequest) ([]*genai.Part, []*genai.Content) {
	var system []*genai.Part
	if strings.TrimSpace(req.SystemPrompt) != "" {
		system = append(system, &genai.Part{Text: req.SystemPrompt})
	}

	// Function responses are matched to calls by name as well as ID.
	callNames := map[string]string{}
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, &genai.Part{Text: m.Content})
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Name
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     callNames[m.ToolCallID],
				Response: map[string]any{"output": m.Content},
			}}
			// Consecutive responses share one user turn.
			if n := len(contents); n > 0 && contents[n-1].Role == "user" && contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}
	return system, contents
}
