package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// Gemini adapts the google genai GenerateContent API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: cli, cfg: cfg}, nil
}

func (g *Gemini) Name() string         { return "gemini" }
func (g *Gemini) DefaultModel() string { return g.cfg.DefaultModel }

func (g *Gemini) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}

func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{JSONMode: true, StructuredOutput: true, Streaming: true, Tools: true, Sampling: true}
}

func (g *Gemini) Pricing(model string) Pricing {
	return lookupPricing(geminiPricing, model)
}

func (g *Gemini) Generate(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	return g.complete(ctx, p, g.buildConfig(p))
}

func (g *Gemini) GenerateWithTools(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	cfg := g.buildConfig(p)
	cfg.Tools = buildGeminiTools(p.Tools)
	return g.complete(ctx, p, cfg)
}

func (g *Gemini) GenerateStructured(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	cfg := g.buildConfig(p)
	cfg.ResponseMIMEType = "application/json"
	return g.complete(ctx, p, cfg)
}

func (g *Gemini) GenerateWithSchema(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	cfg := g.buildConfig(p)
	cfg.ResponseMIMEType = "application/json"
	// The schema rides in the instruction; validation happens
	// downstream against the full JSON Schema.
	p.System = joinSystem(p.System, schemaInstruction(p.SchemaName, p.Schema))
	cfg.SystemInstruction = systemContent(p.System)
	return g.complete(ctx, p, cfg)
}

func (g *Gemini) GenerateStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	return g.stream(ctx, p, g.buildConfig(p), h)
}

func (g *Gemini) GenerateWithToolsStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	cfg := g.buildConfig(p)
	cfg.Tools = buildGeminiTools(p.Tools)
	return g.stream(ctx, p, cfg, h)
}

func (g *Gemini) complete(ctx context.Context, p GenerateParams, cfg *genai.GenerateContentConfig) (*AiResponse, error) {
	model := p.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, buildGeminiContents(p.Messages), cfg)
	if err != nil {
		return nil, g.classify(err)
	}
	out := &AiResponse{Model: model}
	readGeminiUsage(out, resp)
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	out.FinishReason = string(cand.FinishReason)
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	out.Content = text.String()
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func (g *Gemini) stream(ctx context.Context, p GenerateParams, cfg *genai.GenerateContentConfig, h StreamHandler) (*AiResponse, error) {
	model := p.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}
	out := &AiResponse{Model: model}
	var text strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, buildGeminiContents(p.Messages), cfg) {
		if err != nil {
			return nil, g.classify(err)
		}
		readGeminiUsage(out, resp)
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			out.FinishReason = string(cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				if err := h(part.Text); err != nil {
					return nil, err
				}
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				})
			}
		}
	}
	out.Content = text.String()
	return out, nil
}

func (g *Gemini) buildConfig(p GenerateParams) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = systemContent(p.System)
	}
	if p.Sampling.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*p.Sampling.Temperature))
	}
	if p.Sampling.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*p.Sampling.TopP))
	}
	if p.Sampling.TopK != nil {
		cfg.TopK = genai.Ptr(float32(*p.Sampling.TopK))
	}
	if p.Sampling.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.Sampling.MaxTokens)
	}
	if len(p.Sampling.StopSequences) > 0 {
		cfg.StopSequences = p.Sampling.StopSequences
	}
	return cfg
}

func systemContent(text string) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{Text: text}}}
}

func buildGeminiContents(messages []AiMessage) []*genai.Content {
	var out []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			out = append(out, content)
		case RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"output": m.Content}
			}
			out = append(out, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Response: result},
				}},
			})
		default:
			out = append(out, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return out
}

func buildGeminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func readGeminiUsage(out *AiResponse, resp *genai.GenerateContentResponse) {
	if resp.UsageMetadata == nil {
		return
	}
	if resp.UsageMetadata.PromptTokenCount > 0 {
		out.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
	}
	if resp.UsageMetadata.CandidatesTokenCount > 0 {
		out.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if resp.UsageMetadata.CachedContentTokenCount > 0 {
		out.Usage.CacheReadTokens = int(resp.UsageMetadata.CachedContentTokenCount)
	}
}

func (g *Gemini) classify(err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return classifyStatus(g.Name(), apierr.Code, err)
	}
	return &Error{Provider: g.Name(), Message: err.Error(), Err: err}
}
