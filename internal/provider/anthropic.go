package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Anthropic adapts the Messages API.
type Anthropic struct {
	client *anthropic.Client
	cfg    AnthropicConfig
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-sonnet-20241022"
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, cfg: cfg}
}

func (a *Anthropic) Name() string         { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return a.cfg.DefaultModel }

func (a *Anthropic) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

func (a *Anthropic) Capabilities() Capabilities {
	// No native JSON mode; structured output rides on prompting plus
	// downstream extraction.
	return Capabilities{JSONMode: false, StructuredOutput: true, Streaming: true, Tools: true, Sampling: true}
}

func (a *Anthropic) Pricing(model string) Pricing {
	return lookupPricing(anthropicPricing, model)
}

func (a *Anthropic) Generate(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	return a.complete(ctx, a.buildParams(p))
}

func (a *Anthropic) GenerateWithTools(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	params := a.buildParams(p)
	params.Tools = buildAnthropicTools(p.Tools)
	return a.complete(ctx, params)
}

func (a *Anthropic) GenerateStructured(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	p.System = joinSystem(p.System, "Respond with a single JSON value and nothing else.")
	return a.complete(ctx, a.buildParams(p))
}

func (a *Anthropic) GenerateWithSchema(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	p.System = joinSystem(p.System, schemaInstruction(p.SchemaName, p.Schema))
	return a.complete(ctx, a.buildParams(p))
}

func (a *Anthropic) GenerateStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	return a.stream(ctx, a.buildParams(p), h)
}

func (a *Anthropic) GenerateWithToolsStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	params := a.buildParams(p)
	params.Tools = buildAnthropicTools(p.Tools)
	return a.stream(ctx, params, h)
}

func (a *Anthropic) complete(ctx context.Context, params anthropic.MessageNewParams) (*AiResponse, error) {
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}
	out := &AiResponse{
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:         int(msg.Usage.InputTokens),
			OutputTokens:        int(msg.Usage.OutputTokens),
			CacheReadTokens:     int(msg.Usage.CacheReadInputTokens),
			CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, _ := b.Input.MarshalJSON()
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
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

func (a *Anthropic) stream(ctx context.Context, params anthropic.MessageNewParams, h StreamHandler) (*AiResponse, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)

	var text strings.Builder
	out := &AiResponse{Model: string(params.Model)}
	agg := map[int64]*aggCall{}
	var order []int64
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			out.Usage.InputTokens = int(ev.Message.Usage.InputTokens)
			out.Usage.CacheReadTokens = int(ev.Message.Usage.CacheReadInputTokens)
			out.Usage.CacheCreationTokens = int(ev.Message.Usage.CacheCreationInputTokens)
		case anthropic.ContentBlockStartEvent:
			if tb, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				agg[ev.Index] = &aggCall{id: tb.ID, name: tb.Name}
				order = append(order, ev.Index)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				if err := h(delta.Text); err != nil {
					return nil, err
				}
			case anthropic.InputJSONDelta:
				if ac, ok := agg[ev.Index]; ok {
					ac.args += delta.PartialJSON
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Usage.OutputTokens > 0 {
				out.Usage.OutputTokens = int(ev.Usage.OutputTokens)
			}
			if ev.Delta.StopReason != "" {
				out.FinishReason = string(ev.Delta.StopReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, a.classify(err)
	}
	out.Content = text.String()
	for _, idx := range order {
		ac := agg[idx]
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
	}
	return out, nil
}

func (a *Anthropic) buildParams(p GenerateParams) anthropic.MessageNewParams {
	model := p.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	maxTokens := p.Sampling.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildAnthropicMessages(p.Messages),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	if p.Sampling.Temperature != nil {
		params.Temperature = anthropic.Float(*p.Sampling.Temperature)
	}
	if p.Sampling.TopP != nil {
		params.TopP = anthropic.Float(*p.Sampling.TopP)
	}
	if p.Sampling.TopK != nil {
		params.TopK = anthropic.Int(int64(*p.Sampling.TopK))
	}
	if len(p.Sampling.StopSequences) > 0 {
		params.StopSequences = p.Sampling.StopSequences
	}
	return params
}

func buildAnthropicMessages(messages []AiMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
				continue
			}
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				// The API requires tool_use.input to be a JSON object,
				// not the serialized string we carry.
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}
	return out
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: t.Parameters["properties"],
					Required:   requiredFields(t.Parameters),
				},
			},
		}
	}
	return out
}

func requiredFields(params map[string]any) []string {
	req, ok := params["required"].([]any)
	if !ok {
		if s, ok := params["required"].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(req))
	for _, r := range req {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Anthropic) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyStatus(a.Name(), apierr.StatusCode, err)
	}
	return &Error{Provider: a.Name(), Message: err.Error(), Err: err}
}
