package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAI adapts the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, cfg: cfg}
}

func (o *OpenAI) Name() string         { return "openai" }
func (o *OpenAI) DefaultModel() string { return o.cfg.DefaultModel }

func (o *OpenAI) SupportsModel(model string) bool {
	for _, prefix := range []string{"gpt-", "o1", "o3", "chatgpt-"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (o *OpenAI) Capabilities() Capabilities {
	return Capabilities{JSONMode: true, StructuredOutput: true, Streaming: true, Tools: true, Sampling: true}
}

func (o *OpenAI) Pricing(model string) Pricing {
	return lookupPricing(openaiPricing, model)
}

func (o *OpenAI) Generate(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	return o.complete(ctx, o.buildParams(p))
}

func (o *OpenAI) GenerateWithTools(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	params := o.buildParams(p)
	params.Tools = buildOpenAITools(p.Tools)
	return o.complete(ctx, params)
}

func (o *OpenAI) GenerateStructured(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	params := o.buildParams(p)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	return o.complete(ctx, params)
}

func (o *OpenAI) GenerateWithSchema(ctx context.Context, p GenerateParams) (*AiResponse, error) {
	params := o.buildParams(p)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   p.SchemaName,
				Schema: p.Schema,
				Strict: openai.Bool(p.Strict),
			},
		},
	}
	return o.complete(ctx, params)
}

func (o *OpenAI) GenerateStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	return o.stream(ctx, o.buildParams(p), h)
}

func (o *OpenAI) GenerateWithToolsStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error) {
	params := o.buildParams(p)
	params.Tools = buildOpenAITools(p.Tools)
	return o.stream(ctx, params, h)
}

func (o *OpenAI) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*AiResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &AiResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:     int(resp.Usage.PromptTokens),
			OutputTokens:    int(resp.Usage.CompletionTokens),
			CacheReadTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

// aggCall accumulates one tool call's streaming deltas, keyed by the
// chunk's tool call index.
type aggCall struct{ id, name, args string }

func (o *OpenAI) stream(ctx context.Context, params openai.ChatCompletionNewParams, h StreamHandler) (*AiResponse, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	var text strings.Builder
	agg := map[int64]*aggCall{}
	out := &AiResponse{}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			out.Usage.InputTokens = int(chunk.Usage.PromptTokens)
			out.Usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			out.Usage.CacheReadTokens = int(chunk.Usage.PromptTokensDetails.CachedTokens)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if err := h(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, o.classify(err)
	}
	out.Content = text.String()
	for i := int64(0); i < int64(len(agg)); i++ {
		if ac, ok := agg[i]; ok {
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
		}
	}
	return out, nil
}

func (o *OpenAI) buildParams(p GenerateParams) openai.ChatCompletionNewParams {
	model := p.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	for _, m := range p.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls},
			})
		case RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if p.Sampling.Temperature != nil {
		params.Temperature = openai.Float(*p.Sampling.Temperature)
	}
	if p.Sampling.TopP != nil {
		params.TopP = openai.Float(*p.Sampling.TopP)
	}
	if p.Sampling.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.Sampling.MaxTokens))
	}
	if len(p.Sampling.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: p.Sampling.StopSequences,
		}
	}
	return params
}

func buildOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		}
	}
	return out
}

func (o *OpenAI) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(o.Name(), apierr.StatusCode, err)
	}
	return &Error{Provider: o.Name(), Message: err.Error(), Err: err}
}
