package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Anthropic serves the Anthropic Messages API directly.
type Anthropic struct {
	name    string
	client  anthropic.Client
	logger  *observability.Logger
	catalog []ModelInfo
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic builds the adapter. Required settings: api_key. Optional:
// base_url, models (comma list of servable model IDs).
func NewAnthropic(name string, settings Settings, logger *observability.Logger) (*Anthropic, error) {
	apiKey, err := settings.Require("api_key")
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := settings.Get("base_url", ""); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		name:    name,
		client:  anthropic.NewClient(opts...),
		logger:  logger,
		catalog: anthropicCatalog(settings.Get("models", "")),
	}, nil
}

// Name returns the configured instance name.
func (p *Anthropic) Name() string { return p.name }

// Type returns the provider family.
func (p *Anthropic) Type() models.ProviderType { return models.ProviderAnthropicAPI }

// Initialize verifies the API key with a minimal request.
func (p *Anthropic) Initialize(ctx context.Context) error {
	return p.Health(ctx)
}

// Health probes with a one-token completion against the cheapest model.
func (p *Anthropic) Health(ctx context.Context) error {
	model := "claude-3-5-haiku-latest"
	if len(p.catalog) > 0 {
		model = p.catalog[len(p.catalog)-1].ID
	}
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return WrapError(p.name, model, err)
	}
	return nil
}

// ListModels returns the configured model set.
func (p *Anthropic) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out := make([]ModelInfo, len(p.catalog))
	copy(out, p.catalog)
	return out, nil
}

// EmbedText is unsupported; Anthropic has no embeddings API.
func (p *Anthropic) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

// Complete starts a streaming message.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}
	for _, tool := range req.Tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, WrapError(p.name, req.Model, err)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan Chunk, streamBuffer)
	go p.pump(ctx, stream, chunks, req.Model)
	return chunks, nil
}

// pump converts Messages SSE events into chunks. Tool input arrives as
// partial JSON deltas between block start and block stop.
func (p *Anthropic) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var current *models.ToolCall
	var toolInput strings.Builder
	finish := models.FinishStop
	usage := &models.Usage{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				current.Arguments = json.RawMessage(toolInput.String())
				chunks <- Chunk{ToolCall: current}
				current = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			usage.CompletionTokens = int(delta.Usage.OutputTokens)
			switch delta.Delta.StopReason {
			case "tool_use":
				finish = models.FinishToolCalls
			case "max_tokens":
				finish = models.FinishLength
			}

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			chunks <- Chunk{Err: ctx.Err()}
			return
		}
		chunks <- Chunk{Err: WrapError(p.name, model, err)}
		return
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
}

// toAnthropicMessages converts canonical messages. Tool results ride on
// user-role messages; assistant tool calls become tool_use blocks.
func toAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			continue
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Text(), false),
			))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := m.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			if text := m.Text(); text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	return out
}

// anthropicCatalog builds ModelInfo entries for the configured model list.
func anthropicCatalog(raw string) []ModelInfo {
	ids := splitList(raw)
	if len(ids) == 0 {
		ids = []string{"claude-sonnet-4-0", "claude-3-5-haiku-latest"}
	}
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ModelInfo{
			ID:              id,
			Name:            id,
			ContextTokens:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			SupportsVision:  !strings.Contains(id, "haiku-3"),
		})
	}
	return out
}
