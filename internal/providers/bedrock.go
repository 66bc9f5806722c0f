package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Bedrock serves AWS Bedrock foundation models through the Converse API.
// Model discovery uses the Bedrock control-plane ListFoundationModels call;
// embeddings go through InvokeModel against Titan embedding models.
type Bedrock struct {
	name    string
	runtime *bedrockruntime.Client
	control *bedrock.Client
	region  string
	logger  *observability.Logger
}

var _ Provider = (*Bedrock)(nil)

// NewBedrock builds the adapter. Optional settings: region (default
// us-east-1), access_key_id/secret_access_key/session_token for explicit
// credentials; the default AWS chain serves otherwise.
func NewBedrock(ctx context.Context, name string, settings Settings, logger *observability.Logger) (*Bedrock, error) {
	region := settings.Get("region", "us-east-1")

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if keyID := settings.Get("access_key_id", ""); keyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				keyID,
				settings.Get("secret_access_key", ""),
				settings.Get("session_token", ""),
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("providers: bedrock aws config: %w", err)
	}

	return &Bedrock{
		name:    name,
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
		region:  region,
		logger:  logger,
	}, nil
}

// Name returns the configured instance name.
func (p *Bedrock) Name() string { return p.name }

// Type returns the provider family.
func (p *Bedrock) Type() models.ProviderType { return models.ProviderAWSBedrock }

// Initialize verifies credentials by listing models.
func (p *Bedrock) Initialize(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// Health probes the control plane.
func (p *Bedrock) Health(ctx context.Context) error {
	input := &bedrock.ListFoundationModelsInput{
		ByOutputModality: bedrocktypes.ModelModalityText,
	}
	if _, err := p.control.ListFoundationModels(ctx, input); err != nil {
		return WrapError(p.name, "", err)
	}
	return nil
}

// ListModels discovers available foundation models.
func (p *Bedrock) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, WrapError(p.name, "", err)
	}

	infos := make([]ModelInfo, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		if summary.ModelId == nil {
			continue
		}
		id := aws.ToString(summary.ModelId)
		info := ModelInfo{
			ID:              id,
			Name:            aws.ToString(summary.ModelName),
			ContextTokens:   bedrockContextWindow(id),
			MaxOutputTokens: 4096,
		}
		for _, mod := range summary.InputModalities {
			if mod == bedrocktypes.ModelModalityImage {
				info.SupportsVision = true
			}
		}
		for _, mod := range summary.OutputModalities {
			if mod == bedrocktypes.ModelModalityEmbedding {
				info.Embeddings = true
			}
		}
		// Converse tool use is supported by the Claude and Nova families.
		if strings.Contains(id, "claude") || strings.Contains(id, "nova") {
			info.SupportsTools = true
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Complete starts a ConverseStream completion.
func (p *Bedrock) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	messages, err := toBedrockMessages(req.Messages)
	if err != nil {
		return nil, WrapError(p.name, req.Model, err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &types.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
		}
		if req.Temperature > 0 {
			cfg.Temperature = aws.Float32(req.Temperature)
		}
		if req.TopP > 0 {
			cfg.TopP = aws.Float32(req.TopP)
		}
		input.InferenceConfig = cfg
	}
	if len(req.Tools) > 0 {
		toolCfg, err := toBedrockTools(req.Tools)
		if err != nil {
			return nil, WrapError(p.name, req.Model, err)
		}
		input.ToolConfig = toolCfg
	}

	stream, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, WrapError(p.name, req.Model, err)
	}

	chunks := make(chan Chunk, streamBuffer)
	go p.pump(ctx, stream, chunks, req.Model)
	return chunks, nil
}

// pump converts ConverseStream events into chunks. Tool input arrives as
// partial JSON deltas that accumulate until the content block stops.
func (p *Bedrock) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- Chunk, model string) {
	defer close(chunks)

	var current *models.ToolCall
	var toolInput strings.Builder
	finish := models.FinishStop
	var usage *models.Usage

	for event := range stream.GetStream().Events() {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err()}
			return
		default:
		}

		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				current = &models.ToolCall{
					ID:   aws.ToString(toolUse.Value.ToolUseId),
					Name: aws.ToString(toolUse.Value.Name),
				}
				toolInput.Reset()
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					chunks <- Chunk{Text: delta.Value}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				toolInput.WriteString(aws.ToString(delta.Value.Input))
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if current != nil {
				current.Arguments = json.RawMessage(toolInput.String())
				chunks <- Chunk{ToolCall: current}
				current = nil
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			finish = mapBedrockStop(ev.Value.StopReason)

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				usage = &models.Usage{
					PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
					CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					TotalTokens:      int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
				}
			}
		}
	}

	if err := stream.GetStream().Err(); err != nil {
		chunks <- Chunk{Err: WrapError(p.name, model, err)}
		return
	}
	chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
}

// titanEmbedBody is the InvokeModel payload for Titan embedding models.
type titanEmbedBody struct {
	InputText string `json:"inputText"`
}

type titanEmbedResult struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedText embeds texts via Titan embedding models, one InvokeModel call
// per text.
func (p *Bedrock) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(titanEmbedBody{InputText: text})
		if err != nil {
			return nil, err
		}
		resp, err := p.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, WrapError(p.name, model, err)
		}
		var parsed titanEmbedResult
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("providers: %s embed decode: %w", p.name, err)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}

// toBedrockMessages converts canonical messages to Converse format. System
// messages are excluded here; Converse carries them separately. Consecutive
// same-role messages are merged since Converse requires strict alternation.
func toBedrockMessages(msgs []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		switch {
		case m.Role == models.RoleTool:
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Text()},
					},
				},
			})
		default:
			if text := m.Text(); text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: text})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		// Merge into the previous message when roles repeat.
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, content...)
			continue
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no convertible messages")
	}
	return result, nil
}

func toBedrockTools(tools []ToolDefinition) (*types.ToolConfiguration, error) {
	cfg := &types.ToolConfiguration{}
	for _, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", tool.Name, err)
		}
		cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return cfg, nil
}

func mapBedrockStop(reason types.StopReason) models.FinishReason {
	switch reason {
	case types.StopReasonToolUse:
		return models.FinishToolCalls
	case types.StopReasonMaxTokens:
		return models.FinishLength
	default:
		return models.FinishStop
	}
}

// bedrockContextWindow returns the context window for known families.
func bedrockContextWindow(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude"):
		return 200000
	case strings.Contains(modelID, "nova"):
		return 300000
	case strings.Contains(modelID, "llama3"):
		return 8192
	case strings.Contains(modelID, "titan"):
		return 8192
	default:
		return 32000
	}
}
