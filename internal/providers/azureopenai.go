package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// AzureOpenAI serves Azure OpenAI deployments and Azure AI Foundry
// endpoints. Both speak the OpenAI wire protocol; they differ only in how
// the client is configured, so one adapter covers both provider types.
type AzureOpenAI struct {
	name   string
	ptype  models.ProviderType
	client *openai.Client
	logger *observability.Logger

	// deployments maps model IDs to Azure deployment names. Empty means
	// the model ID is the deployment name.
	deployments map[string]string

	// catalog is the static model list for this endpoint; Azure has no
	// usable discovery API for chat deployments.
	catalog []ModelInfo
}

var _ Provider = (*AzureOpenAI)(nil)

// NewAzureOpenAI builds the adapter from instance settings. Required
// settings: endpoint, api_key. Optional: deployments ("model=deployment"
// comma list), models (comma list of servable model IDs).
func NewAzureOpenAI(name string, ptype models.ProviderType, settings Settings, logger *observability.Logger) (*AzureOpenAI, error) {
	endpoint, err := settings.Require("endpoint")
	if err != nil {
		return nil, err
	}
	apiKey, err := settings.Require("api_key")
	if err != nil {
		return nil, err
	}

	deployments := parseDeploymentMap(settings.Get("deployments", ""))

	var cfg openai.ClientConfig
	if ptype == models.ProviderAzureFoundry {
		// Foundry endpoints are OpenAI-compatible with bearer auth.
		cfg = openai.DefaultConfig(apiKey)
		cfg.BaseURL = strings.TrimSuffix(endpoint, "/")
	} else {
		cfg = openai.DefaultAzureConfig(apiKey, endpoint)
		if len(deployments) > 0 {
			cfg.AzureModelMapperFunc = func(model string) string {
				if d, ok := deployments[model]; ok {
					return d
				}
				return model
			}
		}
	}

	return &AzureOpenAI{
		name:        name,
		ptype:       ptype,
		client:      openai.NewClientWithConfig(cfg),
		logger:      logger,
		deployments: deployments,
		catalog:     azureCatalog(settings.Get("models", "")),
	}, nil
}

// Name returns the configured instance name.
func (p *AzureOpenAI) Name() string { return p.name }

// Type returns the provider family.
func (p *AzureOpenAI) Type() models.ProviderType { return p.ptype }

// Initialize verifies the endpoint responds.
func (p *AzureOpenAI) Initialize(ctx context.Context) error {
	return p.Health(ctx)
}

// ListModels returns the configured model set.
func (p *AzureOpenAI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out := make([]ModelInfo, len(p.catalog))
	copy(out, p.catalog)
	return out, nil
}

// Health probes the endpoint with a model list call.
func (p *AzureOpenAI) Health(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return WrapError(p.name, "", err)
	}
	return nil
}

// Complete starts a streaming chat completion.
func (p *AzureOpenAI) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	oreq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      toOpenAIMessages(req.System, req.Messages),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.JSONMode {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, tool := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, WrapError(p.name, req.Model, err)
	}

	chunks := make(chan Chunk, streamBuffer)
	go p.pump(ctx, stream, chunks, req.Model)
	return chunks, nil
}

// pump drains the SSE stream, accumulating tool calls by index until the
// finish reason arrives.
func (p *AzureOpenAI) pump(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	type pending struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*pending)
	order := make([]int, 0, 2)

	finish := models.FinishStop
	var usage *models.Usage

	flush := func() {
		for _, idx := range order {
			pc := calls[idx]
			chunks <- Chunk{ToolCall: &models.ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: json.RawMessage(pc.args.String()),
			}}
		}
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
			chunks <- Chunk{Err: WrapError(p.name, model, err)}
			return
		}

		if resp.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				pc = &pending{}
				calls[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finish = mapOpenAIFinish(choice.FinishReason)
		}
	}
}

// EmbedText embeds texts via the embeddings deployment.
func (p *AzureOpenAI) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, WrapError(p.name, model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("providers: %s returned %d vectors for %d texts", p.name, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		out[item.Index] = item.Embedding
	}
	return out, nil
}

// toOpenAIMessages converts canonical messages, prepending the system
// prompt and expanding multi-part vision content.
func toOpenAIMessages(system string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) > 0 {
			for _, part := range m.Parts {
				switch part.Type {
				case models.ContentImage:
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func mapOpenAIFinish(reason openai.FinishReason) models.FinishReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.FinishToolCalls
	case openai.FinishReasonLength:
		return models.FinishLength
	default:
		return models.FinishStop
	}
}

// parseDeploymentMap parses "gpt-4o=gpt4o-prod,gpt-4o-mini=mini" pairs.
func parseDeploymentMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if k, v, ok := strings.Cut(pair, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// azureCatalog builds ModelInfo entries for the configured model list,
// falling back to a stock GPT-4o pair when none is given.
func azureCatalog(raw string) []ModelInfo {
	ids := splitList(raw)
	if len(ids) == 0 {
		ids = []string{"gpt-4o", "gpt-4o-mini"}
	}
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		info := ModelInfo{
			ID:              id,
			Name:            id,
			ContextTokens:   128000,
			MaxOutputTokens: 4096,
			SupportsTools:   true,
			SupportsJSON:    true,
		}
		switch {
		case strings.Contains(id, "embedding"):
			info.Embeddings = true
			info.SupportsTools = false
			info.SupportsJSON = false
			info.ContextTokens = 8191
		case strings.HasPrefix(id, "gpt-4o") || strings.HasPrefix(id, "gpt-4.1"):
			info.SupportsVision = true
		case strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3"):
			info.ContextTokens = 200000
			info.MaxOutputTokens = 100000
		}
		out = append(out, info)
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
