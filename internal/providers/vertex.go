package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Vertex serves Gemini models on Google Vertex AI via the Gen AI SDK.
type Vertex struct {
	name    string
	client  *genai.Client
	logger  *observability.Logger
	catalog []ModelInfo
}

var _ Provider = (*Vertex)(nil)

// NewVertex builds the adapter. Settings: project and location for the
// Vertex backend, or api_key for the Gemini API backend. Optional: models
// (comma list of servable model IDs).
func NewVertex(ctx context.Context, name string, settings Settings, logger *observability.Logger) (*Vertex, error) {
	cfg := &genai.ClientConfig{}
	if apiKey := settings.Get("api_key", ""); apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	} else {
		project, err := settings.Require("project")
		if err != nil {
			return nil, err
		}
		cfg.Project = project
		cfg.Location = settings.Get("location", "us-central1")
		cfg.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("providers: vertex client: %w", err)
	}

	return &Vertex{
		name:    name,
		client:  client,
		logger:  logger,
		catalog: vertexCatalog(settings.Get("models", "")),
	}, nil
}

// Name returns the configured instance name.
func (p *Vertex) Name() string { return p.name }

// Type returns the provider family.
func (p *Vertex) Type() models.ProviderType { return models.ProviderGoogleVertex }

// Initialize verifies the client with a minimal token count call.
func (p *Vertex) Initialize(ctx context.Context) error {
	return p.Health(ctx)
}

// Health probes with a one-token count request against the first model.
func (p *Vertex) Health(ctx context.Context) error {
	if len(p.catalog) == 0 {
		return nil
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: "ping"}},
	}}
	if _, err := p.client.Models.CountTokens(ctx, p.catalog[0].ID, contents, nil); err != nil {
		return WrapError(p.name, p.catalog[0].ID, err)
	}
	return nil
}

// ListModels returns the configured model set.
func (p *Vertex) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out := make([]ModelInfo, len(p.catalog))
	copy(out, p.catalog)
	return out, nil
}

// Complete starts a streaming generation.
func (p *Vertex) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	contents, err := toVertexContents(req.Messages)
	if err != nil {
		return nil, WrapError(p.name, req.Model, err)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(req.TopP)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, WrapError(p.name, req.Model, fmt.Errorf("tool %s schema: %w", t.Name, err))
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			})
		}
		cfg.Tools = []*genai.Tool{tool}
	}

	chunks := make(chan Chunk, streamBuffer)
	go p.pump(ctx, req.Model, contents, cfg, chunks)
	return chunks, nil
}

// pump iterates the generation stream. Gemini delivers function calls as
// complete parts, so no delta accumulation is needed.
func (p *Vertex) pump(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, chunks chan<- Chunk) {
	defer close(chunks)

	finish := models.FinishStop
	var usage *models.Usage
	toolSeq := 0

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			if ctx.Err() != nil {
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
			chunks <- Chunk{Err: WrapError(p.name, model, err)}
			return
		}
		if resp.UsageMetadata != nil {
			usage = &models.Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				switch {
				case part.Text != "":
					chunks <- Chunk{Text: part.Text}
				case part.FunctionCall != nil:
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						args = []byte("{}")
					}
					toolSeq++
					chunks <- Chunk{ToolCall: &models.ToolCall{
						ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, toolSeq),
						Name:      part.FunctionCall.Name,
						Arguments: args,
					}}
					finish = models.FinishToolCalls
				}
			}
		}
		switch cand.FinishReason {
		case genai.FinishReasonMaxTokens:
			finish = models.FinishLength
		}
	}
	chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
}

// EmbedText embeds texts with a Gemini embedding model.
func (p *Vertex) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		})
	}
	resp, err := p.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, WrapError(p.name, model, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("providers: %s returned %d vectors for %d texts", p.name, len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// toVertexContents converts canonical messages. Tool results become
// FunctionResponse parts on the user side; assistant tool calls become
// FunctionCall parts.
func toVertexContents(msgs []models.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if m.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		switch m.Role {
		case models.RoleTool:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(m.Text()), &parsed); err != nil {
				parsed = map[string]any{"result": m.Text()}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     m.ToolCallID,
					Response: parsed,
				},
			})
		default:
			for _, part := range m.Parts {
				if part.Type == models.ContentText && part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}
				// Image parts arrive as URLs.
				if part.Type == models.ContentImage && part.ImageURL != "" {
					content.Parts = append(content.Parts, &genai.Part{
						FileData: &genai.FileData{FileURI: part.ImageURL},
					})
				}
			}
			if len(m.Parts) == 0 && m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		out = append(out, content)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no convertible messages")
	}
	return out, nil
}

// vertexCatalog builds ModelInfo entries for the configured model list.
func vertexCatalog(raw string) []ModelInfo {
	ids := splitList(raw)
	if len(ids) == 0 {
		ids = []string{"gemini-2.0-flash", "gemini-1.5-pro"}
	}
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		info := ModelInfo{
			ID:              id,
			Name:            id,
			ContextTokens:   1048576,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			SupportsVision:  true,
			SupportsJSON:    true,
		}
		if strings.Contains(id, "embedding") {
			info = ModelInfo{ID: id, Name: id, ContextTokens: 2048, Embeddings: true}
		}
		if strings.Contains(id, "1.5-pro") {
			info.ContextTokens = 2097152
		}
		out = append(out, info)
	}
	return out
}
