package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Ollama serves models on a local or remote Ollama instance over its HTTP
// API. Responses stream as newline-delimited JSON.
type Ollama struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *observability.Logger
}

var _ Provider = (*Ollama)(nil)

// NewOllama builds the adapter. Optional settings: base_url (default
// http://localhost:11434), timeout_seconds.
func NewOllama(name string, settings Settings, logger *observability.Logger) (*Ollama, error) {
	timeout := 120 * time.Second
	if raw := settings.Get("timeout_seconds", ""); raw != "" {
		var secs int
		if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	return &Ollama{
		name:    name,
		baseURL: settings.Get("base_url", "http://localhost:11434"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Name returns the configured instance name.
func (p *Ollama) Name() string { return p.name }

// Type returns the provider family.
func (p *Ollama) Type() models.ProviderType { return models.ProviderOllama }

// Initialize verifies the instance responds.
func (p *Ollama) Initialize(ctx context.Context) error {
	return p.Health(ctx)
}

// Health probes the version endpoint.
func (p *Ollama) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(p.name, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Reason: ClassifyStatus(resp.StatusCode), Provider: p.name, Status: resp.StatusCode}
	}
	return nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family        string `json:"family"`
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels discovers locally pulled models via /api/tags.
func (p *Ollama) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, WrapError(p.name, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Reason: ClassifyStatus(resp.StatusCode), Provider: p.name, Status: resp.StatusCode}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("providers: %s tags decode: %w", p.name, err)
	}

	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, ModelInfo{
			ID:              m.Name,
			Name:            m.Name,
			ContextTokens:   8192,
			MaxOutputTokens: 4096,
			// llama3.1+ and qwen handle tools; assume capable and let
			// the call fail for models that are not.
			SupportsTools: true,
		})
	}
	return out, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatLine struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Complete starts a streaming chat completion.
func (p *Ollama) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	oreq := ollamaChatRequest{
		Model:  req.Model,
		Stream: true,
	}
	if req.System != "" {
		oreq.Messages = append(oreq.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Text()}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, call)
		}
		oreq.Messages = append(oreq.Messages, om)
	}
	for _, t := range req.Tools {
		var tool ollamaTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		oreq.Tools = append(oreq.Tools, tool)
	}
	if req.JSONMode {
		oreq.Format = "json"
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		oreq.Options = map[string]any{}
		if req.Temperature > 0 {
			oreq.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			oreq.Options["num_predict"] = req.MaxTokens
		}
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(p.name, req.Model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &Error{
			Reason:   ClassifyStatus(resp.StatusCode),
			Provider: p.name,
			Model:    req.Model,
			Status:   resp.StatusCode,
			Cause:    fmt.Errorf("%s", payload),
		}
	}

	chunks := make(chan Chunk, streamBuffer)
	go p.pump(ctx, resp.Body, chunks, req.Model)
	return chunks, nil
}

// pump reads newline-delimited JSON until the done line.
func (p *Ollama) pump(ctx context.Context, body io.ReadCloser, chunks chan<- Chunk, model string) {
	defer close(chunks)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	toolSeq := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err()}
			return
		default:
		}

		var line ollamaChatLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			chunks <- Chunk{Err: WrapError(p.name, model, fmt.Errorf("%s", line.Error))}
			return
		}
		if line.Message.Content != "" {
			chunks <- Chunk{Text: line.Message.Content}
		}
		for _, call := range line.Message.ToolCalls {
			toolSeq++
			args := call.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			chunks <- Chunk{ToolCall: &models.ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", call.Function.Name, toolSeq),
				Name:      call.Function.Name,
				Arguments: args,
			}}
		}
		if line.Done {
			finish := models.FinishStop
			switch {
			case toolSeq > 0:
				finish = models.FinishToolCalls
			case line.DoneReason == "length":
				finish = models.FinishLength
			}
			chunks <- Chunk{
				Done:         true,
				FinishReason: finish,
				Usage: &models.Usage{
					PromptTokens:     line.PromptEvalCount,
					CompletionTokens: line.EvalCount,
					TotalTokens:      line.PromptEvalCount + line.EvalCount,
				},
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		chunks <- Chunk{Err: WrapError(p.name, model, err)}
		return
	}
	chunks <- Chunk{Done: true, FinishReason: models.FinishStop}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedText embeds texts one prompt per call; the API has no batch form.
func (p *Ollama) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = "nomic-embed-text"
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, WrapError(p.name, model, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &Error{Reason: ClassifyStatus(resp.StatusCode), Provider: p.name, Model: model, Status: resp.StatusCode}
		}
		var parsed ollamaEmbedResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("providers: %s embed decode: %w", p.name, err)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}
