// Package providers abstracts the LLM backends behind one capability set:
// model listing, streaming chat completion, embeddings, and health. Every
// adapter converts between the canonical request shape and its wire format;
// the Manager layers selection and failover on top.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arcfault/switchboard/pkg/models"
)

// Request is the canonical completion request all adapters accept.
type Request struct {
	Model    string
	System   string
	Messages []models.Message

	// Tools is empty when tool stripping removed them for this turn.
	Tools []ToolDefinition

	MaxTokens   int
	Temperature float32
	TopP        float32

	// JSONMode asks the model for a JSON object response where supported.
	JSONMode bool
}

// ToolDefinition describes one callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Chunk is one element of a completion stream. Exactly one of Text,
// ToolCall, Done, or Err carries the payload; Usage rides on the Done
// chunk when the backend reports it.
type Chunk struct {
	Text     string
	ToolCall *models.ToolCall

	Done         bool
	FinishReason models.FinishReason
	Usage        *models.Usage

	Err error
}

// Response is the aggregated, non-streaming form of a completion.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason models.FinishReason
	Usage        models.Usage
	Model        string
}

// ModelInfo is one discoverable model on a provider.
type ModelInfo struct {
	ID              string
	Name            string
	ContextTokens   int
	MaxOutputTokens int
	SupportsTools   bool
	SupportsVision  bool
	SupportsJSON    bool
	Embeddings      bool
}

// Provider is the unified backend capability set. Implementations are safe
// for concurrent use after Initialize returns.
type Provider interface {
	// Name is the configured instance name, unique within a deployment.
	Name() string

	// Type identifies the provider family.
	Type() models.ProviderType

	// Initialize verifies configuration and prepares clients. It is called
	// once before any other method.
	Initialize(ctx context.Context) error

	// ListModels returns the models this provider can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Complete starts a streaming completion. The returned channel is
	// closed after the terminal chunk (Done or Err). Errors detected
	// before streaming begins are returned directly.
	Complete(ctx context.Context, req *Request) (<-chan Chunk, error)

	// EmbedText embeds the given texts with the named model. Providers
	// without an embeddings surface return ErrEmbeddingsUnsupported.
	EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error)

	// Health performs a lightweight liveness probe.
	Health(ctx context.Context) error
}

// ErrEmbeddingsUnsupported is returned by providers with no embeddings API.
var ErrEmbeddingsUnsupported = errors.New("providers: embeddings not supported")

// streamBuffer is the channel depth adapters use for completion streams.
const streamBuffer = 64

// Collect drains a completion stream into an aggregated Response. Text
// deltas are concatenated, tool calls collected in arrival order.
func Collect(ch <-chan Chunk) (*Response, error) {
	resp := &Response{FinishReason: models.FinishStop}
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			return nil, chunk.Err
		case chunk.ToolCall != nil:
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		case chunk.Done:
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		default:
			resp.Content += chunk.Text
		}
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == models.FinishStop {
		resp.FinishReason = models.FinishToolCalls
	}
	return resp, nil
}

// Settings is the free-form adapter configuration from the provider entry.
type Settings map[string]string

// Get returns the value for key, or fallback when unset.
func (s Settings) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Require returns the value for key or an error naming the missing key.
func (s Settings) Require(key string) (string, error) {
	if v, ok := s[key]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("providers: missing required setting %q", key)
}

// EstimateTokens approximates the token count of a text using the
// four-characters-per-token heuristic, rounding up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
