package stages

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/internal/router"
	"github.com/arcfault/switchboard/pkg/models"
)

// scriptedBackend serves a fixed chunk sequence for llm stage tests.
type scriptedBackend struct {
	name   string
	chunks []providers.Chunk
}

func (b *scriptedBackend) Name() string                     { return b.name }
func (b *scriptedBackend) Type() models.ProviderType        { return models.ProviderOllama }
func (b *scriptedBackend) Initialize(context.Context) error { return nil }
func (b *scriptedBackend) Health(context.Context) error     { return nil }

func (b *scriptedBackend) ListModels(context.Context) ([]providers.ModelInfo, error) {
	return []providers.ModelInfo{{ID: "m-test"}}, nil
}

func (b *scriptedBackend) EmbedText(context.Context, string, []string) ([][]float32, error) {
	return nil, providers.ErrEmbeddingsUnsupported
}

func (b *scriptedBackend) Complete(context.Context, *providers.Request) (<-chan providers.Chunk, error) {
	ch := make(chan providers.Chunk, len(b.chunks))
	for _, c := range b.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func llmStage(t *testing.T, backend *scriptedBackend) *LLM {
	t.Helper()
	m := providers.NewManager(config.ProvidersConfig{
		Strategy:           config.StrategyPriority,
		FailoverTimeout:    5 * time.Second,
		UnhealthyThreshold: 3,
	}, observability.NopLogger(), newMetrics())
	m.Register(backend, 1)
	return NewLLM(m, observability.NopLogger())
}

func routedPC(model, provider string) *pipeline.PipelineContext {
	pc := basePC()
	pc.Routing = &router.RoutingDecision{ModelID: model, Provider: provider}
	return pc
}

func TestLLMStreamsTextAndAggregates(t *testing.T) {
	backend := &scriptedBackend{name: "ollama", chunks: []providers.Chunk{
		{Text: "Hello, "},
		{Text: "world."},
		{Done: true, FinishReason: models.FinishStop, Usage: &models.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}},
	}}
	stage := llmStage(t, backend)
	pc := routedPC("m-test", "ollama")
	events := pipeline.NewEventStream(64)

	if err := stage.Run(context.Background(), pc, events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events.Close()

	if pc.Response.Content != "Hello, world." {
		t.Fatalf("content = %q", pc.Response.Content)
	}
	if pc.Response.Usage.TotalTokens != 16 {
		t.Fatalf("usage = %+v", pc.Response.Usage)
	}
	if pc.ServedProvider != "ollama" {
		t.Fatalf("served = %q", pc.ServedProvider)
	}

	var deltas int
	for ev := range events.Events() {
		if ev.Type == models.EventTextDelta {
			deltas++
		}
	}
	if deltas != 2 {
		t.Fatalf("text deltas = %d, want 2", deltas)
	}
}

func TestLLMNormalizesBadToolArguments(t *testing.T) {
	backend := &scriptedBackend{name: "ollama", chunks: []providers.Chunk{
		{ToolCall: &models.ToolCall{ID: "c1", Name: "jira.create_ticket", Arguments: json.RawMessage(`{"title": "broken`)}},
		{Done: true, FinishReason: models.FinishToolCalls},
	}}
	stage := llmStage(t, backend)
	pc := routedPC("m-test", "ollama")
	events := pipeline.NewEventStream(64)

	if err := stage.Run(context.Background(), pc, events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events.Close()

	if len(pc.Response.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(pc.Response.ToolCalls))
	}
	if got := string(pc.Response.ToolCalls[0].Arguments); got != "{}" {
		t.Fatalf("arguments = %q, want {}", got)
	}
	if pc.Response.FinishReason != models.FinishToolCalls {
		t.Fatalf("finish = %s, want tool_calls", pc.Response.FinishReason)
	}
}

func TestLLMEstimatesUsageWhenUnreported(t *testing.T) {
	backend := &scriptedBackend{name: "ollama", chunks: []providers.Chunk{
		{Text: "four byte pieces here"},
		{Done: true, FinishReason: models.FinishStop},
	}}
	stage := llmStage(t, backend)
	pc := routedPC("m-test", "ollama")
	events := pipeline.NewEventStream(64)

	if err := stage.Run(context.Background(), pc, events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events.Close()

	if pc.Response.Usage.TotalTokens == 0 {
		t.Fatal("usage should be estimated when the backend reports none")
	}
}

func TestLLMRequiresRouting(t *testing.T) {
	stage := llmStage(t, &scriptedBackend{name: "ollama"})
	pc := basePC()

	err := stage.Run(context.Background(), pc, pipeline.NewEventStream(8))
	if pipeline.KindOf(err) != pipeline.KindInternal {
		t.Fatalf("kind = %s, want internal", pipeline.KindOf(err))
	}
}
