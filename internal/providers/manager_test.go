package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// fakeProvider is a scriptable backend for manager tests.
type fakeProvider struct {
	name        string
	completeErr error
	text        string
	calls       int
}

func (f *fakeProvider) Name() string                         { return f.name }
func (f *fakeProvider) Type() models.ProviderType            { return models.ProviderOllama }
func (f *fakeProvider) Initialize(context.Context) error     { return nil }
func (f *fakeProvider) Health(context.Context) error         { return f.completeErr }
func (f *fakeProvider) ListModels(context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "test-model"}}, nil
}
func (f *fakeProvider) EmbedText(context.Context, string, []string) ([][]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	f.calls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	ch := make(chan Chunk, 2)
	ch <- Chunk{Text: f.text}
	ch <- Chunk{Done: true, FinishReason: models.FinishStop, Usage: &models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}
	close(ch)
	return ch, nil
}

func testManager(t *testing.T, cfg config.ProvidersConfig) *Manager {
	t.Helper()
	cfg.Strategy = config.StrategyPriority
	if cfg.FailoverTimeout == 0 {
		cfg.FailoverTimeout = 5 * time.Second
	}
	if cfg.UnhealthyThreshold == 0 {
		cfg.UnhealthyThreshold = 3
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewManager(cfg, observability.NopLogger(), metrics)
}

func TestCompletePreferredProvider(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: true})
	a := &fakeProvider{name: "alpha", text: "from alpha"}
	b := &fakeProvider{name: "beta", text: "from beta"}
	m.Register(a, 1)
	m.Register(b, 2)

	ch, served, err := m.Complete(context.Background(), "beta", &Request{Model: "test-model"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if served != "beta" {
		t.Fatalf("served = %q, want beta", served)
	}
	resp, err := Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "from beta" {
		t.Fatalf("content = %q", resp.Content)
	}
	if a.calls != 0 {
		t.Fatalf("alpha called %d times, want 0", a.calls)
	}
}

func TestCompleteFailsOverOnServerError(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: true})
	bad := &fakeProvider{name: "alpha", completeErr: errors.New("internal server error: 503")}
	good := &fakeProvider{name: "beta", text: "recovered"}
	m.Register(bad, 1)
	m.Register(good, 2)

	ch, served, err := m.Complete(context.Background(), "alpha", &Request{Model: "test-model"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if served != "beta" {
		t.Fatalf("served = %q, want beta", served)
	}
	resp, err := Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestCompleteNoFailoverOnInvalidRequest(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: true})
	bad := &fakeProvider{name: "alpha", completeErr: errors.New("bad request: 400 malformed tool schema")}
	good := &fakeProvider{name: "beta", text: "should not serve"}
	m.Register(bad, 1)
	m.Register(good, 2)

	_, _, err := m.Complete(context.Background(), "alpha", &Request{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error")
	}
	if good.calls != 0 {
		t.Fatalf("beta called %d times on non-failover error", good.calls)
	}
}

func TestCompleteFailoverDisabled(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: false})
	bad := &fakeProvider{name: "alpha", completeErr: errors.New("503 server error")}
	good := &fakeProvider{name: "beta", text: "unreached"}
	m.Register(bad, 1)
	m.Register(good, 2)

	_, _, err := m.Complete(context.Background(), "alpha", &Request{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error with failover disabled")
	}
	if good.calls != 0 {
		t.Fatalf("beta called %d times with failover disabled", good.calls)
	}
}

func TestUnhealthyAfterConsecutiveFailures(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: false, UnhealthyThreshold: 2})
	bad := &fakeProvider{name: "alpha", completeErr: errors.New("timeout: deadline exceeded")}
	m.Register(bad, 1)

	for i := 0; i < 2; i++ {
		if _, _, err := m.Complete(context.Background(), "alpha", &Request{Model: "m"}); err == nil {
			t.Fatal("expected error")
		}
	}

	snaps := m.HealthSnapshots()
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d", len(snaps))
	}
	if snaps[0].Healthy {
		t.Fatal("provider should be unhealthy after threshold failures")
	}

	// Unhealthy providers drop out of candidate selection.
	if _, _, err := m.Complete(context.Background(), "alpha", &Request{Model: "m"}); err == nil {
		t.Fatal("expected no-healthy-providers error")
	} else if ReasonOf(err) != ReasonModelUnavailable {
		t.Fatalf("reason = %s, want model_unavailable", ReasonOf(err))
	}
}

func TestHealthRecoversAfterSuccess(t *testing.T) {
	h := newHealthState()
	h.recordFailure(3)
	h.recordFailure(3)
	h.recordFailure(3)
	if h.isHealthy() {
		t.Fatal("want unhealthy at threshold")
	}
	h.recordSuccess(100 * time.Millisecond)
	if !h.isHealthy() {
		t.Fatal("want healthy after success")
	}
	if h.avgLatencyMs() != 100 {
		t.Fatalf("latency = %v, want 100 (first sample)", h.avgLatencyMs())
	}
}

func TestEmbedFallsBackAcrossProviders(t *testing.T) {
	m := testManager(t, config.ProvidersConfig{EnableFailover: true})
	m.Register(&fakeProvider{name: "alpha"}, 1)
	m.Register(&embedProvider{fakeProvider{name: "beta"}}, 2)

	vecs, err := m.Embed(context.Background(), "alpha", "embed-model", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vecs))
	}
}

type embedProvider struct{ fakeProvider }

func (e *embedProvider) EmbedText(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
