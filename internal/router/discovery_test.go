package router

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/internal/vector"
	"github.com/arcfault/switchboard/pkg/models"
)

func TestBuildProfileFamilyRules(t *testing.T) {
	now := time.Now()
	cases := []struct {
		id           string
		tools        bool
		wantFamily   string
		wantAccuracy float64
	}{
		{"gpt-4o", true, "gpt-4o", 0.96},
		{"gpt-4o-mini", true, "gpt-4o", 0.93},
		{"anthropic.claude-sonnet-4-20250514-v1:0", true, "claude", 0.96},
		{"gemini-2.0-flash", true, "gemini", 0.93},
		{"meta.llama3-70b-instruct-v1:0", true, "llama", 0.80},
		{"unknown-chat-model", true, "unknown-chat-model", defaultFCAccuracy},
	}
	for _, tc := range cases {
		info := providers.ModelInfo{ID: tc.id, ContextTokens: 128000, SupportsTools: tc.tools}
		p := buildProfile("prov", models.ProviderAWSBedrock, info, now)
		if p.Metadata.Family != tc.wantFamily {
			t.Errorf("%s: family = %q, want %q", tc.id, p.Metadata.Family, tc.wantFamily)
		}
		if p.Capabilities.FunctionCallingAccuracy != tc.wantAccuracy {
			t.Errorf("%s: accuracy = %v, want %v", tc.id, p.Capabilities.FunctionCallingAccuracy, tc.wantAccuracy)
		}
		if !p.Metadata.IsAvailable {
			t.Errorf("%s: should be available after discovery", tc.id)
		}
	}
}

func TestBuildProfileEmbeddingModel(t *testing.T) {
	info := providers.ModelInfo{ID: "text-embedding-3-small", ContextTokens: 8191, Embeddings: true}
	p := buildProfile("azure", models.ProviderAzureOpenAI, info, time.Now())
	if p.Capabilities.Chat {
		t.Fatal("embedding model must not be a chat candidate")
	}
	if !p.Capabilities.Embeddings {
		t.Fatal("embeddings capability missing")
	}
	if p.Capabilities.FunctionCalling {
		t.Fatal("embedding model must not claim function calling")
	}
}

func TestCapabilityDescriptionDeterministic(t *testing.T) {
	info := providers.ModelInfo{ID: "gpt-4o", ContextTokens: 128000, SupportsTools: true, SupportsVision: true}
	a := buildProfile("azure", models.ProviderAzureOpenAI, info, time.Now())
	b := buildProfile("azure", models.ProviderAzureOpenAI, info, time.Now())
	if a.CapabilityDescription() != b.CapabilityDescription() {
		t.Fatal("identical profiles must render identical descriptions")
	}
}

// hashEmbedder derives a deterministic vector from the text, so identical
// descriptions embed identically without a live embedding model.
type hashEmbedder struct {
	dim int
}

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, e.dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%2000)/1000 - 1
	}
	return vec, nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *hashEmbedder) Name() string      { return "hash" }
func (e *hashEmbedder) Dimension() int    { return e.dim }
func (e *hashEmbedder) MaxBatchSize() int { return 64 }

// memoryIndex is an in-process VectorIndex with exact cosine search.
type memoryIndex struct {
	schema vector.CollectionSchema
	points []vector.Point
}

func (m *memoryIndex) Available() bool { return true }

func (m *memoryIndex) EnsureCollection(_ context.Context, schema vector.CollectionSchema) error {
	m.schema = schema
	return nil
}

func (m *memoryIndex) Insert(_ context.Context, _ string, points []vector.Point) error {
	m.points = append(m.points, points...)
	return nil
}

func (m *memoryIndex) Search(_ context.Context, _ string, vec []float32, topK int, _ map[string]string) ([]vector.Result, error) {
	results := make([]vector.Result, 0, len(m.points))
	for _, p := range m.points {
		results = append(results, vector.Result{
			ID:      p.ID,
			Score:   cosine(vec, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func TestProfileIndexSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	catalog := NewCatalog()
	for _, info := range []providers.ModelInfo{
		{ID: "gpt-4o", ContextTokens: 128000, SupportsTools: true, SupportsVision: true},
		{ID: "claude-3-5-haiku", ContextTokens: 200000, SupportsTools: true},
		{ID: "text-embedding-3-small", ContextTokens: 8191, Embeddings: true},
	} {
		catalog.Upsert(buildProfile("prov", models.ProviderAzureOpenAI, info, now))
	}

	emb := &hashEmbedder{dim: 32}
	idx := &memoryIndex{}
	d := &Discoverer{
		catalog:  catalog,
		vectors:  idx,
		embedder: emb,
		vcfg:     config.VectorConfig{ModelCollection: "model_profiles"},
		logger:   observability.NopLogger(),
	}

	if err := d.indexProfiles(ctx); err != nil {
		t.Fatalf("indexProfiles: %v", err)
	}
	if idx.schema.Dimension != emb.Dimension() {
		t.Fatalf("collection dimension = %d, want embedder's %d", idx.schema.Dimension, emb.Dimension())
	}
	if len(idx.points) != 3 {
		t.Fatalf("indexed points = %d, want 3", len(idx.points))
	}

	for _, p := range catalog.List() {
		got, err := d.SearchProfiles(ctx, p.CapabilityDescription(), 1)
		if err != nil {
			t.Fatalf("SearchProfiles(%s): %v", p.ModelID, err)
		}
		if len(got) != 1 || got[0].ModelID != p.ModelID {
			t.Errorf("top-1 for %s's own description = %+v", p.ModelID, got)
		}
	}
}

func TestSearchProfilesWithoutVectorBackend(t *testing.T) {
	d := &Discoverer{catalog: NewCatalog(), logger: observability.NopLogger()}
	if _, err := d.SearchProfiles(context.Background(), "vision model", 3); err != vector.ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
