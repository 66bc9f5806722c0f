package router

import (
	"context"
	"testing"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

func profile(id, provider string, fcAccuracy, inputPrice, latency float64, vision bool, ctxTokens int) *models.ModelProfile {
	return &models.ModelProfile{
		ModelID:  id,
		Provider: provider,
		Capabilities: models.ModelCapabilities{
			Chat:                    true,
			FunctionCalling:         fcAccuracy > 0,
			FunctionCallingAccuracy: fcAccuracy,
			Vision:                  vision,
			Streaming:               true,
		},
		Performance: models.ModelPerformance{
			MaxContextTokens: ctxTokens,
			AvgLatencyMs:     latency,
		},
		Cost: models.ModelCost{
			InputPer1kTokens: inputPrice,
			Currency:         "USD",
		},
		Metadata: models.ModelMeta{IsAvailable: true},
	}
}

func testRouter(t *testing.T, profiles ...*models.ModelProfile) *Router {
	t.Helper()
	catalog := NewCatalog()
	for _, p := range profiles {
		catalog.Upsert(p)
	}
	cfg := config.RoutingConfig{DefaultSliderPosition: 50, ReservedForGeneration: 4096}
	return New(catalog, cfg, observability.NopLogger())
}

func userMsg(text string) models.Message {
	return models.Message{Role: models.RoleUser, Content: text}
}

func TestAnalyzeTraits(t *testing.T) {
	msgs := []models.Message{
		userMsg("First, list the Azure subscriptions. Then compare costs with AWS step by step."),
	}
	a := Analyze(msgs, 4)

	if !a.HasTools || a.ToolCount != 4 {
		t.Fatalf("tools: %+v", a)
	}
	if !a.IsMultiCloud {
		t.Fatal("azure+aws should flag multi-cloud")
	}
	if !a.IsComplexReasoning {
		t.Fatal("'compare'/'step by step' should flag complex reasoning")
	}
	if !a.IsMultiStep {
		t.Fatal("'first'+'then' should flag multi-step")
	}
	if a.RequiresVision {
		t.Fatal("no image parts present")
	}
	if a.EstimatedTokens == 0 {
		t.Fatal("estimated tokens should be positive")
	}
}

func TestAnalyzeVisionAndNumberedList(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Parts: []models.ContentPart{
			{Type: models.ContentText, Text: "1. describe this\n2. summarize it"},
			{Type: models.ContentImage, ImageURL: "https://example.com/a.png"},
		}},
	}
	a := Analyze(msgs, 0)
	if !a.RequiresVision {
		t.Fatal("image part should flag vision")
	}
	if !a.IsMultiStep {
		t.Fatal("two numbered items should flag multi-step")
	}
}

func TestRouteEmptyCatalog(t *testing.T) {
	r := testRouter(t)
	if _, err := r.Route(context.Background(), []models.Message{userMsg("hi")}, 0, models.SliderFromPosition(50)); err != ErrNoModels {
		t.Fatalf("err = %v, want ErrNoModels", err)
	}
}

func TestRouteToolRequestPrefersAccurateModels(t *testing.T) {
	r := testRouter(t,
		profile("strong-caller", "alpha", 0.95, 0.003, 800, false, 200000),
		profile("weak-caller", "alpha", 0.70, 0.0001, 300, false, 16000),
	)

	d, err := r.Route(context.Background(), []models.Message{userMsg("run the deploy tool")}, 2, models.SliderFromPosition(50))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ModelID != "strong-caller" {
		t.Fatalf("model = %q, want strong-caller (accuracy filter)", d.ModelID)
	}
}

func TestRouteToolFallbackTopThreeByAccuracy(t *testing.T) {
	// No model reaches 0.90: fall back to the top-3 function callers.
	r := testRouter(t,
		profile("fc-80", "a", 0.80, 0.001, 500, false, 32000),
		profile("fc-75", "a", 0.75, 0.001, 500, false, 32000),
		profile("fc-72", "a", 0.72, 0.001, 500, false, 32000),
		profile("fc-60", "a", 0.60, 0.001, 500, false, 32000),
	)
	d, err := r.Route(context.Background(), []models.Message{userMsg("use the tool")}, 1, models.SliderFromPosition(100))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ModelID != "fc-80" {
		t.Fatalf("model = %q, want fc-80", d.ModelID)
	}
	for _, alt := range d.Alternates {
		if alt.ModelID == "fc-60" {
			t.Fatal("fc-60 should be cut by the top-3 fallback")
		}
	}
}

func TestRouteVisionFilter(t *testing.T) {
	r := testRouter(t,
		profile("text-only", "a", 0.95, 0.0001, 200, false, 128000),
		profile("vision-model", "a", 0.95, 0.005, 900, true, 128000),
	)
	msgs := []models.Message{{Role: models.RoleUser, Parts: []models.ContentPart{
		{Type: models.ContentImage, ImageURL: "https://example.com/x.png"},
	}}}
	d, err := r.Route(context.Background(), msgs, 0, models.SliderFromPosition(0))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ModelID != "vision-model" {
		t.Fatalf("model = %q, want vision-model", d.ModelID)
	}
}

func TestRouteSliderShiftsChoice(t *testing.T) {
	cheap := profile("cheap-fast", "a", 0.91, 0.0001, 200, false, 128000)
	premium := profile("premium-slow", "a", 0.97, 0.01, 900, false, 200000)
	r := testRouter(t, cheap, premium)
	msgs := []models.Message{userMsg("use the search tool")}

	costFirst, err := r.Route(context.Background(), msgs, 1, models.SliderFromPosition(0))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if costFirst.ModelID != "cheap-fast" {
		t.Fatalf("cost slider picked %q, want cheap-fast", costFirst.ModelID)
	}

	qualityFirst, err := r.Route(context.Background(), msgs, 1, models.SliderFromPosition(100))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if qualityFirst.ModelID != "premium-slow" {
		t.Fatalf("quality slider picked %q, want premium-slow", qualityFirst.ModelID)
	}
}

func TestRouteTieBreakDeterministic(t *testing.T) {
	// Identical profiles differ only in ID: lexical tie-break.
	a := profile("aaa-model", "p", 0.95, 0.001, 500, false, 128000)
	b := profile("bbb-model", "p", 0.95, 0.001, 500, false, 128000)
	r := testRouter(t, b, a)

	d, err := r.Route(context.Background(), []models.Message{userMsg("hello")}, 0, models.SliderFromPosition(50))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ModelID != "aaa-model" {
		t.Fatalf("tie-break picked %q, want aaa-model", d.ModelID)
	}
}

func TestRouteSkipsUnavailableAndEmbedding(t *testing.T) {
	down := profile("down-model", "a", 0.95, 0.001, 500, false, 128000)
	down.Metadata.IsAvailable = false
	embed := profile("embed-model", "a", 0, 0.00002, 100, false, 8191)
	embed.Capabilities.Chat = false
	embed.Capabilities.Embeddings = true
	up := profile("up-model", "a", 0.95, 0.001, 500, false, 128000)

	r := testRouter(t, down, embed, up)
	d, err := r.Route(context.Background(), []models.Message{userMsg("hi")}, 0, models.SliderFromPosition(50))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ModelID != "up-model" {
		t.Fatalf("model = %q, want up-model", d.ModelID)
	}
}

func TestCatalogAvailability(t *testing.T) {
	c := NewCatalog()
	c.Upsert(profile("m1", "a", 0.9, 0.001, 500, false, 128000))
	c.SetAvailability("m1", false)
	if got := len(c.Available()); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}
	c.SetAvailability("m1", true)
	if got := len(c.Available()); got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}
}
