package stages

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcfault/switchboard/internal/assembly"
	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/router"
	"github.com/arcfault/switchboard/internal/tieredfc"
	"github.com/arcfault/switchboard/pkg/models"
)

func newMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func basePC() *pipeline.PipelineContext {
	return &pipeline.PipelineContext{
		TurnID: "turn-1",
		Request: &models.TurnRequest{
			UserID:    "u1",
			SessionID: "s1",
			Messages:  []models.Message{{Role: models.RoleUser, Content: "hello there"}},
		},
		User: &models.User{ID: "u1"},
	}
}

func availableProfile(id, provider string) *models.ModelProfile {
	return &models.ModelProfile{
		ModelID:  id,
		Provider: provider,
		Capabilities: models.ModelCapabilities{
			Chat:      true,
			Streaming: true,
		},
		Performance: models.ModelPerformance{MaxContextTokens: 128000},
		Cost:        models.ModelCost{InputPer1kTokens: 0.5, Currency: "USD"},
		Metadata:    models.ModelMeta{IsAvailable: true},
	}
}

func TestTieredDefaultSlider(t *testing.T) {
	stage := NewTiered(nil, 30, observability.NopLogger())
	pc := basePC()

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Slider.Position != 30 {
		t.Fatalf("slider position = %d, want 30", pc.Slider.Position)
	}
	if got := pc.Slider.CostWeight + pc.Slider.QualityWeight; got != 1 {
		t.Fatalf("weights sum = %v, want 1", got)
	}
}

func TestTieredRequestSliderWins(t *testing.T) {
	stage := NewTiered(nil, 30, observability.NopLogger())
	pc := basePC()
	slider := models.SliderFromPosition(90)
	pc.Request.Flags.Slider = &slider

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Slider.Position != 90 {
		t.Fatalf("slider position = %d, want 90", pc.Slider.Position)
	}
	if pc.Slider.Source != models.SliderSourceRequest {
		t.Fatalf("slider source = %s, want request", pc.Slider.Source)
	}
}

func TestTieredStripsToolsForPureChat(t *testing.T) {
	engine := tieredfc.New(config.TieredFCConfig{
		ToolStrippingEnabled: true,
		CheapModel:           "m-cheap",
	}, observability.NopLogger(), newMetrics())
	stage := NewTiered(engine, 20, observability.NopLogger())

	pc := basePC()
	pc.Tools = []models.ToolDescriptor{{ID: "jira.create_ticket", ServerID: "jira"}}

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Decision == nil {
		t.Fatal("no tiered decision recorded")
	}
	if !pc.Decision.StripTools {
		t.Fatalf("decision = %+v, want tools stripped for pure chat", pc.Decision)
	}
	if len(pc.Tools) != 0 {
		t.Fatalf("tools = %d, want stripped", len(pc.Tools))
	}
}

func TestRoutePrefersPinnedTierModel(t *testing.T) {
	catalog := router.NewCatalog()
	catalog.Upsert(availableProfile("m-pinned", "ollama"))
	catalog.Upsert(availableProfile("m-other", "azure"))
	rt := router.New(catalog, config.RoutingConfig{DefaultSliderPosition: 50}, observability.NopLogger())
	stage := NewRoute(rt, catalog, observability.NopLogger())

	pc := basePC()
	pc.Slider = models.SliderFromPosition(50)
	pc.Decision = &tieredfc.Decision{Tier: tieredfc.TierCheap, Model: "m-pinned"}

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Routing.ModelID != "m-pinned" {
		t.Fatalf("model = %q, want m-pinned", pc.Routing.ModelID)
	}
	if pc.Routing.Provider != "ollama" {
		t.Fatalf("provider = %q, want ollama", pc.Routing.Provider)
	}
}

func TestRouteUnknownPinFallsBackToScoring(t *testing.T) {
	catalog := router.NewCatalog()
	catalog.Upsert(availableProfile("m-real", "ollama"))
	rt := router.New(catalog, config.RoutingConfig{DefaultSliderPosition: 50}, observability.NopLogger())
	stage := NewRoute(rt, catalog, observability.NopLogger())

	pc := basePC()
	pc.Slider = models.SliderFromPosition(50)
	pc.Decision = &tieredfc.Decision{Tier: tieredfc.TierCheap, Model: "m-retired"}

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Routing.ModelID != "m-real" {
		t.Fatalf("model = %q, want m-real", pc.Routing.ModelID)
	}
}

func TestRouteEmptyCatalogIsProviderUnavailable(t *testing.T) {
	catalog := router.NewCatalog()
	rt := router.New(catalog, config.RoutingConfig{DefaultSliderPosition: 50}, observability.NopLogger())
	stage := NewRoute(rt, catalog, observability.NopLogger())

	pc := basePC()
	pc.Slider = models.SliderFromPosition(50)

	err := stage.Run(context.Background(), pc, nil)
	if err == nil {
		t.Fatal("expected error on empty catalog")
	}
	if pipeline.KindOf(err) != pipeline.KindProviderUnavailable {
		t.Fatalf("kind = %s, want provider_unavailable", pipeline.KindOf(err))
	}
}

func testContextStage(t *testing.T) *Context {
	t.Helper()
	engine := assembly.New(nil, nil, 4096, 0, observability.NopLogger(), newMetrics())
	catalog := router.NewCatalog()
	catalog.Upsert(availableProfile("m-default", "ollama"))
	return NewContext(engine, catalog, "You are a helpful assistant.", "m-default", observability.NopLogger())
}

func TestContextStageInvalidUser(t *testing.T) {
	stage := testContextStage(t)
	pc := basePC()
	pc.User = &models.User{ID: "  "}

	err := stage.Run(context.Background(), pc, nil)
	if err == nil {
		t.Fatal("expected error for blank user")
	}
	if pipeline.KindOf(err) != pipeline.KindInvalidInput {
		t.Fatalf("kind = %s, want invalid_input", pipeline.KindOf(err))
	}
}

func TestContextStageAssemblesWithMemoryBlock(t *testing.T) {
	stage := testContextStage(t)
	pc := basePC()
	pc.MemoryPromptBlock = "### User History\n- prefers short answers"

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Assembled == nil {
		t.Fatal("no assembled context")
	}
	if pc.Assembled.TotalTokens <= 0 {
		t.Fatalf("total tokens = %d", pc.Assembled.TotalTokens)
	}
}
