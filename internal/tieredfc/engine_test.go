package tieredfc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

func testEngine(cfg config.TieredFCConfig) *Engine {
	if cfg.DecisionCacheTTLSeconds == 0 {
		cfg.DecisionCacheTTLSeconds = 300
	}
	return New(cfg, observability.NopLogger(), observability.NewMetrics(prometheus.NewRegistry()))
}

func TestTierForPosition(t *testing.T) {
	cases := []struct {
		pos  int
		want Tier
	}{
		{0, TierCheap}, {40, TierCheap},
		{41, TierBalanced}, {60, TierBalanced},
		{61, TierPremium}, {100, TierPremium},
	}
	for _, tc := range cases {
		if got := TierForPosition(tc.pos); got != tc.want {
			t.Errorf("TierForPosition(%d) = %s, want %s", tc.pos, got, tc.want)
		}
	}
}

func TestDecidePureChatStripsTools(t *testing.T) {
	e := testEngine(config.TieredFCConfig{ToolStrippingEnabled: true})
	d := e.Decide(context.Background(), "what is the capital of France?", 5, models.SliderFromPosition(30))

	if d.RequiresTools {
		t.Fatal("pure chat must not require tools")
	}
	if !d.StripTools {
		t.Fatal("stripping enabled: pure chat should strip tools")
	}
	if d.EstimatedSavings < 2000 {
		t.Fatalf("savings = %d, want >= 2000", d.EstimatedSavings)
	}
	if d.Tier != TierCheap {
		t.Fatalf("tier = %s, want cheap at position 30", d.Tier)
	}
}

func TestDecideToolIntent(t *testing.T) {
	e := testEngine(config.TieredFCConfig{ToolStrippingEnabled: true})
	cases := []string{
		"list my azure subscriptions",
		"please delete the staging deployment",
		"can you check the current status of the cluster",
		"search my inbox for the invoice",
	}
	for _, msg := range cases {
		d := e.Decide(context.Background(), msg, 3, models.SliderFromPosition(50))
		if !d.RequiresTools {
			t.Errorf("%q: should require tools", msg)
		}
		if d.StripTools {
			t.Errorf("%q: must not strip tools when required", msg)
		}
	}
}

func TestDecideNoToolsAvailable(t *testing.T) {
	e := testEngine(config.TieredFCConfig{ToolStrippingEnabled: true})
	d := e.Decide(context.Background(), "list my resources", 0, models.SliderFromPosition(50))
	if d.RequiresTools {
		t.Fatal("no tools available: requires_tools must be false")
	}
}

func TestDecideTierModelResolution(t *testing.T) {
	e := testEngine(config.TieredFCConfig{
		CheapModel:   "gpt-4o-mini",
		PremiumModel: "claude-opus-4",
	})
	if d := e.Decide(context.Background(), "hello", 0, models.SliderFromPosition(10)); d.Model != "gpt-4o-mini" {
		t.Fatalf("cheap model = %q", d.Model)
	}
	// Balanced tier unconfigured: defer to the smart router.
	if d := e.Decide(context.Background(), "hello", 0, models.SliderFromPosition(50)); d.Model != "" {
		t.Fatalf("balanced model = %q, want empty", d.Model)
	}
	if d := e.Decide(context.Background(), "hello", 0, models.SliderFromPosition(90)); d.Model != "claude-opus-4" {
		t.Fatalf("premium model = %q", d.Model)
	}
}

func TestDecideCachesByInputs(t *testing.T) {
	e := testEngine(config.TieredFCConfig{DecisionCacheEnabled: true})

	first := e.Decide(context.Background(), "hello there", 2, models.SliderFromPosition(50))
	if first.CachedDecision {
		t.Fatal("first decision must not be cached")
	}
	second := e.Decide(context.Background(), "hello there", 2, models.SliderFromPosition(50))
	if !second.CachedDecision {
		t.Fatal("identical inputs should hit the cache")
	}
	// Any input change misses.
	if d := e.Decide(context.Background(), "hello there", 3, models.SliderFromPosition(50)); d.CachedDecision {
		t.Fatal("changed toolsLen must miss")
	}
	if d := e.Decide(context.Background(), "hello there", 2, models.SliderFromPosition(80)); d.CachedDecision {
		t.Fatal("changed slider position must miss")
	}
}

func TestDecisionCacheTTLExpiry(t *testing.T) {
	c := newDecisionCache(8, 50*time.Millisecond)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.set("k", Decision{Tier: TierCheap})
	if _, ok := c.get("k"); !ok {
		t.Fatal("entry should be present before TTL")
	}
	c.now = func() time.Time { return base.Add(time.Second) }
	if _, ok := c.get("k"); ok {
		t.Fatal("entry should expire after TTL")
	}
}

func TestDecisionCacheEvictsLRU(t *testing.T) {
	c := newDecisionCache(2, time.Minute)
	c.set("a", Decision{})
	c.set("b", Decision{})
	c.get("a") // promote a
	c.set("c", Decision{})

	if _, ok := c.get("b"); ok {
		t.Fatal("b should be evicted as least recently used")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("a should survive")
	}
	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}
}
