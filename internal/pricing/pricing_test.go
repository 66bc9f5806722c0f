package pricing

import (
	"testing"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

func TestNormalizeModelID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"claude-sonnet-4", "claude-sonnet-4"},
		{"us.anthropic.claude-sonnet-4:0", "claude-sonnet-4"},
		{"anthropic.claude-3-5-haiku-v1:0", "claude-3-5-haiku"},
		{"eu.amazon.titan-text-express-v1", "titan-text-express"},
		{"GPT-4o", "gpt-4o"},
		{"  gemini-2.0-flash  ", "gemini-2.0-flash"},
	}
	for _, c := range cases {
		if got := NormalizeModelID(c.in); got != c.want {
			t.Errorf("NormalizeModelID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLookupFallsBackToStaticTable(t *testing.T) {
	svc := New(nil, Config{}, observability.NopLogger())

	row := svc.Lookup("us.anthropic.claude-sonnet-4:0")
	if row.Source != models.PricingSourceFallback {
		t.Fatalf("source = %s, want fallback", row.Source)
	}
	if row.InputPricePer1k != 0.003 {
		t.Fatalf("input price = %v", row.InputPricePer1k)
	}
}

func TestLookupPrefixMatchesVersionedIDs(t *testing.T) {
	svc := New(nil, Config{}, observability.NopLogger())

	row := svc.Lookup("gpt-4o-2024-11-20")
	if row.InputPricePer1k == 0 {
		t.Fatalf("expected a family prefix match, got %+v", row)
	}
}

func TestLookupUnknownModelUsesDefaultRow(t *testing.T) {
	svc := New(nil, Config{}, observability.NopLogger())

	row := svc.Lookup("totally-unknown-model")
	if row.Source != defaultPricing.Source {
		t.Fatalf("source = %s, want default", row.Source)
	}
	if row.ModelID != "totally-unknown-model" {
		t.Fatalf("model id = %q", row.ModelID)
	}
}

func TestCalculateCostExactTotal(t *testing.T) {
	svc := New(nil, Config{}, observability.NopLogger())

	cost := svc.CalculateCost("claude-sonnet-4", 10000, 2000, "us-east-1")
	if cost.InputCost != 0.03 {
		t.Fatalf("input cost = %v, want 0.03", cost.InputCost)
	}
	if cost.OutputCost != 0.03 {
		t.Fatalf("output cost = %v, want 0.03", cost.OutputCost)
	}
	if cost.TotalCost != cost.InputCost+cost.OutputCost {
		t.Fatalf("total %v != input %v + output %v", cost.TotalCost, cost.InputCost, cost.OutputCost)
	}
}

func TestCalculateCostZeroTokens(t *testing.T) {
	svc := New(nil, Config{}, observability.NopLogger())

	cost := svc.CalculateCost("claude-sonnet-4", 0, 0, "us-east-1")
	if cost.TotalCost != 0 {
		t.Fatalf("total = %v, want 0", cost.TotalCost)
	}
}
