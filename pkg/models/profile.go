package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ProviderType identifies the backing provider family for a model.
type ProviderType string

const (
	ProviderAzureOpenAI   ProviderType = "azure-openai"
	ProviderAzureFoundry  ProviderType = "azure-ai-foundry"
	ProviderAWSBedrock    ProviderType = "aws-bedrock"
	ProviderGoogleVertex  ProviderType = "google-vertex"
	ProviderOllama        ProviderType = "ollama"
	ProviderAnthropicAPI  ProviderType = "anthropic"
)

// ModelCapabilities describes what a model can do. FunctionCallingAccuracy
// is the routing signal for tool-bearing requests; values are conservative
// unless a family-specific rule applies.
type ModelCapabilities struct {
	Chat                    bool    `json:"chat"`
	FunctionCalling         bool    `json:"function_calling"`
	FunctionCallingAccuracy float64 `json:"function_calling_accuracy"` // [0,1]
	Vision                  bool    `json:"vision"`
	ImageGeneration         bool    `json:"image_generation"`
	Embeddings              bool    `json:"embeddings"`
	Streaming               bool    `json:"streaming"`
	JSONMode                bool    `json:"json_mode"`
	StructuredOutput        bool    `json:"structured_output"`
}

// ModelPerformance holds observed and published performance figures.
type ModelPerformance struct {
	MaxContextTokens int     `json:"max_context_tokens"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// ModelCost is the per-1k-token price for the model.
type ModelCost struct {
	InputPer1kTokens  float64 `json:"input_per_1k_tokens"`
	OutputPer1kTokens float64 `json:"output_per_1k_tokens"`
	Currency          string  `json:"currency"`
}

// ModelMeta carries discovery bookkeeping.
type ModelMeta struct {
	Family          string    `json:"family"`
	Version         string    `json:"version,omitempty"`
	Specializations []string  `json:"specializations,omitempty"`
	LastTested      time.Time `json:"last_tested"`
	IsAvailable     bool      `json:"is_available"`
}

// ModelProfile is one entry in the capability catalog.
type ModelProfile struct {
	ModelID      string            `json:"model_id"`
	Provider     string            `json:"provider"`
	ProviderType ProviderType      `json:"provider_type"`
	Capabilities ModelCapabilities `json:"capabilities"`
	Performance  ModelPerformance  `json:"performance"`
	Cost         ModelCost         `json:"cost"`
	Metadata     ModelMeta         `json:"metadata"`
	Embedding    []float32         `json:"-"`
}

// CapabilityDescription renders a deterministic natural-language summary of
// the profile, used to embed profiles for semantic model lookup. Identical
// profiles always render identically.
func (p *ModelProfile) CapabilityDescription() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s by %s (%s).", p.ModelID, p.Provider, p.ProviderType)
	if p.Capabilities.Chat {
		b.WriteString(" Supports chat.")
	}
	if p.Capabilities.FunctionCalling {
		fmt.Fprintf(&b, " Function calling with accuracy %.2f.", p.Capabilities.FunctionCallingAccuracy)
	}
	if p.Capabilities.Vision {
		b.WriteString(" Vision input.")
	}
	if p.Capabilities.Embeddings {
		b.WriteString(" Text embeddings.")
	}
	if p.Capabilities.JSONMode {
		b.WriteString(" JSON mode.")
	}
	fmt.Fprintf(&b, " Context window %d tokens.", p.Performance.MaxContextTokens)
	fmt.Fprintf(&b, " Input $%.4f output $%.4f per 1k tokens.",
		p.Cost.InputPer1kTokens, p.Cost.OutputPer1kTokens)
	if p.Metadata.Family != "" {
		fmt.Fprintf(&b, " Family %s.", p.Metadata.Family)
	}
	return b.String()
}

// SliderSource records where a slider configuration came from.
type SliderSource string

const (
	SliderSourceDefault SliderSource = "default"
	SliderSourceUser    SliderSource = "user"
	SliderSourceRequest SliderSource = "request"
)

// SliderConfig maps the user-facing cost/quality slider onto routing
// weights. Invariant: CostWeight + QualityWeight == 1.
type SliderConfig struct {
	Position          int          `json:"position"` // [0,100]
	CostWeight        float64      `json:"cost_weight"`
	QualityWeight     float64      `json:"quality_weight"`
	EnableThinking    bool         `json:"enable_thinking"`
	EnableCascading   bool         `json:"enable_cascading"`
	MaxThinkingBudget int          `json:"max_thinking_budget"`
	Source            SliderSource `json:"source"`
}

// SliderFromPosition derives the weight pair from a slider position,
// clamping to [0,100].
func SliderFromPosition(position int) SliderConfig {
	if position < 0 {
		position = 0
	}
	if position > 100 {
		position = 100
	}
	quality := float64(position) / 100
	return SliderConfig{
		Position:      position,
		CostWeight:    1 - quality,
		QualityWeight: quality,
		Source:        SliderSourceDefault,
	}
}

// Normalized reports whether the weight invariant holds within tolerance.
func (s *SliderConfig) Normalized() bool {
	return math.Abs(s.CostWeight+s.QualityWeight-1) <= 1e-9
}

// TieredFCConfig configures tiered function-calling. Empty model values mean
// "defer to the smart router" for that tier.
type TieredFCConfig struct {
	CheapModel              string `json:"cheap_model,omitempty" yaml:"cheap_model"`
	BalancedModel           string `json:"balanced_model,omitempty" yaml:"balanced_model"`
	PremiumModel            string `json:"premium_model,omitempty" yaml:"premium_model"`
	ToolStrippingEnabled    bool   `json:"tool_stripping_enabled" yaml:"tool_stripping_enabled"`
	DecisionCacheEnabled    bool   `json:"decision_cache_enabled" yaml:"decision_cache_enabled"`
	DecisionCacheTTLSeconds int    `json:"decision_cache_ttl_seconds" yaml:"decision_cache_ttl_seconds"`
}
