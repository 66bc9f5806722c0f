package pricing

import "github.com/arcfault/switchboard/pkg/models"

// fallbackTable is the hand-maintained price table used when the live
// fetch misses. Keys are normalized model IDs; prices are USD per 1k
// tokens. Keep entries sorted by provider.
var fallbackTable = map[string]models.ModelPricing{
	// Anthropic (direct and via Bedrock)
	"claude-opus-4": {
		ModelID: "claude-opus-4", Provider: "anthropic",
		InputPricePer1k: 0.015, OutputPricePer1k: 0.075,
		Source: models.PricingSourceFallback,
	},
	"claude-sonnet-4": {
		ModelID: "claude-sonnet-4", Provider: "anthropic",
		InputPricePer1k: 0.003, OutputPricePer1k: 0.015,
		Source: models.PricingSourceFallback,
	},
	"claude-3-5-haiku": {
		ModelID: "claude-3-5-haiku", Provider: "anthropic",
		InputPricePer1k: 0.0008, OutputPricePer1k: 0.004,
		Source: models.PricingSourceFallback,
	},

	// OpenAI / Azure OpenAI
	"gpt-4o": {
		ModelID: "gpt-4o", Provider: "openai",
		InputPricePer1k: 0.0025, OutputPricePer1k: 0.01,
		Source: models.PricingSourceFallback,
	},
	"gpt-4o-mini": {
		ModelID: "gpt-4o-mini", Provider: "openai",
		InputPricePer1k: 0.00015, OutputPricePer1k: 0.0006,
		Source: models.PricingSourceFallback,
	},
	"gpt-4.1": {
		ModelID: "gpt-4.1", Provider: "openai",
		InputPricePer1k: 0.002, OutputPricePer1k: 0.008,
		Source: models.PricingSourceFallback,
	},
	"o3-mini": {
		ModelID: "o3-mini", Provider: "openai",
		InputPricePer1k: 0.0011, OutputPricePer1k: 0.0044,
		Source: models.PricingSourceFallback,
	},
	"text-embedding-3-small": {
		ModelID: "text-embedding-3-small", Provider: "openai",
		InputPricePer1k: 0.00002, OutputPricePer1k: 0,
		Source: models.PricingSourceFallback,
	},

	// Google Vertex
	"gemini-2.0-flash": {
		ModelID: "gemini-2.0-flash", Provider: "google",
		InputPricePer1k: 0.0001, OutputPricePer1k: 0.0004,
		Source: models.PricingSourceFallback,
	},
	"gemini-1.5-pro": {
		ModelID: "gemini-1.5-pro", Provider: "google",
		InputPricePer1k: 0.00125, OutputPricePer1k: 0.005,
		Source: models.PricingSourceFallback,
	},

	// Amazon
	"titan-text-express": {
		ModelID: "titan-text-express", Provider: "amazon",
		InputPricePer1k: 0.0002, OutputPricePer1k: 0.0006,
		Source: models.PricingSourceFallback,
	},
	"nova-pro": {
		ModelID: "nova-pro", Provider: "amazon",
		InputPricePer1k: 0.0008, OutputPricePer1k: 0.0032,
		Source: models.PricingSourceFallback,
	},

	// Meta via Bedrock
	"llama3-70b-instruct": {
		ModelID: "llama3-70b-instruct", Provider: "meta",
		InputPricePer1k: 0.00265, OutputPricePer1k: 0.0035,
		Source: models.PricingSourceFallback,
	},
}

// defaultPricing covers models absent from every table. Local models
// (ollama) land here with zero cost.
var defaultPricing = models.ModelPricing{
	Provider:         "unknown",
	InputPricePer1k:  0,
	OutputPricePer1k: 0,
	Source:           models.PricingSourceFallback,
}
