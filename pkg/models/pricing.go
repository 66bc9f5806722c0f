package models

import "time"

// PricingSource records where a price row came from.
type PricingSource string

const (
	PricingSourceAWSAPI   PricingSource = "aws-api"
	PricingSourceFallback PricingSource = "fallback"
)

// ModelPricing is one row of the live pricing table.
type ModelPricing struct {
	ModelID          string        `json:"model_id"`
	ModelName        string        `json:"model_name"`
	Provider         string        `json:"provider"`
	InputPricePer1k  float64       `json:"input_price_per_1k"`
	OutputPricePer1k float64       `json:"output_price_per_1k"`
	Region           string        `json:"region"`
	LastUpdated      time.Time     `json:"last_updated"`
	Source           PricingSource `json:"source"`
}

// CostBreakdown is the result of a cost computation. All values are rounded
// to 8 decimals and TotalCost always equals InputCost + OutputCost.
type CostBreakdown struct {
	InputCost  float64       `json:"input_cost"`
	OutputCost float64       `json:"output_cost"`
	TotalCost  float64       `json:"total_cost"`
	Source     PricingSource `json:"source"`
}

// PromptUsage records which templates, techniques, and context types were
// applied to one assistant turn. One row is written per assistant turn.
type PromptUsage struct {
	SessionID          string    `json:"session_id"`
	MessageID          string    `json:"message_id"`
	UserID             string    `json:"user_id"`
	BaseTemplateID     string    `json:"base_template_id,omitempty"`
	DomainTemplateID   string    `json:"domain_template_id,omitempty"`
	SystemPromptLength int       `json:"system_prompt_length"`
	TechniquesApplied  []string  `json:"techniques_applied,omitempty"`
	TokensAdded        int       `json:"tokens_added"`
	HasFormatting      bool      `json:"has_formatting"`
	HasMCPContext      bool      `json:"has_mcp_context"`
	HasRAGContext      bool      `json:"has_rag_context"`
	HasMemoryContext   bool      `json:"has_memory_context"`
	RAGDocsCount       int       `json:"rag_docs_count"`
	MCPToolsCount      int       `json:"mcp_tools_count"`
	CreatedAt          time.Time `json:"created_at"`
}
