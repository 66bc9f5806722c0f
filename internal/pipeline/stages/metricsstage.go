package stages

import (
	"context"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/pricing"
)

// Metrics computes the turn's cost and records the final counters. It runs
// last and never fails the turn.
type Metrics struct {
	pipeline.BaseStage
	metrics *observability.Metrics
	pricing *pricing.Service
	region  string
	logger  *observability.Logger
}

// NewMetrics creates the cost-accounting stage.
func NewMetrics(m *observability.Metrics, svc *pricing.Service, region string, logger *observability.Logger) *Metrics {
	return &Metrics{metrics: m, pricing: svc, region: region, logger: logger}
}

func (s *Metrics) Name() string                   { return "metrics" }
func (s *Metrics) Policy() pipeline.FailurePolicy { return pipeline.WarnContinue }

func (s *Metrics) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	if pc.Response == nil {
		return nil
	}
	usage := pc.Response.Usage
	model := pc.Response.Model
	provider := pc.ServedProvider
	if provider == "" && pc.Routing != nil {
		provider = pc.Routing.Provider
	}

	if s.pricing != nil {
		cost := s.pricing.CalculateCost(model, usage.PromptTokens, usage.CompletionTokens, s.region)
		pc.Cost = &cost
		s.metrics.TurnCost.WithLabelValues(provider, model).Add(cost.TotalCost)
		s.logger.Debug(ctx, "turn cost computed",
			"model", model,
			"total_usd", cost.TotalCost,
			"source", string(cost.Source))
	}
	return nil
}
