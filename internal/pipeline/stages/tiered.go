package stages

import (
	"context"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/tieredfc"
	"github.com/arcfault/switchboard/pkg/models"
)

// Tiered decides whether the turn needs tools and which cost tier should
// serve it. A failed decision falls through to the smart router with the
// full tool list intact.
type Tiered struct {
	pipeline.BaseStage
	engine        *tieredfc.Engine
	defaultSlider int
	logger        *observability.Logger
}

// NewTiered creates the tiered function-calling stage. defaultSlider is
// the slider position used when the request carries none.
func NewTiered(engine *tieredfc.Engine, defaultSlider int, logger *observability.Logger) *Tiered {
	return &Tiered{engine: engine, defaultSlider: defaultSlider, logger: logger}
}

func (s *Tiered) Name() string                   { return "tieredfc" }
func (s *Tiered) Policy() pipeline.FailurePolicy { return pipeline.WarnContinue }

func (s *Tiered) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	slider := models.SliderFromPosition(s.defaultSlider)
	if pc.Request.Flags.Slider != nil {
		slider = *pc.Request.Flags.Slider
		slider.Source = models.SliderSourceRequest
	}
	pc.Slider = slider

	if s.engine == nil {
		return nil
	}

	decision := s.engine.Decide(ctx, pc.LastUserText(), len(pc.Tools), slider)
	pc.Decision = &decision

	if decision.StripTools && len(pc.Tools) > 0 {
		s.logger.Debug(ctx, "stripping tools from prompt",
			"tier", string(decision.Tier),
			"estimated_savings", decision.EstimatedSavings,
			"reason", decision.Reason)
		pc.Tools = nil
	}
	return nil
}
