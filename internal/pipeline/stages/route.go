package stages

import (
	"context"
	"errors"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/router"
)

// Route picks the model for the turn. A tier-pinned model from the
// tieredfc decision wins when the catalog knows it and it is available;
// otherwise the smart router scores the catalog.
type Route struct {
	pipeline.BaseStage
	router  *router.Router
	catalog *router.Catalog
	logger  *observability.Logger
}

// NewRoute creates the routing stage.
func NewRoute(rt *router.Router, catalog *router.Catalog, logger *observability.Logger) *Route {
	return &Route{router: rt, catalog: catalog, logger: logger}
}

func (s *Route) Name() string                   { return "route" }
func (s *Route) Policy() pipeline.FailurePolicy { return pipeline.Fatal }

func (s *Route) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	if pinned := s.pinnedDecision(pc); pinned != nil {
		pc.Routing = pinned
		return nil
	}

	decision, err := s.router.Route(ctx, pc.Request.Messages, len(pc.Tools), pc.Slider)
	if err != nil {
		if errors.Is(err, router.ErrNoModels) {
			return pipeline.Errf(pipeline.KindProviderUnavailable, "no model can serve this request", err)
		}
		return pipeline.Errf(pipeline.KindInternal, "routing failed", err)
	}
	pc.Routing = decision

	s.logger.Info(ctx, "routed turn",
		"model", decision.ModelID,
		"provider", decision.Provider,
		"score", decision.Score,
		"slider", pc.Slider.Position)
	return nil
}

// pinnedDecision honors a tier-configured model when it exists and is
// available. An unknown or unavailable pin falls back to scoring.
func (s *Route) pinnedDecision(pc *pipeline.PipelineContext) *router.RoutingDecision {
	if pc.Decision == nil || pc.Decision.Model == "" {
		return nil
	}
	profile, ok := s.catalog.Get(pc.Decision.Model)
	if !ok || !profile.Metadata.IsAvailable {
		return nil
	}
	return &router.RoutingDecision{
		ModelID:  profile.ModelID,
		Provider: profile.Provider,
		Reasons:  []string{"tier " + string(pc.Decision.Tier) + " pinned model"},
		Analysis: router.Analyze(pc.Request.Messages, len(pc.Tools)),
		Slider:   pc.Slider,
	}
}
