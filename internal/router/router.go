package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// maxAlternates caps how many runner-up models a decision carries.
const maxAlternates = 3

// longConversationTokens is the estimated-token threshold beyond which
// context headroom becomes a scoring factor.
const longConversationTokens = 8000

// ErrNoModels is returned when the catalog holds no available chat model.
var ErrNoModels = fmt.Errorf("router: no available models")

// Alternate is one runner-up model with its score.
type Alternate struct {
	ModelID  string  `json:"model_id"`
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// RoutingDecision is the ranked outcome for one request.
type RoutingDecision struct {
	ModelID    string              `json:"model_id"`
	Provider   string              `json:"provider"`
	Score      float64             `json:"score"`
	Reasons    []string            `json:"reasons"`
	Alternates []Alternate         `json:"alternates,omitempty"`
	Analysis   RequestAnalysis     `json:"analysis"`
	Slider     models.SliderConfig `json:"slider"`
}

// Router ranks catalog models per request.
type Router struct {
	catalog *Catalog
	cfg     config.RoutingConfig
	logger  *observability.Logger
}

// New creates a router over the given catalog.
func New(catalog *Catalog, cfg config.RoutingConfig, logger *observability.Logger) *Router {
	return &Router{catalog: catalog, cfg: cfg, logger: logger}
}

// Route analyzes the request, filters the catalog, and returns the ranked
// decision. The slider must be normalized; callers derive it with
// models.SliderFromPosition.
func (r *Router) Route(ctx context.Context, msgs []models.Message, toolCount int, slider models.SliderConfig) (*RoutingDecision, error) {
	analysis := Analyze(msgs, toolCount)
	return r.RouteAnalyzed(ctx, analysis, slider)
}

// RouteAnalyzed ranks against a precomputed analysis, letting the tiered
// function-calling stage share its own analysis pass.
func (r *Router) RouteAnalyzed(ctx context.Context, analysis RequestAnalysis, slider models.SliderConfig) (*RoutingDecision, error) {
	candidates := chatModels(r.catalog.Available())
	if len(candidates) == 0 {
		return nil, ErrNoModels
	}

	candidates = filterCandidates(candidates, analysis)

	type scored struct {
		profile *models.ModelProfile
		score   float64
		reasons []string
	}
	ranked := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		score, reasons := scoreModel(p, analysis, slider)
		ranked = append(ranked, scored{profile: p, score: score, reasons: reasons})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Tie-break: faster first, then lexical for determinism.
		li, lj := ranked[i].profile.Performance.AvgLatencyMs, ranked[j].profile.Performance.AvgLatencyMs
		if li != lj {
			return li < lj
		}
		return ranked[i].profile.ModelID < ranked[j].profile.ModelID
	})

	top := ranked[0]
	decision := &RoutingDecision{
		ModelID:  top.profile.ModelID,
		Provider: top.profile.Provider,
		Score:    top.score,
		Reasons:  top.reasons,
		Analysis: analysis,
		Slider:   slider,
	}
	for _, alt := range ranked[1:] {
		if len(decision.Alternates) == maxAlternates {
			break
		}
		decision.Alternates = append(decision.Alternates, Alternate{
			ModelID:  alt.profile.ModelID,
			Provider: alt.profile.Provider,
			Score:    alt.score,
		})
	}

	r.logger.Debug(ctx, "routing decision",
		"model", decision.ModelID, "provider", decision.Provider,
		"score", decision.Score, "candidates", len(ranked))
	return decision, nil
}

// chatModels drops embedding-only profiles.
func chatModels(profiles []*models.ModelProfile) []*models.ModelProfile {
	out := profiles[:0]
	for _, p := range profiles {
		if p.Capabilities.Chat {
			out = append(out, p)
		}
	}
	return out
}

// filterCandidates applies the capability filter chain. Each step keeps a
// narrower set only when it remains non-empty; the final fallback for
// tool-needing requests is the top-3 function callers by accuracy.
func filterCandidates(candidates []*models.ModelProfile, a RequestAnalysis) []*models.ModelProfile {
	if a.HasTools || a.IsMultiStep || a.IsMultiCloud {
		strong := filter(candidates, func(p *models.ModelProfile) bool {
			return p.Capabilities.FunctionCalling && p.Capabilities.FunctionCallingAccuracy >= 0.90
		})
		if len(strong) > 0 {
			candidates = strong
		} else {
			callers := filter(candidates, func(p *models.ModelProfile) bool {
				return p.Capabilities.FunctionCalling
			})
			if len(callers) > 0 {
				sort.Slice(callers, func(i, j int) bool {
					return callers[i].Capabilities.FunctionCallingAccuracy > callers[j].Capabilities.FunctionCallingAccuracy
				})
				if len(callers) > 3 {
					callers = callers[:3]
				}
				candidates = callers
			}
		}
	}

	if a.RequiresVision {
		if vision := filter(candidates, func(p *models.ModelProfile) bool {
			return p.Capabilities.Vision
		}); len(vision) > 0 {
			candidates = vision
		}
	}

	if a.EstimatedTokens > longConversationTokens {
		if roomy := filter(candidates, func(p *models.ModelProfile) bool {
			return p.Performance.MaxContextTokens >= 2*a.EstimatedTokens
		}); len(roomy) > 0 {
			candidates = roomy
		}
	}
	return candidates
}

func filter(in []*models.ModelProfile, keep func(*models.ModelProfile) bool) []*models.ModelProfile {
	out := make([]*models.ModelProfile, 0, len(in))
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// scoreModel computes the weighted score for one candidate.
func scoreModel(p *models.ModelProfile, a RequestAnalysis, slider models.SliderConfig) (float64, []string) {
	var score float64
	var reasons []string
	acc := p.Capabilities.FunctionCallingAccuracy

	if a.HasTools {
		pts := 50 * acc * (0.5 + 0.5*slider.QualityWeight)
		score += pts
		reasons = append(reasons, fmt.Sprintf("tool accuracy %.2f (+%.1f)", acc, pts))
	}
	if a.IsMultiStep || a.IsMultiCloud {
		pts := 30 * acc * (0.5 + 0.5*slider.QualityWeight)
		score += pts
		reasons = append(reasons, fmt.Sprintf("multi-step workload (+%.1f)", pts))
	}
	if a.RequiresVision && p.Capabilities.Vision {
		score += 20
		reasons = append(reasons, "vision supported (+20.0)")
	}
	if a.EstimatedTokens > longConversationTokens {
		pts := minFloat(float64(p.Performance.MaxContextTokens)/50000, 10)
		score += pts
		reasons = append(reasons, fmt.Sprintf("context headroom (+%.1f)", pts))
	}

	costPts := (1 - minFloat(p.Cost.InputPer1kTokens/0.01, 1)) * 25 * slider.CostWeight
	score += costPts
	if costPts > 0 {
		reasons = append(reasons, fmt.Sprintf("price advantage (+%.1f)", costPts))
	}

	latencyPts := (1 - minFloat(p.Performance.AvgLatencyMs/1000, 1)) * 10 * slider.CostWeight
	score += latencyPts
	if latencyPts > 0 {
		reasons = append(reasons, fmt.Sprintf("latency advantage (+%.1f)", latencyPts))
	}

	if slider.QualityWeight > 0.6 {
		pts := 15 * acc * slider.QualityWeight
		score += pts
		reasons = append(reasons, fmt.Sprintf("quality preference (+%.1f)", pts))
	}

	return score, reasons
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
