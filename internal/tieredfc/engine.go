// Package tieredfc decides, ahead of provider dispatch, whether a turn
// needs tools at all and which cost tier should serve it. Stripping the
// tool catalog from pure-chat turns saves a few thousand prompt tokens.
package tieredfc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Tier is the cost tier a turn targets.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierBalanced Tier = "balanced"
	TierPremium  Tier = "premium"
)

// strippedToolSavings is the reported prompt-token saving when the tool
// catalog is removed. An estimate, never asserted.
const strippedToolSavings = 2000

// decisionCacheCapacity bounds the in-process decision cache.
const decisionCacheCapacity = 2048

// Decision is the tiered function-calling outcome for one turn.
type Decision struct {
	RequiresTools bool `json:"requires_tools"`
	StripTools    bool `json:"strip_tools"`

	// Tier and Model pick the target; Model is empty when the tier has no
	// configured model and the smart router should decide.
	Tier  Tier   `json:"tier"`
	Model string `json:"model,omitempty"`

	// EstimatedSavings is the reported prompt-token saving from stripping.
	EstimatedSavings int `json:"estimated_savings,omitempty"`

	// CachedDecision marks decisions served from the cache.
	CachedDecision bool `json:"cached_decision"`

	Reason string `json:"reason"`
}

// Engine makes and caches tier decisions. Safe for concurrent use.
type Engine struct {
	cfg     config.TieredFCConfig
	cache   *decisionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates the engine.
func New(cfg config.TieredFCConfig, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	var cache *decisionCache
	if cfg.DecisionCacheEnabled {
		cache = newDecisionCache(decisionCacheCapacity, time.Duration(cfg.DecisionCacheTTLSeconds)*time.Second)
	}
	return &Engine{cfg: cfg, cache: cache, logger: logger, metrics: metrics}
}

// Decide evaluates one turn. message is the latest user utterance.
func (e *Engine) Decide(ctx context.Context, message string, toolsLen int, slider models.SliderConfig) Decision {
	key := decisionKey(message, toolsLen, slider.Position)

	if e.cache != nil {
		if d, ok := e.cache.get(key); ok {
			d.CachedDecision = true
			e.metrics.CacheOps.WithLabelValues("decision", "hit").Inc()
			return d
		}
		e.metrics.CacheOps.WithLabelValues("decision", "miss").Inc()
	}

	d := e.evaluate(message, toolsLen, slider)
	if e.cache != nil {
		e.cache.set(key, d)
	}

	e.logger.Debug(ctx, "tier decision",
		"tier", string(d.Tier), "requires_tools", d.RequiresTools,
		"strip_tools", d.StripTools, "model", d.Model)
	return d
}

func (e *Engine) evaluate(message string, toolsLen int, slider models.SliderConfig) Decision {
	d := Decision{Tier: TierForPosition(slider.Position)}
	d.Model = e.modelForTier(d.Tier)

	switch {
	case toolsLen == 0:
		d.Reason = "no tools available"
	case isPureChat(message):
		d.Reason = "pure chat, no tool intent"
		if e.cfg.ToolStrippingEnabled {
			d.StripTools = true
			d.EstimatedSavings = strippedToolSavings
		}
	default:
		d.RequiresTools = true
		d.Reason = "tool intent detected"
	}
	return d
}

// modelForTier resolves the configured model for a tier; empty defers to
// the smart router.
func (e *Engine) modelForTier(tier Tier) string {
	switch tier {
	case TierCheap:
		return e.cfg.CheapModel
	case TierBalanced:
		return e.cfg.BalancedModel
	default:
		return e.cfg.PremiumModel
	}
}

// TierForPosition maps a slider position onto a tier: [0,40] cheap,
// (40,60] balanced, (60,100] premium.
func TierForPosition(position int) Tier {
	switch {
	case position <= 40:
		return TierCheap
	case position <= 60:
		return TierBalanced
	default:
		return TierPremium
	}
}

// Tool verbs in imperative position signal tool intent.
var toolVerbs = []string{
	"list", "create", "delete", "deploy", "run", "execute", "start", "stop",
	"restart", "fetch", "search", "query", "update", "scale", "provision",
	"configure", "install", "download", "upload", "send", "schedule",
}

// Retrieval entities are nouns the model cannot answer about from
// parametric knowledge alone.
var retrievalEntities = []string{
	"my subscription", "my account", "my resources", "my cluster", "my files",
	"my calendar", "my inbox", "current status", "latest logs", "this repo",
}

var leadingCourtesy = regexp.MustCompile(`^(please|can you|could you|would you|hey|hi|ok|now)[,\s]+`)

// isPureChat reports whether the message shows no tool-invoking intent:
// no imperative tool verb, no entity requiring retrieval.
func isPureChat(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return true
	}

	for _, entity := range retrievalEntities {
		if strings.Contains(lower, entity) {
			return false
		}
	}

	// Strip courtesy prefixes until the sentence head stabilizes, then
	// check whether it opens with a tool verb.
	head := lower
	for {
		next := leadingCourtesy.ReplaceAllString(head, "")
		if next == head {
			break
		}
		head = next
	}
	for _, verb := range toolVerbs {
		if strings.HasPrefix(head, verb+" ") || head == verb {
			return false
		}
	}
	return true
}

// decisionKey hashes the decision inputs.
func decisionKey(message string, toolsLen, sliderPosition int) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d", message, toolsLen, sliderPosition))
	return hex.EncodeToString(h[:8])
}
