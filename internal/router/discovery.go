package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/embeddings"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pricing"
	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/internal/vector"
	"github.com/arcfault/switchboard/pkg/models"
)

// familyRule carries family-specific capability overrides keyed by model ID
// substring. First match wins; unmatched models get conservative defaults.
type familyRule struct {
	match      string
	family     string
	fcAccuracy float64
	latencyMs  float64
}

// defaultFCAccuracy applies to models no family rule covers.
const defaultFCAccuracy = 0.70

var familyRules = []familyRule{
	{match: "gpt-4o-mini", family: "gpt-4o", fcAccuracy: 0.93, latencyMs: 400},
	{match: "gpt-4o", family: "gpt-4o", fcAccuracy: 0.96, latencyMs: 700},
	{match: "gpt-4.1", family: "gpt-4.1", fcAccuracy: 0.96, latencyMs: 700},
	{match: "o3", family: "o-series", fcAccuracy: 0.95, latencyMs: 1500},
	{match: "o1", family: "o-series", fcAccuracy: 0.94, latencyMs: 2000},
	{match: "claude-opus", family: "claude", fcAccuracy: 0.97, latencyMs: 1200},
	{match: "claude-sonnet", family: "claude", fcAccuracy: 0.96, latencyMs: 800},
	{match: "claude-3-5-haiku", family: "claude", fcAccuracy: 0.91, latencyMs: 400},
	{match: "claude", family: "claude", fcAccuracy: 0.93, latencyMs: 800},
	{match: "gemini-2", family: "gemini", fcAccuracy: 0.93, latencyMs: 500},
	{match: "gemini-1.5-pro", family: "gemini", fcAccuracy: 0.92, latencyMs: 900},
	{match: "gemini", family: "gemini", fcAccuracy: 0.90, latencyMs: 600},
	{match: "nova", family: "nova", fcAccuracy: 0.90, latencyMs: 600},
	{match: "llama3", family: "llama", fcAccuracy: 0.80, latencyMs: 500},
	{match: "mistral", family: "mistral", fcAccuracy: 0.78, latencyMs: 500},
}

// VectorIndex is the vector-store surface discovery uses for semantic
// profile lookup. *vector.Store satisfies it.
type VectorIndex interface {
	Available() bool
	EnsureCollection(ctx context.Context, schema vector.CollectionSchema) error
	Insert(ctx context.Context, collection string, points []vector.Point) error
	Search(ctx context.Context, collection string, vec []float32, topK int, filter map[string]string) ([]vector.Result, error)
}

// Discoverer populates the catalog from provider model listings and keeps
// it fresh on an interval. When a vector store and embedder are configured,
// profiles are also indexed for semantic lookup.
type Discoverer struct {
	manager  *providers.Manager
	catalog  *Catalog
	pricing  *pricing.Service
	vectors  VectorIndex
	embedder embeddings.Provider
	cfg      config.RoutingConfig
	vcfg     config.VectorConfig
	logger   *observability.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDiscoverer wires a discoverer. vectors and embedder may be nil.
func NewDiscoverer(manager *providers.Manager, catalog *Catalog, priceSvc *pricing.Service, vectors VectorIndex, embedder embeddings.Provider, cfg config.RoutingConfig, vcfg config.VectorConfig, logger *observability.Logger) *Discoverer {
	return &Discoverer{
		manager:  manager,
		catalog:  catalog,
		pricing:  priceSvc,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		vcfg:     vcfg,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs discovery once and then on the refresh interval.
func (d *Discoverer) Start(ctx context.Context) {
	d.Discover(ctx)
	go func() {
		ticker := time.NewTicker(d.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Discover(ctx)
			}
		}
	}()
}

// Stop terminates the refresh loop.
func (d *Discoverer) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Discover lists models from every provider and upserts profiles. A
// provider that fails to list is skipped; its previously discovered models
// keep their last state.
func (d *Discoverer) Discover(ctx context.Context) {
	now := time.Now()
	listings := d.manager.ListAllModels(ctx)

	count := 0
	for providerName, infos := range listings {
		p, ok := d.manager.Get(providerName)
		if !ok {
			continue
		}
		for _, info := range infos {
			profile := buildProfile(providerName, p.Type(), info, now)
			if d.pricing != nil {
				row := d.pricing.Lookup(info.ID)
				profile.Cost = models.ModelCost{
					InputPer1kTokens:  row.InputPricePer1k,
					OutputPer1kTokens: row.OutputPricePer1k,
					Currency:          "USD",
				}
			}
			d.catalog.Upsert(profile)
			count++
		}
	}
	d.logger.Info(ctx, "model discovery complete", "models", count, "providers", len(listings))

	if d.vectors != nil && d.vectors.Available() && d.embedder != nil {
		if err := d.indexProfiles(ctx); err != nil {
			d.logger.Warn(ctx, "profile indexing failed", "error", err.Error())
		}
	}
}

// buildProfile infers capabilities from the listing plus naming patterns.
func buildProfile(providerName string, ptype models.ProviderType, info providers.ModelInfo, now time.Time) *models.ModelProfile {
	id := strings.ToLower(info.ID)
	normalized := pricing.NormalizeModelID(info.ID)

	caps := models.ModelCapabilities{
		Chat:      !info.Embeddings,
		Vision:    info.SupportsVision,
		JSONMode:  info.SupportsJSON,
		Streaming: !info.Embeddings,
	}
	if info.Embeddings || strings.Contains(id, "embed") {
		caps.Chat = false
		caps.Embeddings = true
		caps.Streaming = false
	}
	if info.SupportsTools && caps.Chat {
		caps.FunctionCalling = true
		caps.FunctionCallingAccuracy = defaultFCAccuracy
	}
	if caps.JSONMode {
		caps.StructuredOutput = true
	}

	perf := models.ModelPerformance{
		MaxContextTokens: info.ContextTokens,
		MaxOutputTokens:  info.MaxOutputTokens,
		AvgLatencyMs:     800,
		TokensPerSecond:  50,
	}
	// Small variants respond faster.
	if strings.Contains(id, "mini") || strings.Contains(id, "nano") ||
		strings.Contains(id, "flash") || strings.Contains(id, "haiku") {
		perf.AvgLatencyMs = 400
	}

	meta := models.ModelMeta{
		Family:      normalized,
		LastTested:  now,
		IsAvailable: true,
	}

	for _, rule := range familyRules {
		if strings.Contains(normalized, rule.match) || strings.Contains(id, rule.match) {
			meta.Family = rule.family
			perf.AvgLatencyMs = rule.latencyMs
			if caps.FunctionCalling {
				caps.FunctionCallingAccuracy = rule.fcAccuracy
			}
			break
		}
	}

	return &models.ModelProfile{
		ModelID:      info.ID,
		Provider:     providerName,
		ProviderType: ptype,
		Capabilities: caps,
		Performance:  perf,
		Metadata:     meta,
	}
}

// indexProfiles embeds each profile's capability description and writes it
// to the model profile collection for semantic lookup.
func (d *Discoverer) indexProfiles(ctx context.Context) error {
	profiles := d.catalog.List()
	if len(profiles) == 0 {
		return nil
	}

	texts := make([]string, len(profiles))
	for i, p := range profiles {
		texts[i] = p.CapabilityDescription()
	}
	vecs, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	schema := vector.CollectionSchema{
		Name:      d.vcfg.ModelCollection,
		Dimension: d.embedder.Dimension(),
	}
	if err := d.vectors.EnsureCollection(ctx, schema); err != nil {
		return err
	}

	points := make([]vector.Point, len(profiles))
	for i, p := range profiles {
		points[i] = vector.Point{
			Vector: vecs[i],
			Payload: map[string]any{
				"model_id": p.ModelID,
				"provider": p.Provider,
				"family":   p.Metadata.Family,
			},
		}
	}
	return d.vectors.Insert(ctx, d.vcfg.ModelCollection, points)
}

// SearchProfiles finds catalog models semantically matching a free-text
// capability query.
func (d *Discoverer) SearchProfiles(ctx context.Context, query string, topK int) ([]*models.ModelProfile, error) {
	if d.vectors == nil || !d.vectors.Available() || d.embedder == nil {
		return nil, vector.ErrUnavailable
	}
	vec, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := d.vectors.Search(ctx, d.vcfg.ModelCollection, vec, topK, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ModelProfile, 0, len(results))
	for _, r := range results {
		id, _ := r.Payload["model_id"].(string)
		if p, ok := d.catalog.Get(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
