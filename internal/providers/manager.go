package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// entry couples a registered provider with its priority and health.
type entry struct {
	provider Provider
	priority int
	health   *healthState
}

// Manager owns the registered providers and layers selection, health
// tracking, and failover over them. Safe for concurrent use.
type Manager struct {
	cfg     config.ProvidersConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]*entry

	rr atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates an empty manager; register providers with Register or
// build the configured set with NewFromConfig.
func NewManager(cfg config.ProvidersConfig, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
}

// NewFromConfig builds adapters for every enabled entry and registers
// them. An adapter whose construction fails is skipped with a warning so
// one misconfigured backend does not take the gateway down.
func NewFromConfig(ctx context.Context, cfg config.ProvidersConfig, logger *observability.Logger, metrics *observability.Metrics) (*Manager, error) {
	m := NewManager(cfg, logger, metrics)
	for _, pe := range cfg.Entries {
		if !pe.Enabled {
			continue
		}
		p, err := build(ctx, pe, logger)
		if err != nil {
			logger.Warn(ctx, "provider construction failed, skipping",
				"provider", pe.Name, "type", pe.Type, "error", err.Error())
			continue
		}
		m.Register(p, pe.Priority)
	}
	if len(m.entries) == 0 {
		return nil, fmt.Errorf("providers: no providers available")
	}
	return m, nil
}

// build constructs one adapter from its config entry.
func build(ctx context.Context, pe config.ProviderEntry, logger *observability.Logger) (Provider, error) {
	settings := Settings(pe.Settings)
	switch models.ProviderType(pe.Type) {
	case models.ProviderAzureOpenAI, models.ProviderAzureFoundry:
		return NewAzureOpenAI(pe.Name, models.ProviderType(pe.Type), settings, logger)
	case models.ProviderAWSBedrock:
		return NewBedrock(ctx, pe.Name, settings, logger)
	case models.ProviderGoogleVertex:
		return NewVertex(ctx, pe.Name, settings, logger)
	case models.ProviderOllama:
		return NewOllama(pe.Name, settings, logger)
	case models.ProviderAnthropicAPI:
		return NewAnthropic(pe.Name, settings, logger)
	default:
		return nil, fmt.Errorf("providers: unknown provider type %q", pe.Type)
	}
}

// Register adds a provider at the given priority (lower wins).
func (m *Manager) Register(p Provider, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.Name()] = &entry{
		provider: p,
		priority: priority,
		health:   newHealthState(),
	}
}

// Get returns the named provider.
func (m *Manager) Get(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Providers returns all registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.provider)
	}
	return out
}

// candidates returns healthy providers in selection order. When preferred
// is set it leads the list regardless of strategy; the rest follow as
// failover targets.
func (m *Manager) candidates(preferred string) []*entry {
	m.mu.RLock()
	all := make([]*entry, 0, len(m.entries))
	var lead *entry
	for name, e := range m.entries {
		if !e.health.isHealthy() {
			continue
		}
		if name == preferred {
			lead = e
			continue
		}
		all = append(all, e)
	}
	m.mu.RUnlock()

	switch m.cfg.Strategy {
	case config.StrategyLeastLatency:
		sort.Slice(all, func(i, j int) bool {
			return all[i].health.avgLatencyMs() < all[j].health.avgLatencyMs()
		})
	case config.StrategyRoundRobin:
		if n := len(all); n > 1 {
			sort.Slice(all, func(i, j int) bool {
				return all[i].provider.Name() < all[j].provider.Name()
			})
			offset := int(m.rr.Add(1)) % n
			rotated := make([]*entry, 0, n)
			rotated = append(rotated, all[offset:]...)
			rotated = append(rotated, all[:offset]...)
			all = rotated
		}
	default: // priority
		sort.Slice(all, func(i, j int) bool {
			if all[i].priority != all[j].priority {
				return all[i].priority < all[j].priority
			}
			return all[i].provider.Name() < all[j].provider.Name()
		})
	}

	if lead != nil {
		return append([]*entry{lead}, all...)
	}
	return all
}

// Complete runs a completion on the preferred provider, failing over to
// the next candidate when the failure reason warrants it and the failover
// window has not elapsed. The returned provider name identifies which
// backend actually served.
func (m *Manager) Complete(ctx context.Context, preferred string, req *Request) (<-chan Chunk, string, error) {
	cands := m.candidates(preferred)
	if len(cands) == 0 {
		return nil, "", &Error{Reason: ReasonModelUnavailable, Provider: preferred,
			Cause: fmt.Errorf("no healthy providers")}
	}
	if !m.cfg.EnableFailover {
		cands = cands[:1]
	}

	deadline := time.Now().Add(m.cfg.FailoverTimeout)
	var lastErr error

	for i, cand := range cands {
		if i > 0 && time.Now().After(deadline) {
			break
		}
		name := cand.provider.Name()

		start := time.Now()
		ch, err := cand.provider.Complete(ctx, req)
		if err == nil {
			cand.health.recordSuccess(time.Since(start))
			m.observe(name, req.Model, "success", time.Since(start))
			return m.watch(ch, cand, req.Model, start), name, nil
		}

		cand.health.recordFailure(m.cfg.UnhealthyThreshold)
		m.observe(name, req.Model, "error", time.Since(start))
		lastErr = err

		reason := ReasonOf(err)
		if !reason.Failover() || ctx.Err() != nil {
			return nil, name, err
		}
		if i < len(cands)-1 {
			next := cands[i+1].provider.Name()
			m.metrics.ProviderFailovers.WithLabelValues(name, next).Inc()
			m.logger.Warn(ctx, "provider failover",
				"from", name, "to", next, "reason", string(reason), "error", err.Error())
		}
	}

	if lastErr == nil {
		lastErr = &Error{Reason: ReasonModelUnavailable, Provider: preferred,
			Cause: fmt.Errorf("failover window exhausted")}
	}
	return nil, "", lastErr
}

// watch relays a stream while folding terminal outcomes back into the
// provider's health state.
func (m *Manager) watch(in <-chan Chunk, e *entry, model string, start time.Time) <-chan Chunk {
	out := make(chan Chunk, streamBuffer)
	go func() {
		defer close(out)
		for chunk := range in {
			if chunk.Err != nil {
				e.health.recordFailure(m.cfg.UnhealthyThreshold)
			}
			if chunk.Done {
				e.health.recordSuccess(time.Since(start))
				if chunk.Usage != nil {
					name := e.provider.Name()
					m.metrics.TokensUsed.WithLabelValues(name, model, "prompt").Add(float64(chunk.Usage.PromptTokens))
					m.metrics.TokensUsed.WithLabelValues(name, model, "completion").Add(float64(chunk.Usage.CompletionTokens))
				}
			}
			out <- chunk
		}
	}()
	return out
}

func (m *Manager) observe(provider, model, status string, d time.Duration) {
	m.metrics.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.metrics.ProviderRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// Embed runs an embedding request on the preferred provider, falling back
// to any provider with an embeddings surface.
func (m *Manager) Embed(ctx context.Context, preferred, model string, texts []string) ([][]float32, error) {
	var lastErr error
	for _, cand := range m.candidates(preferred) {
		vecs, err := cand.provider.EmbedText(ctx, model, texts)
		if err == ErrEmbeddingsUnsupported {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		return vecs, nil
	}
	if lastErr == nil {
		lastErr = ErrEmbeddingsUnsupported
	}
	return nil, lastErr
}

// ListAllModels aggregates model listings across providers, deduplicating
// by model ID with the first (highest-priority) provider winning.
func (m *Manager) ListAllModels(ctx context.Context) map[string][]ModelInfo {
	out := make(map[string][]ModelInfo)
	for _, cand := range m.candidates("") {
		infos, err := cand.provider.ListModels(ctx)
		if err != nil {
			m.logger.Warn(ctx, "model listing failed",
				"provider", cand.provider.Name(), "error", err.Error())
			continue
		}
		out[cand.provider.Name()] = infos
	}
	return out
}

// StartProbing re-probes unhealthy providers on the configured interval
// until StopProbing or ctx cancellation.
func (m *Manager) StartProbing(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeUnhealthy(ctx)
			}
		}
	}()
}

// StopProbing terminates the probe loop.
func (m *Manager) StopProbing() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) probeUnhealthy(ctx context.Context) {
	m.mu.RLock()
	unhealthy := make([]*entry, 0)
	for _, e := range m.entries {
		if !e.health.isHealthy() {
			unhealthy = append(unhealthy, e)
		}
	}
	m.mu.RUnlock()

	for _, e := range unhealthy {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := e.provider.Health(probeCtx)
		cancel()

		e.health.mu.Lock()
		e.health.lastProbe = time.Now()
		if err == nil {
			e.health.healthy = true
			e.health.consecutiveFailures = 0
		}
		e.health.mu.Unlock()

		if err == nil {
			m.logger.Info(ctx, "provider recovered", "provider", e.provider.Name())
		}
	}
}

// HealthSnapshots reports current health for all providers.
func (m *Manager) HealthSnapshots() []HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HealthSnapshot, 0, len(m.entries))
	for name, e := range m.entries {
		out = append(out, e.health.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
