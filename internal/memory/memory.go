// Package memory maintains the per-user memory working set: a banked
// MemoryContext cached under memory:<userId>, vector-indexed semantic
// entries, consolidation, and relevance retrieval for context assembly.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/embeddings"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/vector"
	"github.com/arcfault/switchboard/pkg/models"
)

// retrievalCacheTTL bounds positive retrieval results.
const retrievalCacheTTL = 5 * time.Minute

// recentSessionMerge is how many trailing session entries join a cached
// retrieval result.
const recentSessionMerge = 3

// consolidationPruneImportance is the importance below which aged entries
// are pruned during consolidation.
const consolidationPruneImportance = 0.5

// Archiver persists promoted memories durably. Nil archivers are skipped.
type Archiver interface {
	SaveMemory(ctx context.Context, entry models.MemoryEntry) error
}

// Manager owns the memory working set. Safe for concurrent use; the cache
// is the source of truth for the hot context.
type Manager struct {
	cfg      config.MemoryConfig
	cache    *cache.Client
	vectors  *vector.Store
	embedder embeddings.Provider
	archiver Archiver
	logger   *observability.Logger
	metrics  *observability.Metrics

	collection string

	vectorErrOnce sync.Once
}

// New creates the manager. vectors, embedder, and archiver may be nil; the
// manager degrades to keyword retrieval and cache-only persistence.
func New(cfg config.MemoryConfig, cacheClient *cache.Client, vectors *vector.Store, embedder embeddings.Provider, archiver Archiver, collection string, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:        cfg,
		cache:      cacheClient,
		vectors:    vectors,
		embedder:   embedder,
		archiver:   archiver,
		collection: collection,
		logger:     logger,
		metrics:    metrics,
	}
}

// Initialize ensures the vector collection exists. The collection dimension
// always follows the configured embedding model.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.vectorReady() {
		return nil
	}
	return m.vectors.EnsureCollection(ctx, vector.CollectionSchema{
		Name:      m.collection,
		Dimension: m.embedder.Dimension(),
	})
}

func (m *Manager) vectorReady() bool {
	return m.vectors.Available() && m.embedder != nil
}

func contextKey(userID string) string {
	return "memory:" + userID
}

// Context loads the user's working set from the cache, or an empty one.
func (m *Manager) Context(ctx context.Context, userID string) (*models.MemoryContext, error) {
	mc := &models.MemoryContext{}
	if m.cache == nil || !m.cache.IsConnected() {
		return mc, nil
	}
	err := m.cache.Get(ctx, contextKey(userID), mc)
	switch {
	case err == nil:
		return mc, nil
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrDisconnected):
		return &models.MemoryContext{}, nil
	default:
		return nil, err
	}
}

func (m *Manager) saveContext(ctx context.Context, userID string, mc *models.MemoryContext) error {
	if m.cache == nil || !m.cache.IsConnected() {
		return nil
	}
	mc.Metadata.TotalMemories = mc.Total()
	mc.Metadata.LastAccessed = time.Now()
	return m.cache.Set(ctx, contextKey(userID), mc, m.cfg.ContextTTL)
}

// Remember appends an entry to the right bank, applies the FIFO caps,
// promotes qualifying semantic entries, and persists the working set.
// Consolidation runs inline when the total count reaches the threshold.
func (m *Manager) Remember(ctx context.Context, entry models.MemoryEntry) error {
	if entry.UserID == "" {
		return errors.New("memory: entry missing user id")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	mc, err := m.Context(ctx, entry.UserID)
	if err != nil {
		return err
	}

	switch entry.Type {
	case models.MemorySession:
		mc.SessionMemory = append(mc.SessionMemory, entry)
		if over := len(mc.SessionMemory) - m.cfg.MaxSessionMemory; over > 0 {
			mc.SessionMemory = mc.SessionMemory[over:]
		}
	case models.MemoryUser:
		mc.UserMemory = append(mc.UserMemory, entry)
		if over := len(mc.UserMemory) - m.cfg.MaxUserMemory; over > 0 {
			mc.UserMemory = mc.UserMemory[over:]
		}
	case models.MemorySemantic:
		mc.SemanticMemory = append(mc.SemanticMemory, entry)
		if entry.Importance >= models.PromotionThreshold {
			m.promote(ctx, entry)
		}
	case models.MemoryWorking:
		mc.WorkingMemory = append(mc.WorkingMemory, entry)
	default:
		return errors.New("memory: unknown entry type " + string(entry.Type))
	}

	if mc.Total() >= m.cfg.ConsolidationThreshold {
		m.consolidate(ctx, mc)
	}
	return m.saveContext(ctx, entry.UserID, mc)
}

// promote archives the entry durably and indexes it for vector retrieval.
// Promotion failure degrades to cache-only retention with a warning.
func (m *Manager) promote(ctx context.Context, entry models.MemoryEntry) {
	if m.archiver != nil {
		if err := m.archiver.SaveMemory(ctx, entry); err != nil {
			m.logger.Warn(ctx, "memory promotion to durable store failed",
				"memory_id", entry.ID, "error", err.Error())
		}
	}
	if !m.vectorReady() {
		return
	}
	vec, err := m.embedder.Embed(ctx, entry.Content)
	if err != nil {
		m.logger.Warn(ctx, "memory embedding failed, skipping vector index",
			"memory_id", entry.ID, "error", err.Error())
		return
	}
	err = m.vectors.Insert(ctx, m.collection, []vector.Point{{
		ID:     entry.ID,
		Vector: vec,
		Payload: map[string]any{
			"user_id":    entry.UserID,
			"session_id": entry.SessionID,
			"type":       string(entry.Type),
			"content":    entry.Content,
			"importance": entry.Importance,
			"timestamp":  entry.Timestamp.Unix(),
		},
	}})
	if err != nil {
		m.noteVectorError(ctx, err)
	}
}

// consolidate dedups by lowercase content and prunes aged low-importance
// entries. Entries at or above PromotionThreshold are never lost.
func (m *Manager) consolidate(ctx context.Context, mc *models.MemoryContext) {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays)
	before := mc.Total()

	mc.UserMemory = consolidateBank(mc.UserMemory, cutoff)
	mc.SemanticMemory = consolidateBank(mc.SemanticMemory, cutoff)

	if dropped := before - mc.Total(); dropped > 0 {
		m.logger.Debug(ctx, "memory consolidation",
			"dropped", dropped, "remaining", mc.Total())
	}
}

func consolidateBank(bank []models.MemoryEntry, cutoff time.Time) []models.MemoryEntry {
	seen := make(map[string]int, len(bank))
	out := bank[:0]
	for _, e := range bank {
		key := strings.ToLower(strings.TrimSpace(e.Content))
		if idx, dup := seen[key]; dup {
			// Keep the more important duplicate in place.
			if e.Importance > out[idx].Importance {
				out[idx] = e
			}
			continue
		}
		if e.Importance < models.PromotionThreshold &&
			e.Importance < consolidationPruneImportance &&
			e.Timestamp.Before(cutoff) {
			continue
		}
		seen[key] = len(out)
		out = append(out, e)
	}
	return out
}

// ClearWorking drops the per-turn scratch bank.
func (m *Manager) ClearWorking(ctx context.Context, userID string) error {
	mc, err := m.Context(ctx, userID)
	if err != nil {
		return err
	}
	if len(mc.WorkingMemory) == 0 {
		return nil
	}
	mc.WorkingMemory = nil
	return m.saveContext(ctx, userID, mc)
}

func (m *Manager) noteVectorError(ctx context.Context, err error) {
	m.vectorErrOnce.Do(func() {
		m.logger.Warn(ctx, "vector store unavailable, using keyword retrieval",
			"error", err.Error())
	})
}
