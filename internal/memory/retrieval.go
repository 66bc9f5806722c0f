package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/pkg/models"
)

// Keyword score weights. Vector search replaces this scoring entirely when
// the store is reachable.
const (
	entityOverlapWeight  = 0.2
	substringMatchWeight = 0.3
	importanceWeight     = 0.2
)

// Retrieve returns up to maxResults memories relevant to the query,
// most relevant first. Positive results are cached for five minutes; a
// cache hit is merged with the user's last three session entries.
func (m *Manager) Retrieve(ctx context.Context, userID, query string, maxResults int) ([]models.MemoryEntry, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	key := retrievalKey(userID, query)

	if cached, ok := m.cachedRetrieval(ctx, key); ok {
		m.metrics.CacheOps.WithLabelValues("memory", "hit").Inc()
		return m.mergeRecentSession(ctx, userID, cached), nil
	}
	m.metrics.CacheOps.WithLabelValues("memory", "miss").Inc()

	var (
		results []models.MemoryEntry
		err     error
	)
	if m.vectorReady() {
		results, err = m.vectorSearch(ctx, userID, query, maxResults)
		if err != nil {
			m.noteVectorError(ctx, err)
			results = nil
		}
	}
	if results == nil {
		results, err = m.keywordSearch(ctx, userID, query, maxResults)
		if err != nil {
			return nil, err
		}
	}

	if len(results) > 0 && m.cache != nil && m.cache.IsConnected() {
		_ = m.cache.Set(ctx, key, results, retrievalCacheTTL)
	}
	return results, nil
}

func retrievalKey(userID, query string) string {
	sum := sha256.Sum256([]byte(userID + ":" + query))
	return "memory:retrieval:" + hex.EncodeToString(sum[:])[:16]
}

func (m *Manager) cachedRetrieval(ctx context.Context, key string) ([]models.MemoryEntry, bool) {
	if m.cache == nil || !m.cache.IsConnected() {
		return nil, false
	}
	var entries []models.MemoryEntry
	err := m.cache.Get(ctx, key, &entries)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrDisconnected) {
			m.logger.Debug(ctx, "retrieval cache lookup failed", "error", err.Error())
		}
		return nil, false
	}
	return entries, true
}

// mergeRecentSession appends the user's last few session entries to a cached
// result set, deduplicating by entry ID.
func (m *Manager) mergeRecentSession(ctx context.Context, userID string, cached []models.MemoryEntry) []models.MemoryEntry {
	mc, err := m.Context(ctx, userID)
	if err != nil || len(mc.SessionMemory) == 0 {
		return cached
	}
	start := len(mc.SessionMemory) - recentSessionMerge
	if start < 0 {
		start = 0
	}

	seen := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		seen[e.ID] = struct{}{}
	}
	out := cached
	for _, e := range mc.SessionMemory[start:] {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		out = append(out, e)
	}
	return out
}

// vectorSearch embeds the query and runs a filtered cosine search over the
// user's indexed memories.
func (m *Manager) vectorSearch(ctx context.Context, userID, query string, maxResults int) ([]models.MemoryEntry, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := m.vectors.Search(ctx, m.collection, vec, maxResults, map[string]string{"user_id": userID})
	if err != nil {
		return nil, err
	}

	entries := make([]models.MemoryEntry, 0, len(hits))
	for _, hit := range hits {
		entry := models.MemoryEntry{
			ID:        hit.ID,
			UserID:    userID,
			Relevance: float64(hit.Score),
		}
		if content, ok := hit.Payload["content"].(string); ok {
			entry.Content = content
		}
		if entry.Content == "" {
			continue
		}
		if t, ok := hit.Payload["type"].(string); ok {
			entry.Type = models.MemoryType(t)
		}
		if imp, ok := hit.Payload["importance"].(float64); ok {
			entry.Importance = imp
		}
		if sid, ok := hit.Payload["session_id"].(string); ok {
			entry.SessionID = sid
		}
		if ts, ok := hit.Payload["timestamp"].(int64); ok {
			entry.Timestamp = time.Unix(ts, 0)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// keywordSearch scores every working-set entry against the query and keeps
// the top matches.
func (m *Manager) keywordSearch(ctx context.Context, userID, query string, maxResults int) ([]models.MemoryEntry, error) {
	mc, err := m.Context(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	all := make([]models.MemoryEntry, 0, mc.Total())
	all = append(all, mc.SessionMemory...)
	all = append(all, mc.UserMemory...)
	all = append(all, mc.SemanticMemory...)
	all = append(all, mc.WorkingMemory...)

	scored := make([]models.MemoryEntry, 0, len(all))
	for _, e := range all {
		score := keywordScore(e, query, now)
		if score <= 0 {
			continue
		}
		e.Relevance = score
		scored = append(scored, e)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored, nil
}

// keywordScore blends keyword overlap, substring match, recency, and
// importance into a single relevance score.
func keywordScore(entry models.MemoryEntry, query string, now time.Time) float64 {
	queryLower := strings.ToLower(query)
	queryTerms := significantTerms(queryLower)
	contentLower := strings.ToLower(entry.Content)

	overlap := 0.0
	if len(entry.Keywords) > 0 && len(queryTerms) > 0 {
		matched := 0
		for _, k := range entry.Keywords {
			if _, ok := queryTerms[strings.ToLower(k)]; ok {
				matched++
			}
		}
		overlap = float64(matched) / float64(len(entry.Keywords))
	}

	substr := 0.0
	switch {
	case strings.Contains(contentLower, queryLower):
		substr = 1.0
	case len(queryTerms) > 0:
		matched := 0
		for term := range queryTerms {
			if strings.Contains(contentLower, term) {
				matched++
			}
		}
		substr = float64(matched) / float64(len(queryTerms))
	}

	return entityOverlapWeight*overlap +
		substringMatchWeight*substr +
		recencyBoost(now.Sub(entry.Timestamp)) +
		importanceWeight*entry.Importance
}

func recencyBoost(age time.Duration) float64 {
	switch {
	case age <= time.Hour:
		return 0.3
	case age <= 24*time.Hour:
		return 0.2
	case age <= 7*24*time.Hour:
		return 0.1
	default:
		return 0
	}
}

func significantTerms(lower string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 3 {
			terms[w] = struct{}{}
		}
	}
	return terms
}
