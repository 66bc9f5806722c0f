// Package assembly builds the augmented prompt context for a turn: topic
// classification, cached assembly lookup, memory retrieval, tiered budget
// packing, and the final context prompt.
package assembly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// ErrInvalidUser rejects assembly without a user identity.
var ErrInvalidUser = errors.New("assembly: invalid_user")

// ErrInvalidModel rejects assembly without a target model.
var ErrInvalidModel = errors.New("assembly: invalid_model")

// recentMessageCount is how many trailing messages belong to tier 1.
const recentMessageCount = 6

// maxMemoriesRetrieved bounds tier-3 retrieval.
const maxMemoriesRetrieved = 10

// MemoryRetriever supplies relevant memories for tier 3. Retrieval failure
// is non-fatal to assembly.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID, query string, maxResults int) ([]models.MemoryEntry, error)
}

// Request is one assembly invocation.
type Request struct {
	UserID        string
	Model         string
	ContextWindow int
	SystemPrompt  string
	Messages      []models.Message

	// Memories, when non-nil, skips retrieval (the memory stage already
	// ran). Nil delegates to the retriever.
	Memories []models.MemoryEntry

	CacheEnabled bool
}

// Engine assembles augmented contexts. Safe for concurrent use.
type Engine struct {
	cache                 *cache.Client
	retriever             MemoryRetriever
	reservedForGeneration int
	contextTTL            time.Duration
	logger                *observability.Logger
	metrics               *observability.Metrics

	cacheErrOnce sync.Once
}

// New creates the engine. cacheClient and retriever may be nil.
func New(cacheClient *cache.Client, retriever MemoryRetriever, reservedForGeneration int, contextTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if contextTTL <= 0 {
		contextTTL = time.Hour
	}
	return &Engine{
		cache:                 cacheClient,
		retriever:             retriever,
		reservedForGeneration: reservedForGeneration,
		contextTTL:            contextTTL,
		logger:                logger,
		metrics:               metrics,
	}
}

// Assemble produces the augmented context for a turn.
func (e *Engine) Assemble(ctx context.Context, req Request) (*models.AugmentedContext, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrInvalidUser
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, ErrInvalidModel
	}
	start := time.Now()

	// Empty conversation: system prompt only.
	if len(req.Messages) == 0 {
		return &models.AugmentedContext{
			SystemPrompt: req.SystemPrompt,
			TotalTokens:  EstimateTokens(req.SystemPrompt),
			AssemblyTime: time.Since(start),
		}, nil
	}

	var all strings.Builder
	for i := range req.Messages {
		all.WriteString(req.Messages[i].Text())
		all.WriteString("\n")
	}
	topic := ClassifyTopic(all.String())

	cacheKey := ContextCacheKey(req.UserID, topic.Hash, req.Model)
	if req.CacheEnabled {
		if entry := e.probeCache(ctx, cacheKey); entry != nil {
			return e.fromCache(ctx, cacheKey, entry, req, start), nil
		}
	}

	memories := req.Memories
	if memories == nil && e.retriever != nil {
		var err error
		memories, err = e.retriever.Retrieve(ctx, req.UserID, lastUserText(req.Messages), maxMemoriesRetrieved)
		if err != nil {
			e.logger.Warn(ctx, "memory retrieval failed, assembling without memories", "error", err.Error())
			memories = nil
		}
	}

	ac := e.pack(req, topic, memories)
	ac.AssemblyTime = time.Since(start)

	if req.CacheEnabled {
		e.writeCache(ctx, cacheKey, topic, req, ac)
	}
	return ac, nil
}

// pack apportions the budget and fills the tiers.
func (e *Engine) pack(req Request, topic models.TopicClassification, memories []models.MemoryEntry) *models.AugmentedContext {
	systemTokens := EstimateTokens(req.SystemPrompt)
	budget := NewBudget(req.ContextWindow, e.reservedForGeneration, systemTokens)

	split := len(req.Messages) - recentMessageCount
	if split < 0 {
		split = 0
	}
	recent, older := req.Messages[split:], req.Messages[:split]

	tier1 := packMessages(recent, budget.Tier1)
	tier1.Metadata = map[string]string{"band": "recent_conversation"}

	// Older messages pack newest-first so the closest history survives
	// the cut, then restore chronological order.
	reversed := make([]models.Message, len(older))
	for i, m := range older {
		reversed[len(older)-1-i] = m
	}
	tier2 := packMessages(reversed, budget.Tier2)
	reverseStrings(tier2.Content)
	tier2.Metadata = map[string]string{"band": "earlier_conversation"}

	tier3 := packMemories(memories, budget.Tier3)
	tier3.Metadata = map[string]string{"band": "retrieved_knowledge"}

	tiers := models.TierSet{Tier1: tier1, Tier2: tier2, Tier3: tier3}
	contextPrompt := renderContextPrompt(tiers)
	totalTokens := systemTokens + tiers.UsedTokens()

	totalChars := len(req.SystemPrompt) + len(contextPrompt)
	ratio := 0.0
	if totalTokens > 0 {
		ratio = float64(totalChars) / (float64(totalTokens) * 4)
	}

	kept := keptMemories(memories, tier3)
	return &models.AugmentedContext{
		SystemPrompt:     req.SystemPrompt,
		ContextPrompt:    contextPrompt,
		TotalTokens:      totalTokens,
		Tiers:            tiers,
		RelevantMemories: kept,
		Metadata: models.AugmentedMetadata{
			TopicHash:        topic.Hash,
			EntityList:       topic.Entities,
			MemoryCount:      len(kept),
			CompressionRatio: ratio,
		},
	}
}

// packMessages greedily fills a tier, newest-last ordering preserved by the
// caller. Oversized items are truncated only at a sentence boundary.
func packMessages(msgs []models.Message, maxTokens int) models.ContextTier {
	tier := models.ContextTier{MaxTokens: maxTokens}
	for i := range msgs {
		text := msgs[i].Text()
		if text == "" {
			continue
		}
		line := fmt.Sprintf("%s: %s", msgs[i].Role, text)
		tokens := EstimateTokens(line)
		if tier.UsedTokens+tokens <= maxTokens {
			tier.Content = append(tier.Content, line)
			tier.UsedTokens += tokens
			continue
		}
		remaining := maxTokens - tier.UsedTokens
		if cut, ok := truncateAtSentence(line, remaining); ok {
			tier.Content = append(tier.Content, cut)
			tier.UsedTokens += EstimateTokens(cut)
		}
	}
	return tier
}

// packMemories fills tier 3 by descending relevance.
func packMemories(memories []models.MemoryEntry, maxTokens int) models.ContextTier {
	sorted := make([]models.MemoryEntry, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Relevance > sorted[j].Relevance })

	tier := models.ContextTier{MaxTokens: maxTokens}
	for _, m := range sorted {
		tokens := EstimateTokens(m.Content)
		if tier.UsedTokens+tokens <= maxTokens {
			tier.Content = append(tier.Content, m.Content)
			tier.UsedTokens += tokens
			continue
		}
		remaining := maxTokens - tier.UsedTokens
		if cut, ok := truncateAtSentence(m.Content, remaining); ok {
			tier.Content = append(tier.Content, cut)
			tier.UsedTokens += EstimateTokens(cut)
		}
	}
	return tier
}

// keptMemories returns the memory entries whose content made it into the
// tier, preserving retrieval metadata.
func keptMemories(memories []models.MemoryEntry, tier models.ContextTier) []models.MemoryEntry {
	if len(tier.Content) == 0 {
		return nil
	}
	var out []models.MemoryEntry
	for _, m := range memories {
		for _, c := range tier.Content {
			// Truncated items are sentence-boundary prefixes of the original.
			if strings.HasPrefix(m.Content, c) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func renderContextPrompt(tiers models.TierSet) string {
	var b strings.Builder
	writeBand := func(header string, content []string) {
		if len(content) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + header + "\n")
		for _, line := range content {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	writeBand("Recent Conversation", tiers.Tier1.Content)
	writeBand("Earlier Conversation", tiers.Tier2.Content)
	writeBand("Retrieved Knowledge", tiers.Tier3.Content)
	return b.String()
}

// ContextCacheKey derives the cache key from user, topic hash, and model.
func ContextCacheKey(userID, topicHash, model string) string {
	sum := sha256.Sum256([]byte(userID + ":" + topicHash + ":" + model))
	return "context:" + hex.EncodeToString(sum[:])[:16]
}

// probeCache returns a valid entry or nil. Lookup errors are non-fatal and
// logged once per process.
func (e *Engine) probeCache(ctx context.Context, key string) *models.ContextCacheEntry {
	if e.cache == nil || !e.cache.IsConnected() {
		return nil
	}
	var entry models.ContextCacheEntry
	err := e.cache.Get(ctx, key, &entry)
	switch {
	case err == nil:
		if entry.Valid(time.Now()) {
			e.metrics.CacheOps.WithLabelValues("context", "hit").Inc()
			return &entry
		}
		e.metrics.CacheOps.WithLabelValues("context", "miss").Inc()
		return nil
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrDisconnected):
		e.metrics.CacheOps.WithLabelValues("context", "miss").Inc()
		return nil
	default:
		e.metrics.CacheOps.WithLabelValues("context", "error").Inc()
		e.cacheErrOnce.Do(func() {
			e.logger.Warn(ctx, "context cache lookup failing, continuing without cache", "error", err.Error())
		})
		return nil
	}
}

// fromCache rebuilds an augmented context from a cache entry and bumps its
// hit bookkeeping.
func (e *Engine) fromCache(ctx context.Context, key string, entry *models.ContextCacheEntry, req Request, start time.Time) *models.AugmentedContext {
	entry.HitCount++
	entry.LastAccessed = time.Now()
	if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
		_ = e.cache.Set(ctx, key, entry, ttl)
	}

	return &models.AugmentedContext{
		SystemPrompt:     req.SystemPrompt,
		ContextPrompt:    entry.PromptTemplate,
		TotalTokens:      entry.TotalTokens,
		RelevantMemories: entry.RelevantMemories,
		AssemblyTime:     time.Since(start),
		CacheHit:         true,
		Metadata: models.AugmentedMetadata{
			TopicHash:        entry.TopicHash,
			EntityList:       entry.Metadata.EntityList,
			MemoryCount:      entry.Metadata.MemoryCount,
			CompressionRatio: entry.Metadata.CompressionRatio,
		},
	}
}

func (e *Engine) writeCache(ctx context.Context, key string, topic models.TopicClassification, req Request, ac *models.AugmentedContext) {
	if e.cache == nil || !e.cache.IsConnected() {
		return
	}
	now := time.Now()
	entry := models.ContextCacheEntry{
		Key:              key,
		UserID:           req.UserID,
		TopicHash:        topic.Hash,
		PromptTemplate:   ac.ContextPrompt,
		RelevantMemories: ac.RelevantMemories,
		TotalTokens:      ac.TotalTokens,
		ComputedAt:       now,
		ExpiresAt:        now.Add(e.contextTTL),
		LastAccessed:     now,
		Metadata: models.ContextEntryDetail{
			MemoryCount:      ac.Metadata.MemoryCount,
			EntityList:       ac.Metadata.EntityList,
			CompressionRatio: ac.Metadata.CompressionRatio,
			ComputationTime:  ac.AssemblyTime.Milliseconds(),
		},
	}
	if err := e.cache.Set(ctx, key, entry, e.contextTTL); err != nil {
		e.cacheErrOnce.Do(func() {
			e.logger.Warn(ctx, "context cache write failing, continuing without cache", "error", err.Error())
		})
	}
}

func lastUserText(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
