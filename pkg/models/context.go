package models

import "time"

// TopicClassification is the result of classifying the active conversation
// text. Hash is a 16-hex-char stable digest used as the context cache key
// input; identical text always yields the identical hash.
type TopicClassification struct {
	PrimaryTopic    string   `json:"primary_topic"`
	SecondaryTopics []string `json:"secondary_topics,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Confidence      float64  `json:"confidence"`
	Hash            string   `json:"hash"`
}

// ContextCacheEntry is a cached assembled context. ExpiresAt governs
// validity; ComputedAt is informational.
type ContextCacheEntry struct {
	Key              string             `json:"key"`
	UserID           string             `json:"user_id"`
	TopicHash        string             `json:"topic_hash"`
	PromptTemplate   string             `json:"prompt_template"`
	RelevantMemories []MemoryEntry      `json:"relevant_memories,omitempty"`
	TotalTokens      int                `json:"total_tokens"`
	ComputedAt       time.Time          `json:"computed_at"`
	ExpiresAt        time.Time          `json:"expires_at"`
	HitCount         int                `json:"hit_count"`
	LastAccessed     time.Time          `json:"last_accessed"`
	Metadata         ContextEntryDetail `json:"metadata"`
}

// ContextEntryDetail is the informational metadata block on a cache entry.
type ContextEntryDetail struct {
	MemoryCount      int      `json:"memory_count"`
	EntityList       []string `json:"entity_list,omitempty"`
	CompressionRatio float64  `json:"compression_ratio"`
	ComputationTime  int64    `json:"computation_time_ms"`
}

// Valid reports whether the entry may still be served.
func (e *ContextCacheEntry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// ContextTier is one priority band of an assembled context. Tier 1 holds the
// most recent conversation, tier 2 prior discussion, tier 3 retrieved
// knowledge.
type ContextTier struct {
	MaxTokens  int               `json:"max_tokens"`
	UsedTokens int               `json:"used_tokens"`
	Content    []string          `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TierSet holds the three context tiers in priority order.
type TierSet struct {
	Tier1 ContextTier `json:"tier1"`
	Tier2 ContextTier `json:"tier2"`
	Tier3 ContextTier `json:"tier3"`
}

// UsedTokens sums token usage across tiers.
func (t *TierSet) UsedTokens() int {
	return t.Tier1.UsedTokens + t.Tier2.UsedTokens + t.Tier3.UsedTokens
}

// AugmentedContext is the packed prompt context handed to the provider
// stage. Invariant: system tokens plus the sum of tier used tokens never
// exceed the model's context window.
type AugmentedContext struct {
	SystemPrompt     string             `json:"system_prompt"`
	ContextPrompt    string             `json:"context_prompt"`
	TotalTokens      int                `json:"total_tokens"`
	Tiers            TierSet            `json:"tiers"`
	RelevantMemories []MemoryEntry      `json:"relevant_memories,omitempty"`
	AssemblyTime     time.Duration      `json:"assembly_time"`
	CacheHit         bool               `json:"cache_hit"`
	Metadata         AugmentedMetadata  `json:"metadata"`
}

// AugmentedMetadata describes how the context was assembled.
type AugmentedMetadata struct {
	TopicHash        string   `json:"topic_hash"`
	EntityList       []string `json:"entity_list,omitempty"`
	MemoryCount      int      `json:"memory_count"`
	CompressionRatio float64  `json:"compression_ratio"`
}
