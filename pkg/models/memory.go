package models

import "time"

// MemoryType classifies a memory entry by scope and lifetime.
type MemoryType string

const (
	// MemorySession entries belong to one session and evict FIFO at the
	// configured cap.
	MemorySession MemoryType = "session"

	// MemoryUser entries persist across a user's sessions.
	MemoryUser MemoryType = "user"

	// MemorySemantic entries are distilled facts; entries with importance
	// at or above PromotionThreshold are promoted to durable storage.
	MemorySemantic MemoryType = "semantic"

	// MemoryWorking entries are per-turn scratch and are never promoted.
	MemoryWorking MemoryType = "working"
)

// PromotionThreshold is the importance at which semantic entries are
// promoted to durable storage and become exempt from consolidation loss.
const PromotionThreshold = 0.7

// MemoryEntry is a single remembered item.
type MemoryEntry struct {
	ID         string     `json:"id,omitempty"`
	Type       MemoryType `json:"type"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	Importance float64    `json:"importance"` // [0,1]
	Keywords   []string   `json:"keywords,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	Relevance  float64    `json:"relevance,omitempty"` // retrieval score, not persisted
	Embedding  []float32  `json:"-"`
}

// MemoryContext is the per-user working set held in the cache under
// memory:<userId>.
type MemoryContext struct {
	SessionMemory  []MemoryEntry  `json:"session_memory"`
	UserMemory     []MemoryEntry  `json:"user_memory"`
	SemanticMemory []MemoryEntry  `json:"semantic_memory"`
	WorkingMemory  []MemoryEntry  `json:"working_memory"`
	Metadata       MemoryMetadata `json:"metadata"`
}

// MemoryMetadata carries bookkeeping for consolidation triggers.
type MemoryMetadata struct {
	TotalMemories int       `json:"total_memories"`
	LastAccessed  time.Time `json:"last_accessed"`
}

// Total recomputes the entry count across all banks.
func (m *MemoryContext) Total() int {
	return len(m.SessionMemory) + len(m.UserMemory) + len(m.SemanticMemory) + len(m.WorkingMemory)
}
