package assembly

import "strings"

// Tier share of the budget remaining after the system prompt. Tier 1 gets
// the most recent conversation, so it takes the largest share.
const (
	tier1Share = 0.5
	tier2Share = 0.3
	tier3Share = 0.2
)

// Budget apportions a model's usable context window across the system
// prompt and the three tiers. Invariant: System + Tier1 + Tier2 + Tier3 ==
// contextWindow − reservedForGeneration.
type Budget struct {
	System int
	Tier1  int
	Tier2  int
	Tier3  int
}

// NewBudget builds a budget. The system prompt takes what it needs; tiers
// split the remainder proportionally, with tier1 absorbing rounding slack.
func NewBudget(contextWindow, reservedForGeneration, systemTokens int) Budget {
	total := contextWindow - reservedForGeneration
	if total < 0 {
		total = 0
	}
	if systemTokens > total {
		systemTokens = total
	}
	remaining := total - systemTokens

	b := Budget{
		System: systemTokens,
		Tier2:  int(float64(remaining) * tier2Share),
		Tier3:  int(float64(remaining) * tier3Share),
	}
	b.Tier1 = remaining - b.Tier2 - b.Tier3
	return b
}

// Total returns the full apportioned budget.
func (b Budget) Total() int {
	return b.System + b.Tier1 + b.Tier2 + b.Tier3
}

// EstimateTokens approximates token count as ceil(len/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// truncateAtSentence cuts text to at most maxTokens, but only where the
// cut lands on a sentence boundary. Returns ok=false when no boundary
// exists within the limit; callers skip the item instead.
func truncateAtSentence(text string, maxTokens int) (string, bool) {
	if EstimateTokens(text) <= maxTokens {
		return text, true
	}
	limit := maxTokens * 4
	if limit <= 0 || limit > len(text) {
		return "", false
	}

	window := text[:limit]
	cut := -1
	for _, boundary := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, boundary); idx > cut {
			cut = idx
		}
	}
	if cut <= 0 {
		return "", false
	}
	return strings.TrimSpace(text[:cut+1]), true
}
