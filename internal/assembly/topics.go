package assembly

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/arcfault/switchboard/pkg/models"
)

// maxEntities caps how many proper nouns a classification carries.
const maxEntities = 5

// maxKeywords caps the keyword list.
const maxKeywords = 10

// topicHashChars is how much leading text feeds the topic hash.
const topicHashChars = 500

// techTerms is the fixed term list matched case-insensitively during
// entity extraction.
var techTerms = []string{
	"kubernetes", "docker", "terraform", "azure", "aws", "gcp", "lambda",
	"postgres", "redis", "kafka", "grpc", "graphql", "oauth", "devops",
	"python", "golang", "typescript", "react", "linux", "nginx",
}

// topicRules maps indicator terms to a primary topic. Checked in order;
// first rule with a matching keyword or entity wins.
var topicRules = []struct {
	topic string
	terms []string
}{
	{"infrastructure", []string{"kubernetes", "docker", "terraform", "cluster", "deployment", "nginx", "devops"}},
	{"cloud", []string{"azure", "aws", "gcp", "lambda", "subscription", "bucket"}},
	{"data", []string{"postgres", "redis", "kafka", "database", "query", "schema", "migration"}},
	{"programming", []string{"python", "golang", "typescript", "react", "function", "compile", "debug"}},
	{"security", []string{"oauth", "token", "certificate", "vulnerability", "firewall", "encryption"}},
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "between": {}, "both": {}, "could": {},
	"does": {}, "doing": {}, "down": {}, "during": {}, "each": {},
	"from": {}, "have": {}, "having": {}, "here": {}, "into": {},
	"just": {}, "more": {}, "most": {}, "only": {}, "other": {},
	"over": {}, "same": {}, "should": {}, "some": {}, "such": {},
	"than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"through": {}, "under": {}, "until": {}, "very": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"with": {}, "would": {}, "your": {}, "please": {}, "want": {},
	"need": {}, "like": {}, "know": {}, "tell": {},
}

// ClassifyTopic classifies conversation text: entities from the tech-term
// list plus a capitalized-word heuristic, top keywords by frequency, a
// primary topic from the rule table, and a stable hash of the leading text.
func ClassifyTopic(text string) models.TopicClassification {
	lower := strings.ToLower(text)
	words := splitWords(text)

	entities := extractEntities(lower, words)
	keywords := extractKeywords(words)
	primary, secondary := matchTopics(keywords, entities)

	// Confidence grows with recognized-term density.
	termHits := 0
	for _, term := range techTerms {
		termHits += strings.Count(lower, term)
	}
	confidence := float64(termHits) * 0.1
	if confidence > 1 {
		confidence = 1
	}

	return models.TopicClassification{
		PrimaryTopic:    primary,
		SecondaryTopics: secondary,
		Entities:        entities,
		Keywords:        keywords,
		Confidence:      confidence,
		Hash:            topicHash(text),
	}
}

// topicHash digests the first 500 characters into 16 hex chars.
func topicHash(text string) string {
	if len(text) > topicHashChars {
		text = text[:topicHashChars]
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// extractEntities matches tech terms and capitalized words, capped at 5.
func extractEntities(lower string, words []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(e string) {
		if len(out) >= maxEntities {
			return
		}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, term := range techTerms {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	for i, w := range words {
		if len(w) < 2 || i == 0 {
			// Sentence-initial capitals are not proper-noun evidence.
			continue
		}
		r := []rune(w)
		if unicode.IsUpper(r[0]) && !unicode.IsUpper(r[1]) {
			add(strings.ToLower(w))
		}
	}
	return out
}

// extractKeywords takes the top 10 stop-word-filtered words with length
// over 3, ranked by frequency with lexical tie-break for determinism.
func extractKeywords(words []string) []string {
	freq := make(map[string]int)
	for _, w := range words {
		w = strings.ToLower(w)
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		freq[w]++
	}

	keys := make([]string, 0, len(freq))
	for w := range freq {
		keys = append(keys, w)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > maxKeywords {
		keys = keys[:maxKeywords]
	}
	return keys
}

// matchTopics resolves the primary topic and any secondary topics from the
// rule table.
func matchTopics(keywords, entities []string) (string, []string) {
	terms := make(map[string]struct{}, len(keywords)+len(entities))
	for _, k := range keywords {
		terms[k] = struct{}{}
	}
	for _, e := range entities {
		terms[e] = struct{}{}
	}

	var matched []string
	for _, rule := range topicRules {
		for _, t := range rule.terms {
			if _, ok := terms[t]; ok {
				matched = append(matched, rule.topic)
				break
			}
		}
	}
	if len(matched) == 0 {
		return "general", nil
	}
	return matched[0], matched[1:]
}
