package router

import (
	"regexp"
	"strings"

	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/pkg/models"
)

// RequestAnalysis summarizes the routing-relevant traits of a request.
type RequestAnalysis struct {
	HasTools           bool
	ToolCount          int
	IsMultiCloud       bool
	IsComplexReasoning bool
	IsMultiStep        bool
	RequiresVision     bool
	EstimatedTokens    int
}

var cloudKeywords = []string{"azure", "aws", "amazon web services", "gcp", "google cloud"}

var reasoningMarkers = []string{"analyze", "compare", "explain why", "step by step", "reason through"}

var sequenceMarkers = []string{"first", "then", "next", "after that", "finally", "followed by"}

var numberedItem = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

// Analyze inspects the messages and tool count.
func Analyze(msgs []models.Message, toolCount int) RequestAnalysis {
	a := RequestAnalysis{
		HasTools:  toolCount > 0,
		ToolCount: toolCount,
	}

	var all strings.Builder
	for i := range msgs {
		if msgs[i].HasImage() {
			a.RequiresVision = true
		}
		all.WriteString(msgs[i].Text())
		all.WriteString("\n")
	}
	text := all.String()
	lower := strings.ToLower(text)

	clouds := 0
	for _, kw := range cloudKeywords {
		if strings.Contains(lower, kw) {
			clouds++
		}
	}
	a.IsMultiCloud = clouds >= 2

	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			a.IsComplexReasoning = true
			break
		}
	}

	seq := 0
	for _, marker := range sequenceMarkers {
		if strings.Contains(lower, marker) {
			seq++
		}
	}
	a.IsMultiStep = seq >= 2 || len(numberedItem.FindAllString(text, 3)) >= 2

	a.EstimatedTokens = providers.EstimateTokens(text)
	return a
}
