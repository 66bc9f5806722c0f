package pipeline

import (
	"time"

	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/internal/router"
	"github.com/arcfault/switchboard/internal/tieredfc"
	"github.com/arcfault/switchboard/pkg/models"
)

// PipelineContext is the single mutable state for one turn. The
// orchestrator owns it exclusively; stages mutate it sequentially and
// never share it across turns.
type PipelineContext struct {
	TurnID  string
	Request *models.TurnRequest

	// Resolved by the auth stage.
	User *models.User

	// Populated by the mcp stage; tieredfc may empty it when stripping.
	Tools []models.ToolDescriptor

	// Populated by the memory stage.
	MemoryContext      *models.MemoryContext
	RetrievedMemories  []models.MemoryEntry
	MemoryPromptBlock  string

	// Populated by the context stage.
	Assembled *models.AugmentedContext

	// Populated by the tieredfc stage.
	Slider   models.SliderConfig
	Decision *tieredfc.Decision

	// Populated by the route stage.
	Routing *router.RoutingDecision

	// Populated by the llm stage.
	Response       *providers.Response
	ServedProvider string

	// Populated by the metrics stage.
	Cost *models.CostBreakdown

	// NotPersisted marks a turn whose stream completed but whose durable
	// write failed.
	NotPersisted bool

	StartedAt time.Time
}

// LastUserText returns the text of the most recent user message.
func (pc *PipelineContext) LastUserText() string {
	msgs := pc.Request.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

// FinishReason resolves the turn's terminal reason from the provider
// response, defaulting to stop.
func (pc *PipelineContext) FinishReason() models.FinishReason {
	if pc.Response != nil && pc.Response.FinishReason != "" {
		return pc.Response.FinishReason
	}
	return models.FinishStop
}
