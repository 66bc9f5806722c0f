package stages

import (
	"context"
	"errors"

	"github.com/arcfault/switchboard/internal/memory"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/vector"
)

// maxStageMemories bounds how many memories one turn retrieves.
const maxStageMemories = 10

// Memory populates the context with the user's working set and relevant
// retrieved memories. Failure never stops the turn.
type Memory struct {
	pipeline.BaseStage
	manager *memory.Manager
	logger  *observability.Logger
}

// NewMemory creates the memory stage.
func NewMemory(manager *memory.Manager, logger *observability.Logger) *Memory {
	return &Memory{manager: manager, logger: logger}
}

func (s *Memory) Name() string                   { return "memory" }
func (s *Memory) Policy() pipeline.FailurePolicy { return pipeline.WarnContinue }

func (s *Memory) Run(ctx context.Context, pc *pipeline.PipelineContext, events *pipeline.EventStream) error {
	if !pc.Request.Flags.EnableMemory || s.manager == nil {
		return nil
	}
	userID := pc.User.ID

	mc, err := s.manager.Context(ctx, userID)
	if err != nil {
		return pipeline.Errf(pipeline.KindCacheUnavailable, "memory working set unavailable", err)
	}
	pc.MemoryContext = mc

	retrieved, err := s.manager.Retrieve(ctx, userID, pc.LastUserText(), maxStageMemories)
	if err != nil {
		if errors.Is(err, vector.ErrUnavailable) {
			return pipeline.Errf(pipeline.KindVectorUnavailable, "vector search unavailable, keyword fallback failed", err)
		}
		return pipeline.Errf(pipeline.KindInternal, "memory retrieval failed", err)
	}
	pc.RetrievedMemories = retrieved
	pc.MemoryPromptBlock = memory.PromptBlock(mc, retrieved)
	return nil
}
