package pipeline

import "context"

// FailurePolicy governs what a stage failure does to the turn.
type FailurePolicy int

const (
	// Fatal terminates the pipeline, triggers reverse rollback, and ends
	// the stream with done{error}.
	Fatal FailurePolicy = iota

	// WarnContinue emits a warning event and proceeds to the next stage.
	WarnContinue

	// SkipDownstream stops executing further stages but finishes the turn
	// normally with whatever state exists.
	SkipDownstream
)

// Stage is one step of the turn pipeline. Stages run sequentially against
// the shared PipelineContext and may emit events.
type Stage interface {
	Name() string

	// Run mutates the context or fails with a classified error.
	Run(ctx context.Context, pc *PipelineContext, events *EventStream) error

	// Rollback undoes side effects after a downstream fatal failure.
	// Best-effort; it must not panic.
	Rollback(ctx context.Context, pc *PipelineContext)

	Policy() FailurePolicy
}

// BaseStage provides the no-op rollback most stages use.
type BaseStage struct{}

func (BaseStage) Rollback(context.Context, *PipelineContext) {}
