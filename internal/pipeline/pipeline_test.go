package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// scriptedStage is a scriptable stage for orchestrator tests.
type scriptedStage struct {
	name     string
	policy   FailurePolicy
	run      func(ctx context.Context, pc *PipelineContext, events *EventStream) error
	rollback func()
	ran      bool
}

func (s *scriptedStage) Name() string          { return s.name }
func (s *scriptedStage) Policy() FailurePolicy { return s.policy }

func (s *scriptedStage) Run(ctx context.Context, pc *PipelineContext, events *EventStream) error {
	s.ran = true
	if s.run == nil {
		return nil
	}
	return s.run(ctx, pc, events)
}

func (s *scriptedStage) Rollback(context.Context, *PipelineContext) {
	if s.rollback != nil {
		s.rollback()
	}
}

func testPipeline(t *testing.T, stages ...Stage) *Pipeline {
	t.Helper()
	cfg := config.PipelineConfig{
		TurnTimeout:     5 * time.Second,
		StageTimeout:    2 * time.Second,
		SessionLockWait: 100 * time.Millisecond,
		EventBuffer:     256,
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(stages, cfg, nil, observability.NopLogger(), metrics)
}

func turnRequest() *models.TurnRequest {
	return &models.TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		Messages:  []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}
}

func drain(t *testing.T, events <-chan models.TurnEvent) []models.TurnEvent {
	t.Helper()
	var out []models.TurnEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not terminate")
		}
	}
}

func lastEvent(t *testing.T, events []models.TurnEvent) models.TurnEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	return events[len(events)-1]
}

func TestRunStreamsAndFinishesDone(t *testing.T) {
	stage := &scriptedStage{name: "speak", run: func(_ context.Context, pc *PipelineContext, events *EventStream) error {
		events.Emit(models.TurnEvent{Type: models.EventTextDelta, TextDelta: "hi "})
		events.Emit(models.TurnEvent{Type: models.EventTextDelta, TextDelta: "there"})
		return nil
	}}
	p := testPipeline(t, stage)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	resp := CollectResponse(events)
	if resp.Content != "hi there" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.FinishReason != models.FinishStop {
		t.Fatalf("finish = %s, want stop", resp.FinishReason)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDoneEventIsAlwaysLast(t *testing.T) {
	p := testPipeline(t, &scriptedStage{name: "noop"})
	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := drain(t, events)
	done := lastEvent(t, all)
	if done.Type != models.EventDone {
		t.Fatalf("last event type = %s, want done", done.Type)
	}
	for _, ev := range all[:len(all)-1] {
		if ev.Type == models.EventDone {
			t.Fatal("done event emitted before end of stream")
		}
	}
}

func TestValidationRejectsMissingSession(t *testing.T) {
	p := testPipeline(t)
	req := turnRequest()
	req.SessionID = ""

	events, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.FinishReason != models.FinishError {
		t.Fatalf("finish = %s, want error", done.FinishReason)
	}
	if done.Error == nil || done.Error.Kind != string(KindInvalidInput) {
		t.Fatalf("error = %+v, want invalid_input", done.Error)
	}
}

func TestFatalFailureRollsBackInReverse(t *testing.T) {
	var order []string
	first := &scriptedStage{name: "first", rollback: func() { order = append(order, "first") }}
	second := &scriptedStage{name: "second", rollback: func() { order = append(order, "second") }}
	failing := &scriptedStage{name: "boom", run: func(context.Context, *PipelineContext, *EventStream) error {
		return Errf(KindProviderUnavailable, "no backend", nil)
	}}
	after := &scriptedStage{name: "after"}
	p := testPipeline(t, first, second, failing, after)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.Error == nil || done.Error.Kind != string(KindProviderUnavailable) {
		t.Fatalf("error = %+v", done.Error)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("rollback order = %v, want [second first]", order)
	}
	if after.ran {
		t.Fatal("stage after a fatal failure still ran")
	}
}

func TestWarnContinueKeepsGoing(t *testing.T) {
	warning := &scriptedStage{name: "flaky", policy: WarnContinue, run: func(context.Context, *PipelineContext, *EventStream) error {
		return Errf(KindInternal, "optional work failed", nil)
	}}
	after := &scriptedStage{name: "after"}
	p := testPipeline(t, warning, after)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := drain(t, events)
	var warned bool
	for _, ev := range all {
		if ev.Type == models.EventWarning && ev.Warning != nil && ev.Warning.Kind == string(KindInternal) {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected warning event")
	}
	if !after.ran {
		t.Fatal("stage after a warn-continue failure did not run")
	}
	if done := lastEvent(t, all); done.FinishReason != models.FinishStop {
		t.Fatalf("finish = %s, want stop", done.FinishReason)
	}
}

func TestNonFatalKindDowngradesFatalPolicy(t *testing.T) {
	degraded := &scriptedStage{name: "cachey", policy: Fatal, run: func(context.Context, *PipelineContext, *EventStream) error {
		return Errf(KindCacheUnavailable, "cache down", nil)
	}}
	after := &scriptedStage{name: "after"}
	p := testPipeline(t, degraded, after)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.FinishReason != models.FinishStop {
		t.Fatalf("finish = %s, want stop", done.FinishReason)
	}
	if !after.ran {
		t.Fatal("cache_unavailable should not stop the turn")
	}
}

func TestSkipDownstreamFinishesCleanly(t *testing.T) {
	skipper := &scriptedStage{name: "gate", policy: SkipDownstream, run: func(context.Context, *PipelineContext, *EventStream) error {
		return Errf(KindInternal, "short-circuit", nil)
	}}
	after := &scriptedStage{name: "after"}
	p := testPipeline(t, skipper, after)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.FinishReason != models.FinishStop {
		t.Fatalf("finish = %s, want stop", done.FinishReason)
	}
	if after.ran {
		t.Fatal("downstream stage ran after skip")
	}
}

func TestCanceledTurnEmitsCanceledDone(t *testing.T) {
	var rolled bool
	first := &scriptedStage{name: "first", rollback: func() { rolled = true }}
	canceling := &scriptedStage{name: "cancel", run: func(ctx context.Context, _ *PipelineContext, _ *EventStream) error {
		return context.Canceled
	}}
	p := testPipeline(t, first, canceling)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.FinishReason != models.FinishCanceled {
		t.Fatalf("finish = %s, want canceled", done.FinishReason)
	}
	if done.Error != nil {
		t.Fatalf("canceled done carries error: %+v", done.Error)
	}
	if !rolled {
		t.Fatal("completed stages were not rolled back on cancel")
	}
}

func TestStagePanicBecomesInternalError(t *testing.T) {
	panicky := &scriptedStage{name: "panicky", run: func(context.Context, *PipelineContext, *EventStream) error {
		panic("boom")
	}}
	p := testPipeline(t, panicky)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.Error == nil || done.Error.Kind != string(KindInternal) {
		t.Fatalf("error = %+v, want internal", done.Error)
	}
}

func TestPersistFailureSurfacesOnDone(t *testing.T) {
	persisting := &scriptedStage{name: "persist", policy: WarnContinue, run: func(_ context.Context, pc *PipelineContext, _ *EventStream) error {
		pc.NotPersisted = true
		return Errf(KindPersistFailed, "turn was not persisted", errors.New("db down"))
	}}
	p := testPipeline(t, persisting)

	events, err := p.Run(context.Background(), turnRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := lastEvent(t, drain(t, events))
	if done.FinishReason != models.FinishStop {
		t.Fatalf("finish = %s, want stop", done.FinishReason)
	}
	if !done.NotPersisted {
		t.Fatal("done event should mark the turn not persisted")
	}
	if done.Error == nil || done.Error.Kind != string(KindPersistFailed) {
		t.Fatalf("error = %+v, want persist_failed", done.Error)
	}
}

func TestNilRequestRejected(t *testing.T) {
	p := testPipeline(t)
	if _, err := p.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestEventStreamBackpressure(t *testing.T) {
	s := NewEventStream(1)
	s.Emit(models.TurnEvent{Type: models.EventTextDelta, TextDelta: "a"})
	s.Emit(models.TurnEvent{Type: models.EventTextDelta, TextDelta: "b"})
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}

	// The terminal event evicts buffered deltas rather than being dropped.
	s.EmitDone(models.TurnEvent{FinishReason: models.FinishStop})
	var last models.TurnEvent
	for ev := range s.Events() {
		last = ev
	}
	if last.Type != models.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}

	// Emitting after close is a no-op.
	s.Emit(models.TurnEvent{Type: models.EventTextDelta})
	s.EmitDone(models.TurnEvent{})
}
