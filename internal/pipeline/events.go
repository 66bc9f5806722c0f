package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/arcfault/switchboard/pkg/models"
)

// EventStream is the bounded single-producer FIFO stream for one turn.
// Content deltas are droppable under back-pressure; lifecycle events
// (stage status, warnings, done) displace the oldest buffered event
// instead so the stream always terminates with done.
type EventStream struct {
	ch      chan models.TurnEvent
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// NewEventStream creates a stream with the given buffer depth.
func NewEventStream(buffer int) *EventStream {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventStream{ch: make(chan models.TurnEvent, buffer)}
}

// Events is the consumer side. It is closed after the done event.
func (s *EventStream) Events() <-chan models.TurnEvent {
	return s.ch
}

// Dropped reports how many deltas were discarded under back-pressure.
func (s *EventStream) Dropped() int64 {
	return s.dropped.Load()
}

// Emit queues a delta event. Full buffer drops the event.
func (s *EventStream) Emit(ev models.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// EmitLifecycle queues a lifecycle event, evicting the oldest buffered
// event when full. Lifecycle events are never dropped.
func (s *EventStream) EmitLifecycle(ev models.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Close terminates the stream. Idempotent.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EmitDone emits the terminal event and closes the stream.
func (s *EventStream) EmitDone(ev models.TurnEvent) {
	ev.Type = models.EventDone
	s.EmitLifecycle(ev)
	s.Close()
}

// Warn emits a warning event with a stable kind.
func (s *EventStream) Warn(kind Kind, message string) {
	s.EmitLifecycle(models.TurnEvent{
		Type:    models.EventWarning,
		Warning: &models.ErrorInfo{Kind: string(kind), Message: message},
	})
}

// StageStatus emits a stage_status event.
func (s *EventStream) StageStatus(stage, state string) {
	s.EmitLifecycle(models.TurnEvent{
		Type:       models.EventStageStatus,
		Stage:      stage,
		StageState: state,
	})
}
