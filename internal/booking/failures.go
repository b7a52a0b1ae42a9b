package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FailureEvent is one operation that exhausted its retries. These are
// kept for operator review; booking failures must never be silently
// swallowed.
type FailureEvent struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	PatientID  string    `json:"patient_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FailureSink records critical failures. Implementations must not fail
// the caller path; recording is best-effort.
type FailureSink interface {
	Record(ctx context.Context, event FailureEvent)
}

// RingBufferSink keeps the most recent failures in memory.
type RingBufferSink struct {
	mu       sync.Mutex
	events   []FailureEvent
	capacity int
	next     int
	full     bool
}

// NewRingBufferSink creates an in-memory sink holding up to capacity
// events; older events are overwritten.
func NewRingBufferSink(capacity int) *RingBufferSink {
	if capacity <= 0 {
		capacity = 64
	}
	return &RingBufferSink{
		events:   make([]FailureEvent, capacity),
		capacity: capacity,
	}
}

func (s *RingBufferSink) Record(_ context.Context, event FailureEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = event
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns the recorded failures, oldest first.
func (s *RingBufferSink) Recent() []FailureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]FailureEvent, s.next)
		copy(out, s.events[:s.next])
		return out
	}
	out := make([]FailureEvent, 0, s.capacity)
	out = append(out, s.events[s.next:]...)
	out = append(out, s.events[:s.next]...)
	return out
}

// FanoutSink records to every wrapped sink.
type FanoutSink []FailureSink

func (f FanoutSink) Record(ctx context.Context, event FailureEvent) {
	for _, sink := range f {
		sink.Record(ctx, event)
	}
}
