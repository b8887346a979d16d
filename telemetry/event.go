package telemetry

import (
	"context"
	"time"
)

// Operations that emit events.
const (
	OpEmbedBatch  = "embed_batch"
	OpPipeline    = "pipeline"
	OpIdempotency = "idempotency"
)

// Event codes.
const (
	CodeRetry     = "retry"
	CodeSplit     = "split"
	CodeDegrade   = "degrade"
	CodeCancelled = "cancelled"
	CodePanic     = "panic"

	CodeRunStarted   = "run_started"
	CodeRunCompleted = "run_completed"
	CodeRunFailed    = "run_failed"
	CodeRunReplayed  = "run_replayed"
	CodeRunConflict  = "run_conflict"
	CodeRunTakeover  = "run_takeover"
)

// Event is a single structured fault or state-transition report.
type Event struct {
	Operation string
	ErrorCode string
	Message   string
	Timestamp time.Time
	Context   map[string]any
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(operation, code, message string, kv map[string]any) Event {
	return Event{
		Operation: operation,
		ErrorCode: code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   kv,
	}
}

// Sink receives events. Implementations must be safe for concurrent use and must not block for long.
type Sink interface {
	Report(ctx context.Context, event Event)
}

type nopSink struct{}

func (nopSink) Report(context.Context, Event) {}

// Nop returns a Sink that discards every event.
func Nop() Sink {
	return nopSink{}
}

type multiSink []Sink

func (m multiSink) Report(ctx context.Context, event Event) {
	for _, s := range m {
		s.Report(ctx, event)
	}
}

// Multi returns a Sink that forwards each event to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
