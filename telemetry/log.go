package telemetry

import (
	"context"
	"log/slog"
	"sort"
)

// LogSink writes events to a slog.Logger.
// Degrades and recovered panics are logged at error level, retries, splits and
// idempotency conflicts at warn, and everything else at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "telemetry")
	}
	return &LogSink{logger: logger}
}

// Report implements Sink.
func (s *LogSink) Report(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Context)+3)
	attrs = append(attrs,
		slog.String("operation", event.Operation),
		slog.String("code", event.ErrorCode),
		slog.Time("timestamp", event.Timestamp),
	)

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Context[k]))
	}

	s.logger.LogAttrs(ctx, levelFor(event.ErrorCode), event.Message, attrs...)
}

func levelFor(code string) slog.Level {
	switch code {
	case CodeDegrade, CodePanic, CodeRunFailed:
		return slog.LevelError
	case CodeRetry, CodeSplit, CodeCancelled, CodeRunConflict, CodeRunTakeover:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
