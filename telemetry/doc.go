// Package telemetry reports pipeline fault events to external collaborators.
//
// Every retry, split, degrade and idempotency state transition is described by an
// Event and handed to a Sink. LogSink writes events through slog, MetricsSink counts
// them in Prometheus, and Multi fans one event out to several sinks.
package telemetry
