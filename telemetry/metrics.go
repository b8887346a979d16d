package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts events in a Prometheus counter labelled by operation and code.
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink creates a MetricsSink and registers its collector with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "events_total",
			Help:      "Total number of pipeline fault and state-transition events",
		},
		[]string{"operation", "code"},
	)
	if err := reg.Register(events); err != nil {
		return nil, fmt.Errorf("failed to register events counter: %w", err)
	}

	return &MetricsSink{events: events}, nil
}

// Report implements Sink.
func (s *MetricsSink) Report(_ context.Context, event Event) {
	s.events.WithLabelValues(event.Operation, event.ErrorCode).Inc()
}
