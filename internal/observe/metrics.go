// Package observe provides OpenTelemetry metrics for the assistant core and a
// Prometheus bridge so they can be scraped from the headless host.
//
// A nil *Metrics is valid and records nothing, so the core can run without an
// SDK configured.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "wakeassist"

// Metrics holds the instruments recorded by the polling loop.
type Metrics struct {
	// Ticks counts executed polling ticks.
	Ticks metric.Int64Counter

	// TickDuration tracks the wall time of one tick in seconds.
	TickDuration metric.Float64Histogram

	// ReadFailures counts per-tick provider failures.
	ReadFailures metric.Int64Counter

	// Escalations counts forced recoveries after repeated read failures.
	Escalations metric.Int64Counter

	// Transitions counts state changes. Attribute: state.
	Transitions metric.Int64Counter

	// Commands counts dispatched commands. Attribute: matched.
	Commands metric.Int64Counter

	// Notifications counts popups shown.
	Notifications metric.Int64Counter
}

var tickBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("wakeassist.poll.ticks",
		metric.WithDescription("Polling loop ticks executed."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("wakeassist.poll.tick.duration",
		metric.WithDescription("Wall time of one polling tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReadFailures, err = m.Int64Counter("wakeassist.provider.read_failures",
		metric.WithDescription("Recognizer reads that failed within a tick."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("wakeassist.provider.escalations",
		metric.WithDescription("Forced recoveries after consecutive read failures."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("wakeassist.state.transitions",
		metric.WithDescription("Assistant state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("wakeassist.commands",
		metric.WithDescription("Recognized commands by vocabulary match."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("wakeassist.notifications",
		metric.WithDescription("Popup notifications shown."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordTick records one executed tick.
func (m *Metrics) RecordTick(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Add(ctx, 1)
	m.TickDuration.Record(ctx, took.Seconds())
}

// RecordReadFailure records one failed tick read.
func (m *Metrics) RecordReadFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.ReadFailures.Add(ctx, 1)
}

// RecordEscalation records a forced recovery.
func (m *Metrics) RecordEscalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1)
}

// RecordTransition records a transition into state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordCommand records a dispatched command.
func (m *Metrics) RecordCommand(ctx context.Context, matched bool) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.Bool("matched", matched)))
}

// RecordNotification records a popup being shown.
func (m *Metrics) RecordNotification(ctx context.Context) {
	if m == nil {
		return
	}
	m.Notifications.Add(ctx, 1)
}
