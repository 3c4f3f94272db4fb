// Package metrics holds the OpenTelemetry instruments recorded by the runtime:
// mechanic executions, configuration store events, telemetry samples and
// registry component counts.
//
// Components receive a *Metrics explicitly. A nil *Metrics is valid and
// records nothing, so libraries and tests can skip instrumentation entirely.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Mosberg/entomology"

// Attribute keys shared by the instruments.
const (
	AttrMechanic = "mechanic"
	AttrResult   = "result"
	AttrDocument = "document"
	AttrOp       = "op"
	AttrStatus   = "status"
	AttrMetric   = "metric"
)

type Metrics struct {
	// MechanicExecutions counts Execute calls by mechanic and result type.
	MechanicExecutions metric.Int64Counter

	// MechanicDuration tracks Execute latency in seconds.
	MechanicDuration metric.Float64Histogram

	// ConfigEvents counts load/save/set/reload outcomes per document.
	ConfigEvents metric.Int64Counter

	// TelemetrySamples counts samples accepted by the telemetry system.
	TelemetrySamples metric.Int64Counter

	// Components tracks realised registry components: singletons on
	// registration, factory components on first Get.
	Components metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5,
}

// New creates every instrument from mp. Returns an error if any instrument
// creation fails.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.MechanicExecutions, err = m.Int64Counter("entomology.mechanic.executions",
		metric.WithDescription("Mechanic executions by mechanic and result type."),
	); err != nil {
		return nil, err
	}
	if met.MechanicDuration, err = m.Float64Histogram("entomology.mechanic.duration",
		metric.WithDescription("Latency of mechanic execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConfigEvents, err = m.Int64Counter("entomology.config.events",
		metric.WithDescription("Configuration store operations by document, operation and status."),
	); err != nil {
		return nil, err
	}
	if met.TelemetrySamples, err = m.Int64Counter("entomology.telemetry.samples",
		metric.WithDescription("Samples recorded into the balance telemetry aggregates."),
	); err != nil {
		return nil, err
	}
	if met.Components, err = m.Int64UpDownCounter("entomology.registry.components",
		metric.WithDescription("Registry components realised, counting singletons on registration and factory components on first resolution."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordExecution(ctx context.Context, mechanic, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MechanicExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMechanic, mechanic),
		attribute.String(AttrResult, result),
	))
	m.MechanicDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String(AttrMechanic, mechanic),
	))
}

func (m *Metrics) RecordConfigEvent(ctx context.Context, document, op, status string) {
	if m == nil {
		return
	}
	m.ConfigEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrDocument, document),
		attribute.String(AttrOp, op),
		attribute.String(AttrStatus, status),
	))
}

func (m *Metrics) RecordTelemetrySample(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.TelemetrySamples.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrMetric, key)))
}

func (m *Metrics) AddComponents(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.Components.Add(ctx, delta)
}
