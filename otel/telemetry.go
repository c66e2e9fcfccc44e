package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/vkorna/kstreams"

// Telemetry holds all OpenTelemetry instruments for the go-streams library
// When no providers are configured, all instruments are noops with zero overhead
type Telemetry struct {
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator

	// Consumer metrics
	MessagesConsumed metric.Int64Counter
	PollDuration     metric.Float64Histogram

	// Processing metrics
	ProcessDuration metric.Float64Histogram

	// Producer metrics
	MessagesProduced metric.Int64Counter
	ProduceDuration  metric.Float64Histogram

	// Error metrics
	Errors              metric.Int64Counter
	ErrorHandlerActions metric.Int64Counter

	// Runner state metrics
	TasksActive metric.Int64UpDownCounter

	// Group state gauges, sampled on collection via ObserveGroup rather
	// than pushed synchronously like the counters/histograms above.
	GroupBuffered metric.Int64ObservableGauge
	StreamTime    metric.Int64ObservableGauge

	meter metric.Meter
}

// NewTelemetry creates a Telemetry instance from the given providers.
// all providers are optional and defaulted to noops if nil
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) (
	*Telemetry, error,
) {
	if tp == nil {
		tp = traceNoop.NewTracerProvider()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if prop == nil {
		prop = propagation.TraceContext{}
	}

	tracer := tp.Tracer(scopeName)
	meter := mp.Meter(scopeName)

	messagesConsumed, err := meter.Int64Counter(
		"messaging.consumer.messages",
		metric.WithDescription("Records consumed"),
	)
	if err != nil {
		return nil, err
	}

	pollDuration, err := meter.Float64Histogram(
		"stream.poll.duration",
		metric.WithDescription("Time per Poll() call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	processDuration, err := meter.Float64Histogram(
		"stream.process.duration",
		metric.WithDescription("End-to-end record processing time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesProduced, err := meter.Int64Counter(
		"messaging.producer.messages",
		metric.WithDescription("Records produced"),
	)
	if err != nil {
		return nil, err
	}

	produceDuration, err := meter.Float64Histogram(
		"stream.produce.duration",
		metric.WithDescription("Time per Send() call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errors, err := meter.Int64Counter(
		"stream.errors",
		metric.WithDescription("Processing errors encountered"),
	)
	if err != nil {
		return nil, err
	}

	errorHandlerActions, err := meter.Int64Counter(
		"stream.error_handler.actions",
		metric.WithDescription("Error handler decisions"),
	)
	if err != nil {
		return nil, err
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"stream.tasks.active",
		metric.WithDescription("Active tasks (partitions)"),
	)
	if err != nil {
		return nil, err
	}

	groupBuffered, err := meter.Int64ObservableGauge(
		"stream.group.buffered",
		metric.WithDescription("Records currently buffered across all partitions of a StreamGroup"),
	)
	if err != nil {
		return nil, err
	}

	streamTime, err := meter.Int64ObservableGauge(
		"stream.group.stream_time",
		metric.WithDescription("StreamGroup's logical stream-time clock"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Tracer:              tracer,
		Propagator:          prop,
		MessagesConsumed:    messagesConsumed,
		PollDuration:        pollDuration,
		ProcessDuration:     processDuration,
		MessagesProduced:    messagesProduced,
		ProduceDuration:     produceDuration,
		Errors:              errors,
		ErrorHandlerActions: errorHandlerActions,
		TasksActive:         tasksActive,
		GroupBuffered:       groupBuffered,
		StreamTime:          streamTime,
		meter:               meter,
	}, nil
}

// ObserveGroup registers a callback that samples a group.StreamGroup's
// Buffered() and StreamTime() accessors on every collection, publishing
// them as GroupBuffered/StreamTime rather than requiring the group to push
// through a second metrics surface (SPEC_FULL.md §11.3). Callers should
// Unregister() the returned Registration when the group is closed.
func (t *Telemetry) ObserveGroup(buffered func() int64, streamTime func() int64) (metric.Registration, error) {
	return t.meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(t.GroupBuffered, buffered())
			o.ObserveInt64(t.StreamTime, streamTime())
			return nil
		},
		t.GroupBuffered, t.StreamTime,
	)
}

// Noop returns a Telemetry instance with all noop instruments
func Noop() *Telemetry {
	t, _ := NewTelemetry(nil, nil, nil)
	return t
}
