// Package observability counts what the sdk bus drops, retries and correlates.
//
// Counters go through OpenTelemetry; configure the global meter provider before calling
// NewRecorder. Use Noop{} when metrics are disabled.
package observability

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes reported by correlators.
const (
	DeliveryFulfilled   = "fulfilled"
	DeliveryUnsolicited = "unsolicited"
	DeliveryDropped     = "dropped"
	DeliveryFailed      = "failed"
)

// Correlation outcomes reported by waiting callers.
const (
	CorrelationFulfilled = "fulfilled"
	CorrelationTimedOut  = "timed_out"
	CorrelationCancelled = "cancelled"
)

// Recorder records sdk bus metrics.
type Recorder interface {
	// RecordEnqueue records one engine put with the attempts it took.
	RecordEnqueue(ctx context.Context, queue string, attempts int, err error)

	// RecordDelivery records what a consumer did with one dequeued event.
	RecordDelivery(ctx context.Context, consumer, outcome string)

	// RecordCorrelation records the terminal outcome of one wait.
	RecordCorrelation(ctx context.Context, consumer, outcome string)

	// RecordForward records one event handed to the platform transport.
	RecordForward(ctx context.Context, transport string, err error)
}

type otelRecorder struct {
	enqueueAttempts metric.Int64Counter
	enqueueFailures metric.Int64Counter
	deliveries      metric.Int64Counter
	correlations    metric.Int64Counter
	forwarded       metric.Int64Counter
	forwardFailures metric.Int64Counter
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

func getDefaultRecorder() (*otelRecorder, error) {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder()
	})

	return defaultRecorder, defaultRecorderErr
}

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter("scg-sdk-bus")

	enqueueAttempts, err := meter.Int64Counter("sdkbus.enqueue.attempts",
		metric.WithDescription("Number of put attempts made by the enqueue engine"),
	)
	if err != nil {
		return nil, err
	}

	enqueueFailures, err := meter.Int64Counter("sdkbus.enqueue.failures",
		metric.WithDescription("Number of events the enqueue engine gave up on"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("sdkbus.delivery.events",
		metric.WithDescription("Dequeued events by delivery outcome"),
	)
	if err != nil {
		return nil, err
	}

	correlations, err := meter.Int64Counter("sdkbus.correlation.outcomes",
		metric.WithDescription("Synchronous waits by terminal outcome"),
	)
	if err != nil {
		return nil, err
	}

	forwarded, err := meter.Int64Counter("sdkbus.relay.forwarded",
		metric.WithDescription("Events forwarded to the platform transport"),
	)
	if err != nil {
		return nil, err
	}

	forwardFailures, err := meter.Int64Counter("sdkbus.relay.failures",
		metric.WithDescription("Events the platform transport rejected"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		enqueueAttempts: enqueueAttempts,
		enqueueFailures: enqueueFailures,
		deliveries:      deliveries,
		correlations:    correlations,
		forwarded:       forwarded,
		forwardFailures: forwardFailures,
	}, nil
}

// NewRecorder returns a Recorder backed by the global OTel meter provider.
// If instrument creation fails it logs and returns Noop{}.
func NewRecorder() Recorder {
	r, err := getDefaultRecorder()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))

		return Noop{}
	}

	return r
}

func (r *otelRecorder) RecordEnqueue(ctx context.Context, queue string, attempts int, err error) {
	attrs := metric.WithAttributes(attribute.String("queue", queue))

	r.enqueueAttempts.Add(ctx, int64(attempts), attrs)

	if err != nil {
		r.enqueueFailures.Add(ctx, 1, attrs)
	}
}

func (r *otelRecorder) RecordDelivery(ctx context.Context, consumer, outcome string) {
	r.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("consumer", consumer),
		attribute.String("outcome", outcome),
	))
}

func (r *otelRecorder) RecordCorrelation(ctx context.Context, consumer, outcome string) {
	r.correlations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("consumer", consumer),
		attribute.String("outcome", outcome),
	))
}

func (r *otelRecorder) RecordForward(ctx context.Context, transport string, err error) {
	attrs := metric.WithAttributes(attribute.String("transport", transport))

	r.forwarded.Add(ctx, 1, attrs)

	if err != nil {
		r.forwardFailures.Add(ctx, 1, attrs)
	}
}

// Noop is a Recorder that does nothing.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordEnqueue(_ context.Context, _ string, _ int, _ error) {}
func (Noop) RecordDelivery(_ context.Context, _, _ string)             {}
func (Noop) RecordCorrelation(_ context.Context, _, _ string)          {}
func (Noop) RecordForward(_ context.Context, _ string, _ error)        {}

// OrNoop returns r, or Noop{} when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}

	return r
}
