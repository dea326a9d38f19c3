// Package relay moves events between the gateway-bound queue and a platform transport.
//
// Outbound, a Relay drains the gateway queue and hands each event to a bus.Forwarder.
// Inbound, an Inbound decodes broker payloads and routes them back onto the tenant queues.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
)

const defaultPollInterval = 200 * time.Millisecond

// Source is the receiving side of the gateway queue.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) (cbus.Event, bool)
}

// Relay forwards gateway-bound events to the platform, one at a time, in queue order.
type Relay struct {
	transport string
	src       Source
	fwd       cbus.Forwarder
	shutdown  *lifecycle.Flag

	logger       *slog.Logger
	metrics      observability.Recorder
	pollInterval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Recorder) Option { return func(r *Relay) { r.metrics = m } }

// WithPollInterval sets how long each poll of the gateway queue waits.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// New returns a relay from src to fwd. transport names the forwarder in logs and metrics.
func New(transport string, src Source, fwd cbus.Forwarder, shutdown *lifecycle.Flag, opts ...Option) *Relay {
	r := &Relay{
		transport:    transport,
		src:          src,
		fwd:          fwd,
		shutdown:     shutdown,
		pollInterval: defaultPollInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r.metrics = observability.OrNoop(r.metrics)

	return r
}

// Start spawns the relay goroutine. Only the first call has an effect.
func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() { go r.run(ctx) })
}

// Stop asks the relay to exit after the event in flight, if any.
func (r *Relay) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Wait blocks until the relay has exited. It must follow Start.
func (r *Relay) Wait() { <-r.done }

func (r *Relay) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		close(r.done)
	}()

	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for !r.shutdown.Triggered() && ctx.Err() == nil {
		ev, ok := r.src.Poll(ctx, r.pollInterval)
		if !ok || ev.IsWakeup() {
			continue
		}

		if ev.IsTerminationCommand() {
			r.logger.InfoContext(ctx, "relay received terminate", slog.String("transport", r.transport))

			return
		}

		r.forward(ctx, ev)
	}
}

func (r *Relay) forward(ctx context.Context, ev cbus.Event) {
	err := r.fwd.Forward(ctx, ev)
	r.metrics.RecordForward(ctx, r.transport, err)

	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	r.logger.WarnContext(ctx, "forward failed",
		slog.String("transport", r.transport),
		slog.String("event_id", ev.ID),
		slog.String("endpoint", ev.Destination()),
		slog.String("error", err.Error()))
}
