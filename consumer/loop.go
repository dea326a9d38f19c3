// Package consumer runs the single goroutine that drains one queue and hands each event
// to its correlator.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
)

// DefaultPollInterval is how long one poll waits before the loop re-checks shutdown.
const DefaultPollInterval = 200 * time.Millisecond

// State is the lifecycle state of a Loop.
type State int32

// Loop states. A loop moves forward only: idle, running, then draining on a terminate
// event, then stopped.
const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source is the receiving side of a bounded queue.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) (cbus.Event, bool)
}

// Deliverer receives every dequeued event. *correlator.Correlator implements it.
type Deliverer interface {
	Deliver(ctx context.Context, ev cbus.Event) error
	CancelAll()
}

// Loop drains one queue in FIFO order. Start it once; it stops on a terminate event,
// shutdown, Stop or cancellation of the context given to Start.
type Loop struct {
	name     string
	src      Source
	dst      Deliverer
	shutdown *lifecycle.Flag

	logger       *slog.Logger
	metrics      observability.Recorder
	pollInterval time.Duration

	state     atomic.Int32
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.Recorder) Option { return func(lp *Loop) { lp.metrics = r } }

// WithPollInterval sets how long each poll waits for an event.
func WithPollInterval(d time.Duration) Option {
	return func(lp *Loop) {
		if d > 0 {
			lp.pollInterval = d
		}
	}
}

// New returns an idle loop reading src and delivering to dst.
func New(name string, src Source, dst Deliverer, shutdown *lifecycle.Flag, opts ...Option) *Loop {
	l := &Loop{
		name:         name,
		src:          src,
		dst:          dst,
		shutdown:     shutdown,
		pollInterval: DefaultPollInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	l.metrics = observability.OrNoop(l.metrics)

	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Done is closed once the loop has stopped and its waiters were cancelled.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Start spawns the loop goroutine. Only the first call has an effect.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
			return
		}

		go l.run(ctx)
	})
}

// Stop asks the loop to exit. It does not wait; use Wait for that. Stopping a loop that
// was never started cancels its waiters and marks it stopped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)

		if l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			l.dst.CancelAll()
			close(l.done)
		}
	})
}

// Wait blocks until the loop has stopped.
func (l *Loop) Wait() { <-l.done }

func (l *Loop) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	defer func() {
		cancel()
		l.dst.CancelAll()
		l.state.Store(int32(StateStopped))
		l.logger.Debug("consumer stopped", slog.String("consumer", l.name))
		close(l.done)
	}()

	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	l.logger.DebugContext(ctx, "consumer started", slog.String("consumer", l.name))

	for {
		if l.shutdown.Triggered() || ctx.Err() != nil {
			return
		}

		ev, ok := l.src.Poll(ctx, l.pollInterval)
		if !ok {
			continue
		}

		if ev.IsTerminationCommand() {
			l.state.Store(int32(StateDraining))
			l.logger.InfoContext(ctx, "consumer received terminate", slog.String("consumer", l.name))

			return
		}

		if ev.IsWakeup() {
			continue
		}

		l.deliver(ctx, ev)
	}
}

// deliver contains every failure raised while handling one event so that the loop and
// all other correlations keep going.
func (l *Loop) deliver(ctx context.Context, ev cbus.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordDelivery(ctx, l.name, observability.DeliveryFailed)
			l.logger.ErrorContext(ctx, "panic while delivering event",
				slog.String("consumer", l.name),
				slog.String("event_id", ev.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := ev.Validate(); err != nil {
		l.metrics.RecordDelivery(ctx, l.name, observability.DeliveryFailed)
		l.logger.WarnContext(ctx, "skipping malformed event",
			slog.String("consumer", l.name),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()))

		return
	}

	err := l.dst.Deliver(ctx, ev)
	switch {
	case err == nil, errors.Is(err, berr.ErrDuplicateDelivery):
		// Duplicates are counted by the correlator.
	default:
		l.metrics.RecordDelivery(ctx, l.name, observability.DeliveryFailed)
		l.logger.WarnContext(ctx, "event delivery failed",
			slog.String("consumer", l.name),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()))
	}
}
