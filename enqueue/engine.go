// Package enqueue places events on bounded queues, retrying interrupted puts a bounded
// number of times and refusing new work once shutdown has begun.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
	"github.com/next-trace/scg-sdk-bus/queue"
)

// MaxEnqueueAttempts is the per-event retry budget.
const MaxEnqueueAttempts = 100

const (
	// DefaultAttemptTimeout bounds a single blocking put.
	DefaultAttemptTimeout = 250 * time.Millisecond
	// DefaultBackoff is multiplied by the attempt number between retries.
	DefaultBackoff = 2 * time.Millisecond

	maxBackoff = 100 * time.Millisecond
)

// Putter is the blocking side of a bounded queue.
type Putter interface {
	Put(ctx context.Context, ev cbus.Event) error
}

// Receipt describes how a put went. Interrupted stays true when any attempt was
// interrupted, even if a later attempt succeeded.
type Receipt struct {
	Attempts    int
	Interrupted bool
}

// Engine enqueues events. It is safe for concurrent use.
type Engine struct {
	Shutdown       *lifecycle.Flag
	Metrics        observability.Recorder
	Logger         *slog.Logger
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.Logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.Recorder) Option { return func(e *Engine) { e.Metrics = r } }

// WithAttemptTimeout bounds each blocking put.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.AttemptTimeout = d
		}
	}
}

// WithBackoff sets the per-attempt backoff step. Zero disables sleeping between attempts.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.Backoff = d
		}
	}
}

// New returns an engine bound to the given shutdown flag.
func New(flag *lifecycle.Flag, opts ...Option) *Engine {
	e := &Engine{
		Shutdown:       flag,
		Metrics:        observability.Noop{},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		AttemptTimeout: DefaultAttemptTimeout,
		Backoff:        DefaultBackoff,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.Metrics = observability.OrNoop(e.Metrics)
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return e
}

// Put enqueues ev on q. label names the queue in logs and metrics.
//
// Interrupted attempts are retried up to MaxEnqueueAttempts. Once the shutdown flag is
// set no new attempt begins. A nil error means ev is on the queue.
func (e *Engine) Put(ctx context.Context, q Putter, label string, ev cbus.Event) (Receipt, error) {
	var rec Receipt

	for rec.Attempts < MaxEnqueueAttempts {
		if e.Shutdown.Triggered() {
			return e.fail(ctx, rec, label, ev, berr.ErrShutdownInProgress)
		}

		if err := ctx.Err(); err != nil {
			return e.fail(ctx, rec, label, ev, err)
		}

		if rec.Attempts > 0 {
			if err := e.backoff(ctx, rec.Attempts); err != nil {
				return e.fail(ctx, rec, label, ev, err)
			}
		}

		rec.Attempts++

		err := e.attempt(ctx, q, ev)
		if err == nil {
			e.Metrics.RecordEnqueue(ctx, label, rec.Attempts, nil)

			if rec.Interrupted {
				e.Logger.DebugContext(ctx, "enqueue succeeded after interruption",
					slog.String("queue", label),
					slog.String("event_id", ev.ID),
					slog.Int("attempts", rec.Attempts))
			}

			return rec, nil
		}

		// The caller gave up: not an interruption of ours to absorb.
		if ctx.Err() != nil {
			return e.fail(ctx, rec, label, ev, ctx.Err())
		}

		if !errors.Is(err, queue.ErrInterrupted) && !errors.Is(err, context.DeadlineExceeded) {
			return e.fail(ctx, rec, label, ev, err)
		}

		rec.Interrupted = true

		e.Logger.DebugContext(ctx, "enqueue attempt interrupted",
			slog.String("queue", label),
			slog.String("event_id", ev.ID),
			slog.Int("attempt", rec.Attempts))
	}

	return e.fail(ctx, rec, label, ev,
		fmt.Errorf("gave up after %d attempts", MaxEnqueueAttempts))
}

func (e *Engine) attempt(ctx context.Context, q Putter, ev cbus.Event) error {
	actx, cancel := context.WithTimeout(ctx, e.AttemptTimeout)
	defer cancel()

	return q.Put(actx, ev)
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt) * e.Backoff
	if d > maxBackoff {
		d = maxBackoff
	}

	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.Shutdown.Done():
		return berr.ErrShutdownInProgress
	}
}

func (e *Engine) fail(ctx context.Context, rec Receipt, label string, ev cbus.Event, cause error) (Receipt, error) {
	e.Metrics.RecordEnqueue(ctx, label, rec.Attempts, cause)

	e.Logger.WarnContext(ctx, "enqueue failed",
		slog.String("queue", label),
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.Type)),
		slog.Int("attempts", rec.Attempts),
		slog.Bool("interrupted", rec.Interrupted),
		slog.String("error", cause.Error()))

	return rec, fmt.Errorf("enqueue %s on %s: %w", ev.ID, label, errors.Join(berr.ErrEnqueueFailed, cause))
}
