// Package correlator turns asynchronously delivered answers into blocking,
// timeout-bounded calls.
//
// A caller registers interest under an event id before the request leaves the process,
// then blocks in Await. The consumer loop draining the matching response queue hands
// every dequeued event to Deliver. Each registration reaches exactly one terminal
// outcome: fulfilled, timed out or cancelled.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
)

type state int32

const (
	awaiting state = iota
	fulfilled
	timedOut
	cancelled
)

// entry is a single-slot rendezvous. The slot is written at most once, by whoever wins
// the awaiting->fulfilled transition.
type entry struct {
	state atomic.Int32
	slot  chan cbus.Event
}

func newEntry() *entry { return &entry{slot: make(chan cbus.Event, 1)} }

func (e *entry) transition(to state) bool {
	return e.state.CompareAndSwap(int32(awaiting), int32(to))
}

func (e *entry) current() state { return state(e.state.Load()) }

// Correlator matches delivered events to registered waiters. It is safe for concurrent use.
type Correlator struct {
	name    string
	handler cbus.UnsolicitedHandler
	logger  *slog.Logger
	metrics observability.Recorder

	entries sync.Map // event id -> *entry
	settled *recent
	closed  *lifecycle.Flag
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the correlator logger.
func WithLogger(l *slog.Logger) Option { return func(c *Correlator) { c.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.Recorder) Option { return func(c *Correlator) { c.metrics = r } }

// New returns a correlator. handler receives events nobody registered for; it may be nil.
func New(name string, handler cbus.UnsolicitedHandler, opts ...Option) *Correlator {
	c := &Correlator{
		name:    name,
		handler: handler,
		settled: newRecent(settledMemory),
		closed:  lifecycle.NewFlag(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c.metrics = observability.OrNoop(c.metrics)

	return c
}

// Name returns the correlator name.
func (c *Correlator) Name() string { return c.name }

// Register creates the rendezvous for id. It must be called before the request is enqueued
// so that a fast answer cannot arrive unmatched.
func (c *Correlator) Register(id string) error {
	if c.closed.Triggered() {
		return fmt.Errorf("register %s on %s: %w", id, c.name, berr.ErrShutdownInProgress)
	}

	if _, loaded := c.entries.LoadOrStore(id, newEntry()); loaded {
		return fmt.Errorf("register %s on %s: %w", id, c.name, berr.ErrWaiterExists)
	}

	return nil
}

// Await blocks until the answer for id arrives, timeout elapses, the correlator is
// cancelled or ctx is done. A non-positive timeout waits without a deadline. The
// registration is removed on return.
func (c *Correlator) Await(ctx context.Context, id string, timeout time.Duration) (cbus.Event, error) {
	v, ok := c.entries.Load(id)
	if !ok {
		return cbus.Event{}, fmt.Errorf("await %s on %s: %w", id, c.name, berr.ErrWaiterNotFound)
	}

	e, _ := v.(*entry)
	defer c.forget(id, e)

	var expired <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		expired = t.C
	}

	var (
		ev  cbus.Event
		err error
	)

	select {
	case ev = <-e.slot:
	case <-expired:
		ev, err = settle(e, timedOut, nil)
	case <-ctx.Done():
		ev, err = settle(e, cancelled, ctx.Err())
	case <-c.closed.Done():
		ev, err = settle(e, cancelled, nil)
	}

	c.metrics.RecordCorrelation(ctx, c.name, outcome(err))

	if err != nil {
		return cbus.Event{}, fmt.Errorf("await %s on %s: %w", id, c.name, err)
	}

	return ev, nil
}

// forget removes a finished registration, remembering its id so that a late or repeated
// answer is recognised as such instead of being treated as unsolicited.
func (c *Correlator) forget(id string, e *entry) {
	c.settled.add(id)
	c.entries.CompareAndDelete(id, e)
}

// settle tries to move e into to. If a delivery or CancelAll got there first, their
// outcome stands.
func settle(e *entry, to state, cause error) (cbus.Event, error) {
	if e.transition(to) {
		return cbus.Event{}, terminalError(to, cause)
	}

	// Deliver fills the slot right after winning the transition.
	if e.current() == fulfilled {
		return <-e.slot, nil
	}

	return cbus.Event{}, terminalError(e.current(), cause)
}

func terminalError(s state, cause error) error {
	switch s {
	case timedOut:
		return berr.ErrCorrelationTimeout
	case cancelled:
		if cause != nil {
			return cause
		}

		return berr.ErrWaiterCancelled
	case awaiting, fulfilled:
	}

	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.CorrelationFulfilled
	case errors.Is(err, berr.ErrCorrelationTimeout):
		return observability.CorrelationTimedOut
	default:
		return observability.CorrelationCancelled
	}
}

// Deliver hands ev to the waiter registered under ev.ID.
//
// A waiter that already settled (duplicate or late answer) gets nothing: the event is
// dropped and ErrDuplicateDelivery returned. An event nobody registered for goes to the
// unsolicited handler.
func (c *Correlator) Deliver(ctx context.Context, ev cbus.Event) error {
	v, ok := c.entries.Load(ev.ID)
	if !ok {
		if c.settled.has(ev.ID) {
			return c.drop(ctx, ev)
		}

		return c.unsolicited(ctx, ev)
	}

	e, _ := v.(*entry)
	if !e.transition(fulfilled) {
		return c.drop(ctx, ev)
	}

	e.slot <- ev

	c.metrics.RecordDelivery(ctx, c.name, observability.DeliveryFulfilled)

	return nil
}

func (c *Correlator) drop(ctx context.Context, ev cbus.Event) error {
	c.metrics.RecordDelivery(ctx, c.name, observability.DeliveryDropped)
	c.logger.WarnContext(ctx, "dropping event for settled waiter",
		slog.String("consumer", c.name),
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.Type)))

	return fmt.Errorf("deliver %s on %s: %w", ev.ID, c.name, berr.ErrDuplicateDelivery)
}

func (c *Correlator) unsolicited(ctx context.Context, ev cbus.Event) error {
	c.metrics.RecordDelivery(ctx, c.name, observability.DeliveryUnsolicited)
	c.logger.DebugContext(ctx, "unsolicited event",
		slog.String("consumer", c.name),
		slog.String("event", ev.String()))

	if c.handler == nil {
		return nil
	}

	if err := c.handler.HandleUnsolicited(ctx, ev); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("handle %s on %s: %w", ev.ID, c.name, errors.Join(berr.ErrHandlerFailed, err))
	}

	return nil
}

// CancelAll closes the correlator. Every waiter still awaiting fails with
// ErrWaiterCancelled and later registrations are refused.
func (c *Correlator) CancelAll() {
	c.closed.Trigger()

	c.entries.Range(func(_, v any) bool {
		if e, ok := v.(*entry); ok {
			e.transition(cancelled)
		}

		return true
	})
}

// Closed reports whether CancelAll was called.
func (c *Correlator) Closed() bool { return c.closed.Triggered() }

// Pending returns the number of registrations still awaiting an answer.
func (c *Correlator) Pending() int {
	n := 0

	c.entries.Range(func(_, v any) bool {
		if e, ok := v.(*entry); ok && e.current() == awaiting {
			n++
		}

		return true
	})

	return n
}
