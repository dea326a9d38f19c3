package consumer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
	"github.com/next-trace/scg-sdk-bus/consumer"
	"github.com/next-trace/scg-sdk-bus/correlator"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/queue"
)

var tenant = cbus.Tenant("svc", "ctx")

// panicky panics on the first delivery and records the rest.
type panicky struct {
	mu       sync.Mutex
	panicked bool
	got      []string
	cancels  int
}

func (p *panicky) Deliver(_ context.Context, ev cbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.panicked {
		p.panicked = true
		panic("malformed payload")
	}

	p.got = append(p.got, ev.ID)

	return nil
}

func (p *panicky) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancels++
}

func newQueue() *queue.Queue[cbus.Event] {
	return queue.New[cbus.Event](cbus.ServiceQueueCapacity)
}

func waitStopped(t *testing.T, l *consumer.Loop) {
	t.Helper()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop %s did not stop, state %s", l.Name(), l.State())
	}
}

func TestLoopFulfilsWaiters(t *testing.T) {
	q := newQueue()
	c := correlator.New("SERVICE", nil)
	l := consumer.New("SERVICE", q, c, lifecycle.NewFlag(), consumer.WithPollInterval(10*time.Millisecond))

	l.Start(t.Context())
	t.Cleanup(func() { l.Stop(); l.Wait() })

	req := cbus.NewRequest(cbus.Request{Endpoint: cbus.SettingsGetAll}, tenant)
	require.NoError(t, c.Register(req.ID))
	require.True(t, q.Offer(cbus.NewResponse(cbus.Response{Success: true}, req)))

	got, err := c.Await(t.Context(), req.ID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, consumer.StateRunning, l.State())
}

func TestLoopPreservesFIFO(t *testing.T) {
	q := newQueue()

	var (
		mu  sync.Mutex
		ids []string
	)

	h := cbus.UnsolicitedHandlerFunc(func(_ context.Context, ev cbus.Event) error {
		mu.Lock()
		defer mu.Unlock()

		ids = append(ids, ev.ID)

		return nil
	})

	want := make([]string, 0, 10)
	for range 10 {
		ev := cbus.NewCommand(cbus.SettingsChange{Key: "k"}, tenant)
		want = append(want, ev.ID)
		require.True(t, q.Offer(ev))
	}

	require.True(t, q.Offer(cbus.Terminate()))

	l := consumer.New("COMMAND", q, correlator.New("COMMAND", h), lifecycle.NewFlag())
	l.Start(t.Context())
	waitStopped(t, l)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, want, ids)
}

func TestLoopSurvivesPanic(t *testing.T) {
	q := newQueue()
	d := &panicky{}
	l := consumer.New("SERVICE", q, d, lifecycle.NewFlag(), consumer.WithPollInterval(10*time.Millisecond))

	first := cbus.NewCommand(cbus.SettingsChange{Key: "a"}, tenant)
	second := cbus.NewCommand(cbus.SettingsChange{Key: "b"}, tenant)

	require.True(t, q.Offer(first))
	require.True(t, q.Offer(second))
	require.True(t, q.Offer(cbus.Terminate()))

	l.Start(t.Context())
	waitStopped(t, l)

	d.mu.Lock()
	defer d.mu.Unlock()

	assert.Equal(t, []string{second.ID}, d.got)
	assert.Equal(t, 1, d.cancels)
}

func TestLoopSkipsMalformedEvents(t *testing.T) {
	q := newQueue()
	c := correlator.New("SERVICE", nil)
	l := consumer.New("SERVICE", q, c, lifecycle.NewFlag(), consumer.WithPollInterval(10*time.Millisecond))

	req := cbus.NewRequest(cbus.Request{Endpoint: cbus.SettingsGetAll}, tenant)
	require.NoError(t, c.Register(req.ID))

	bad := cbus.NewResponse(cbus.Response{Success: true}, req)
	bad.Payload = nil
	require.True(t, q.Offer(bad))
	require.True(t, q.Offer(cbus.NewResponse(cbus.Response{Success: true}, req)))

	l.Start(t.Context())
	t.Cleanup(func() { l.Stop(); l.Wait() })

	got, err := c.Await(t.Context(), req.ID, 2*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, got.Payload)
}

func TestTerminateCancelsOutstandingWaiters(t *testing.T) {
	q := newQueue()
	c := correlator.New("SERVICE", nil)
	l := consumer.New("SERVICE", q, c, lifecycle.NewFlag())

	require.NoError(t, c.Register("waiting"))

	l.Start(t.Context())
	require.True(t, q.Offer(cbus.Terminate()))

	_, err := c.Await(t.Context(), "waiting", 5*time.Second)
	require.ErrorIs(t, err, berr.ErrWaiterCancelled)

	waitStopped(t, l)
	assert.Equal(t, consumer.StateStopped, l.State())
}

func TestShutdownFlagStopsLoop(t *testing.T) {
	flag := lifecycle.NewFlag()
	l := consumer.New("SERVICE", newQueue(), correlator.New("SERVICE", nil), flag,
		consumer.WithPollInterval(5*time.Millisecond))

	l.Start(t.Context())
	flag.Trigger()

	waitStopped(t, l)
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	l := consumer.New("SERVICE", newQueue(), correlator.New("SERVICE", nil), lifecycle.NewFlag())

	l.Start(ctx)
	cancel()

	waitStopped(t, l)
}

func TestStopBeforeStart(t *testing.T) {
	c := correlator.New("SERVICE", nil)
	l := consumer.New("SERVICE", newQueue(), c, lifecycle.NewFlag())

	l.Stop()
	l.Start(t.Context())

	waitStopped(t, l)
	assert.True(t, c.Closed())
	require.ErrorIs(t, c.Register("x"), berr.ErrShutdownInProgress)
}

func TestHandlerErrorDoesNotStopLoop(t *testing.T) {
	q := newQueue()

	calls := make(chan struct{}, 2)
	h := cbus.UnsolicitedHandlerFunc(func(context.Context, cbus.Event) error {
		calls <- struct{}{}

		return errors.New("no dispatcher")
	})

	l := consumer.New("COMMAND", q, correlator.New("COMMAND", h), lifecycle.NewFlag(),
		consumer.WithPollInterval(10*time.Millisecond))
	l.Start(t.Context())
	t.Cleanup(func() { l.Stop(); l.Wait() })

	for range 2 {
		require.True(t, q.Offer(cbus.NewCommand(cbus.SettingsChange{Key: "k"}, tenant)))
	}

	for range 2 {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}
