package enqueue_test

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
	"github.com/next-trace/scg-sdk-bus/enqueue"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/queue"
)

// flakyPutter fails the first n puts with an interruption, then accepts.
type flakyPutter struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []cbus.Event
}

func (p *flakyPutter) Put(_ context.Context, ev cbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.calls <= p.failures {
		return queue.ErrInterrupted
	}

	p.got = append(p.got, ev)

	return nil
}

type brokenPutter struct{ err error }

func (p brokenPutter) Put(context.Context, cbus.Event) error { return p.err }

func settingsRequest() cbus.Event {
	return cbus.NewRequest(cbus.Request{Endpoint: cbus.SettingsGetAll}, cbus.Tenant("svc", "ctx"))
}

func TestBudgetWithinBounds(t *testing.T) {
	assert.GreaterOrEqual(t, enqueue.MaxEnqueueAttempts, 10)
	assert.LessOrEqual(t, enqueue.MaxEnqueueAttempts, 500)
}

func TestPut_FirstAttempt(t *testing.T) {
	e := enqueue.New(lifecycle.NewFlag())
	q := queue.New[cbus.Event](cbus.GatewayQueueCapacity)

	ev := settingsRequest()
	rec, err := e.Put(t.Context(), q, cbus.KindGateway.String(), ev)
	require.NoError(t, err)
	assert.Equal(t, enqueue.Receipt{Attempts: 1}, rec)

	got, ok := q.Poll(t.Context(), time.Second)
	require.True(t, ok)
	assert.Equal(t, ev.ID, got.ID)
}

func TestPut_RetriesInterruptions(t *testing.T) {
	const n = 7

	p := &flakyPutter{failures: n - 1}
	e := enqueue.New(lifecycle.NewFlag(), enqueue.WithBackoff(0))

	rec, err := e.Put(t.Context(), p, "test", settingsRequest())
	require.NoError(t, err)
	assert.Equal(t, n, rec.Attempts)
	assert.True(t, rec.Interrupted, "interruption must stay observable after success")
	assert.Len(t, p.got, 1)
}

func TestPut_ExhaustsBudget(t *testing.T) {
	p := &flakyPutter{failures: enqueue.MaxEnqueueAttempts + 10}
	e := enqueue.New(lifecycle.NewFlag(), enqueue.WithBackoff(0))

	rec, err := e.Put(t.Context(), p, "test", settingsRequest())
	require.Error(t, err)
	require.ErrorIs(t, err, berr.ErrEnqueueFailed)
	assert.Equal(t, enqueue.MaxEnqueueAttempts, rec.Attempts)
	assert.Equal(t, enqueue.MaxEnqueueAttempts, p.calls)
	assert.True(t, rec.Interrupted)
	assert.Empty(t, p.got)
}

func TestPut_FullQueueTimesOutEachAttempt(t *testing.T) {
	e := enqueue.New(lifecycle.NewFlag(),
		enqueue.WithAttemptTimeout(time.Millisecond),
		enqueue.WithBackoff(0))

	q := queue.New[cbus.Event](1)
	require.True(t, q.Offer(cbus.Wakeup()))

	rec, err := e.Put(t.Context(), q, "full", settingsRequest())
	require.ErrorIs(t, err, berr.ErrEnqueueFailed)
	assert.Equal(t, enqueue.MaxEnqueueAttempts, rec.Attempts)
	assert.Equal(t, 1, q.Len())
}

func TestPut_ShutdownStopsFurtherPuts(t *testing.T) {
	flag := lifecycle.NewFlag()
	e := enqueue.New(flag)
	q := queue.New[cbus.Event](cbus.ServiceQueueCapacity)

	for range 2 {
		_, err := e.Put(t.Context(), q, "cmd", settingsRequest())
		require.NoError(t, err)
	}

	flag.Trigger()

	rec, err := e.Put(t.Context(), q, "cmd", settingsRequest())
	require.ErrorIs(t, err, berr.ErrEnqueueFailed)
	require.ErrorIs(t, err, berr.ErrShutdownInProgress)
	assert.Zero(t, rec.Attempts)
	assert.Equal(t, 2, q.Len())
}

func TestPut_ShutdownDuringRetries(t *testing.T) {
	flag := lifecycle.NewFlag()
	e := enqueue.New(flag,
		enqueue.WithAttemptTimeout(time.Millisecond),
		enqueue.WithBackoff(5*time.Millisecond))

	q := queue.New[cbus.Event](1)
	require.True(t, q.Offer(cbus.Wakeup()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Trigger()
	}()

	rec, err := e.Put(t.Context(), q, "full", settingsRequest())
	require.ErrorIs(t, err, berr.ErrShutdownInProgress)
	assert.Less(t, rec.Attempts, enqueue.MaxEnqueueAttempts)
	assert.True(t, rec.Interrupted)
}

func TestPut_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	e := enqueue.New(lifecycle.NewFlag())
	q := queue.New[cbus.Event](1)

	_, err := e.Put(ctx, q, "q", settingsRequest())
	require.ErrorIs(t, err, berr.ErrEnqueueFailed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, q.Len())
}

func TestPut_NonInterruptionErrorIsNotRetried(t *testing.T) {
	boom := errors.New("boom")
	e := enqueue.New(lifecycle.NewFlag())

	rec, err := e.Put(t.Context(), brokenPutter{err: boom}, "q", settingsRequest())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, berr.ErrEnqueueFailed)
	assert.Equal(t, 1, rec.Attempts)
	assert.False(t, rec.Interrupted)
}

func TestPut_ConcurrentProducersKeepEveryEvent(t *testing.T) {
	e := enqueue.New(lifecycle.NewFlag())
	q := queue.New[cbus.Event](cbus.ServiceQueueCapacity)

	const producers, each = 4, 25

	done := make(chan struct{})
	seen := make(map[string]bool)

	go func() {
		defer close(done)

		for len(seen) < producers*each {
			ev, ok := q.Poll(t.Context(), time.Second)
			if !ok {
				return
			}

			seen[ev.ID] = true
		}
	}()

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range each {
				_, err := e.Put(t.Context(), q, "svc", settingsRequest())
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
	<-done

	assert.Len(t, seen, producers*each)
}
