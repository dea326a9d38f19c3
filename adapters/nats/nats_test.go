package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-sdk-bus/adapters/nats"
	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

type fakeClient struct {
	calls []struct {
		subject string
		data    []byte
		headers map[string]string
	}
	err     error
	handler func(data []byte)
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.calls = append(f.calls, struct {
		subject string
		data    []byte
		headers map[string]string
	}{subject, data, headers})

	return f.err
}

func (f *fakeClient) Subscribe(_ string, handle func(data []byte)) (func() error, error) {
	f.handler = handle

	return func() error {
		f.handler = nil

		return nil
	}, nil
}

type publishOnly struct{}

func (publishOnly) Publish(string, []byte, map[string]string) error { return nil }

type traceProp struct{}

func (traceProp) Inject(_ context.Context, h map[string]string) { h["traceparent"] = "00-abc" }

type inbound struct {
	got [][]byte
	err error
}

func (in *inbound) Handle(_ context.Context, data []byte) error {
	in.got = append(in.got, data)

	return in.err
}

var tenant = cbus.Tenant("svc", "ctx")

func TestNATS_Forward_SubjectAndHeaders(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.Propagator = traceProp{}

	req := cbus.NewRequest(cbus.Request{Endpoint: cbus.SettingsGetAll}, tenant)
	if err := ad.Forward(t.Context(), req); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if len(fc.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fc.calls))
	}

	c := fc.calls[0]
	if c.subject != "gateway.settings.getSettings" {
		t.Fatalf("subject mismatch: %s", c.subject)
	}

	if c.headers[cbus.HeaderEventID] != req.ID || c.headers[cbus.HeaderServiceName] != "svc" {
		t.Fatalf("routing headers missing: %+v", c.headers)
	}

	if c.headers["traceparent"] != "00-abc" {
		t.Fatalf("propagated header missing: %+v", c.headers)
	}

	var back cbus.Event
	if err := json.Unmarshal(c.data, &back); err != nil {
		t.Fatalf("body: %v", err)
	}

	if back.ID != req.ID || back.Destination() != cbus.SettingsGetAll {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestNATS_Forward_NonRequestUsesType(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.Prefix = "otag"

	req := cbus.NewRequest(cbus.Request{Endpoint: cbus.SettingsGetAll}, tenant)
	if err := ad.Forward(t.Context(), cbus.NewResponse(cbus.Response{Success: true}, req)); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if fc.calls[0].subject != "otag.response" {
		t.Fatalf("subject=%s", fc.calls[0].subject)
	}
}

func TestNATS_NilClientError(t *testing.T) {
	ad := nats.New(nil)

	err := ad.Forward(t.Context(), cbus.Wakeup())
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	// client returns generic error -> should wrap
	fc := &fakeClient{err: errors.New("boom")}
	ad := nats.New(fc)

	if err := ad.Forward(t.Context(), cbus.Wakeup()); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	// client returns context.Canceled -> propagate as-is
	ad2 := nats.New(&fakeClient{err: context.Canceled})

	err := ad2.Forward(t.Context(), cbus.Wakeup())
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.Forward(ctx, cbus.Wakeup()); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNATS_Listen(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	var reported []error
	ad.OnInboundError = func(err error) { reported = append(reported, err) }

	in := &inbound{}

	unsubscribe, err := ad.Listen(t.Context(), "sdk.inbound", in)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fc.handler([]byte(`{"id":"1"}`))

	if len(in.got) != 1 {
		t.Fatalf("handler not called")
	}

	in.err = errors.New("bad event")
	fc.handler([]byte(`{}`))

	if len(reported) != 1 {
		t.Fatalf("inbound error not reported: %v", reported)
	}

	if err := unsubscribe(); err != nil || fc.handler != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if _, err := nats.New(publishOnly{}).Listen(t.Context(), "x", in); err == nil {
		t.Fatalf("expected error for client without Subscribe")
	}
}

// blockingInbound waits for its context, standing in for a router whose queue is full.
type blockingInbound struct{ err error }

func (b *blockingInbound) Handle(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	b.err = ctx.Err()

	return b.err
}

func TestNATS_ListenBoundsEachMessage(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.InboundTimeout = 20 * time.Millisecond

	in := &blockingInbound{}
	if _, err := ad.Listen(t.Context(), "sdk.inbound", in); err != nil {
		t.Fatalf("listen: %v", err)
	}

	start := time.Now()
	fc.handler([]byte(`{}`))

	if !errors.Is(in.err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", in.err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("message handling not bounded: %s", elapsed)
	}
}

func TestNATS_ListenStopsWithListenerContext(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.InboundTimeout = time.Hour

	ctx, cancel := context.WithCancel(t.Context())

	in := &blockingInbound{}
	if _, err := ad.Listen(ctx, "sdk.inbound", in); err != nil {
		t.Fatalf("listen: %v", err)
	}

	cancel()
	fc.handler([]byte(`{}`))

	if !errors.Is(in.err, context.Canceled) {
		t.Fatalf("want canceled, got %v", in.err)
	}
}
