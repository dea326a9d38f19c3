package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

const (
	// DefaultPrefix is the subject prefix gateway-bound events are published under.
	DefaultPrefix = "gateway"
	// DefaultInboundTimeout bounds the handling of one inbound message.
	DefaultInboundTimeout = 5 * time.Second
)

// Client is a minimal NATS-like publisher interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
}

// Subscriber is implemented by clients that can also receive. The returned function
// unsubscribes.
type Subscriber interface {
	Subscribe(subject string, handle func(data []byte)) (func() error, error)
}

// InboundHandler consumes raw event payloads; *relay.Inbound implements it.
type InboundHandler interface {
	Handle(ctx context.Context, data []byte) error
}

// Adapter forwards gateway-bound events to NATS using an injected Client.
type Adapter struct {
	Client     Client
	Prefix     string
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers

	// OnInboundError is called when an inbound message cannot be handled. Optional.
	OnInboundError func(err error)
	// InboundTimeout bounds each inbound message; zero means DefaultInboundTimeout.
	InboundTimeout time.Duration
}

// Ensure Adapter implements the forwarding contract.
var _ cbus.Forwarder = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c, Prefix: DefaultPrefix} }

// Subject returns the subject e is published on: "<prefix>.<routing key>".
func (a *Adapter) Subject(e cbus.Event) string {
	prefix := a.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return prefix + "." + cbus.RoutingKey(e)
}

// Forward publishes e with its routing headers.
func (a *Adapter) Forward(ctx context.Context, e cbus.Event) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "forward"); err != nil {
		return err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("nats forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := cbus.EventHeaders(e)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, headers)
	}

	return a.publish(&publishArgs{
		subject: a.Subject(e),
		body:    body,
		headers: headers,
		wrap:    berr.ErrPublishFailed,
		label:   "forward",
	})
}

// Listen subscribes to subject and hands every message to h. Each message is handled under
// a context derived from ctx and bounded by InboundTimeout, so a full response queue cannot
// stall the subscription past the listener's lifetime. The client must implement Subscriber.
func (a *Adapter) Listen(ctx context.Context, subject string, h InboundHandler) (func() error, error) {
	sub, ok := a.Client.(Subscriber)
	if !ok {
		return nil, fmt.Errorf("nats listen %s: client cannot subscribe: %w", subject, berr.ErrPublishFailed)
	}

	timeout := a.InboundTimeout
	if timeout <= 0 {
		timeout = DefaultInboundTimeout
	}

	return sub.Subscribe(subject, func(data []byte) {
		msgCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := h.Handle(msgCtx, data); err != nil && a.OnInboundError != nil {
			a.OnInboundError(err)
		}
	})
}

type publishArgs struct {
	subject string
	body    []byte
	headers map[string]string
	wrap    error
	label   string
}

func (a *Adapter) publish(args *publishArgs) error {
	if err := a.Client.Publish(args.subject, args.body, args.headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s publish: %w", args.label, errors.Join(args.wrap, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}
