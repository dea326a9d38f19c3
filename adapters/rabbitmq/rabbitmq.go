package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

// DefaultExchange is the topic exchange gateway-bound events are published to.
const DefaultExchange = "sdk.gateway"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// InboundHandler consumes raw event payloads; *relay.Inbound implements it.
type InboundHandler interface {
	Handle(ctx context.Context, data []byte) error
}

type Adapter struct {
	Publisher  Publisher
	Exchange   string
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers
}

var _ cbus.Forwarder = (*Adapter)(nil)

func New(p Publisher) *Adapter { return &Adapter{Publisher: p, Exchange: DefaultExchange} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	return &Adapter{Publisher: p, Exchange: DefaultExchange, Propagator: hp}
}

// Forward publishes e to the exchange, routed by endpoint for requests and by event type
// for everything else.
func (a *Adapter) Forward(ctx context.Context, e cbus.Event) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "forward"); err != nil {
		return err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return a.publish(ctx, &publishArgs{
		exchange:   a.Exchange,
		routingKey: cbus.RoutingKey(e),
		body:       body,
		headers:    cbus.EventHeaders(e),
		wrap:       berr.ErrPublishFailed,
		label:      "forward",
	})
}

type publishArgs struct {
	exchange   string
	routingKey string
	body       []byte
	headers    map[string]string
	wrap       error
	label      string
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, base)
	}

	return nil
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(args.headers)+4)
	for k, v := range args.headers {
		hdrs[k] = v
	}
	// Inject tracing context via configured propagator (keeps adapter decoupled)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:   args.exchange,
		RoutingKey: args.routingKey,
		Body:       args.body,
		Headers:    hdrs,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s publish: %w", args.label, errors.Join(args.wrap, err))
	}

	return nil
}

// Consume hands every delivery to h until deliveries is closed or ctx is done. Handled
// deliveries are acked; failed ones are rejected without requeue and reported to onErr.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, h InboundHandler, onErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			if err := h.Handle(ctx, d.Body); err != nil {
				_ = d.Reject(false)

				if onErr != nil {
					onErr(err)
				}

				continue
			}

			_ = d.Ack(false)
		}
	}
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	h := amqp.Table{}
	for k, v := range headers {
		h[k] = v
	}

	return h
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			Body:        m.Body,
			ContentType: "application/json",
		},
	)
}

func NewWithAMQPChannel(ch *amqp.Channel) *Adapter {
	return New(amqpChannelPublisher{ch: ch})
}
