package bus

import "context"

// UnsolicitedHandler receives dequeued events nobody is waiting for: commands,
// notifications and late answers. Implementations must be safe for concurrent use.
type UnsolicitedHandler interface {
	HandleUnsolicited(ctx context.Context, e Event) error
}

// UnsolicitedHandlerFunc adapts a function to UnsolicitedHandler.
type UnsolicitedHandlerFunc func(ctx context.Context, e Event) error

func (f UnsolicitedHandlerFunc) HandleUnsolicited(ctx context.Context, e Event) error { return f(ctx, e) }

// Forwarder hands an event from the gateway-bound queue to the platform side.
// Transport adapters (in-memory, NATS, RabbitMQ, Kafka) implement it.
type Forwarder interface {
	Forward(ctx context.Context, e Event) error
}

// Router places an event arriving from the platform onto the right local queue.
type Router interface {
	Route(ctx context.Context, e Event) error
}
