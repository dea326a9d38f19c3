package inmemory

import (
	"context"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
)

// EndpointHandler answers one request. A returned error becomes an error event.
type EndpointHandler func(ctx context.Context, req cbus.Event) (cbus.Response, error)

// Gateway is a thread-safe in-process stand-in for the platform. It records every
// forwarded event, answers requests with registered endpoint handlers and routes the
// answers back into the bus. Use it with relay.New for tests and examples.
type Gateway struct {
	router cbus.Router

	mu        sync.RWMutex
	handlers  map[string]EndpointHandler
	forwarded []cbus.Event
}

// Ensure Gateway implements the forwarding contract.
var _ cbus.Forwarder = (*Gateway)(nil)

// NewGateway returns a gateway answering through router, usually a *sdkbus.Bus.
func NewGateway(router cbus.Router) *Gateway {
	return &Gateway{router: router, handlers: make(map[string]EndpointHandler)}
}

// Handle registers h for endpoint, replacing any previous handler.
func (g *Gateway) Handle(endpoint string, h EndpointHandler) {
	g.mu.Lock()
	g.handlers[endpoint] = h
	g.mu.Unlock()
}

// Forward records e and, for requests, routes back the handler's answer. Requests for an
// endpoint with no handler are answered with an error event.
func (g *Gateway) Forward(ctx context.Context, e cbus.Event) error {
	g.mu.Lock()
	g.forwarded = append(g.forwarded, e)
	h := g.handlers[e.Destination()]
	g.mu.Unlock()

	if !e.IsRequest() {
		return nil
	}

	if h == nil {
		return g.router.Route(ctx, cbus.NewError(cbus.Response{
			Message: fmt.Sprintf("no handler for endpoint %q", e.Destination()),
		}, e))
	}

	resp, err := h(ctx, e)
	if err != nil {
		return g.router.Route(ctx, cbus.NewError(cbus.Response{Message: err.Error()}, e))
	}

	if !resp.Success {
		return g.router.Route(ctx, cbus.NewError(resp, e))
	}

	return g.router.Route(ctx, cbus.NewResponse(resp, e))
}

// Push sends a platform-initiated event, typically a command, into the bus.
func (g *Gateway) Push(ctx context.Context, e cbus.Event) error { return g.router.Route(ctx, e) }

// Forwarded returns a copy of every event received so far.
func (g *Gateway) Forwarded() []cbus.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return append([]cbus.Event(nil), g.forwarded...)
}

// Static returns a handler that always answers with body.
func Static(body any) EndpointHandler {
	return func(context.Context, cbus.Event) (cbus.Response, error) {
		return cbus.NewResponseBody(body)
	}
}
