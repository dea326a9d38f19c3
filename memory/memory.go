// Package memory wires a complete sdk bus against an in-process gateway. It is what
// tests and local runs use when no broker is available.
package memory

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-sdk-bus/adapters/inmemory"
	"github.com/next-trace/scg-sdk-bus/config"
	"github.com/next-trace/scg-sdk-bus/enqueue"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
	"github.com/next-trace/scg-sdk-bus/registry"
	"github.com/next-trace/scg-sdk-bus/relay"
	"github.com/next-trace/scg-sdk-bus/sdkbus"
)

// Stack is a running bus with its simulated platform side. Gateway answers requests by
// endpoint and pushes commands; Relay carries gateway-bound events to it.
type Stack struct {
	Bus     *sdkbus.Bus
	Gateway *inmemory.Gateway
	Relay   *relay.Relay
}

// New builds the registry, enqueue engine, bus, gateway and relay from cfg and starts the
// relay. opts are applied to the bus after the config-derived ones, so a command handler
// or other override can be supplied. The returned cleanup shuts the bus down and waits for
// the relay to exit. A nil metrics recorder records nothing.
func New(ctx context.Context, cfg config.Options, logger *slog.Logger, metrics observability.Recorder, opts ...sdkbus.BusOption) (*Stack, func()) {
	metrics = observability.OrNoop(metrics)
	flag := lifecycle.NewFlag()

	engine := enqueue.New(flag,
		enqueue.WithLogger(logger),
		enqueue.WithMetrics(metrics),
		enqueue.WithAttemptTimeout(cfg.EnqueueAttemptTimeout),
		enqueue.WithBackoff(cfg.EnqueueBackoff))

	b := sdkbus.New(registry.New(logger), engine, append([]sdkbus.BusOption{
		sdkbus.WithLogger(logger),
		sdkbus.WithMetrics(metrics),
		sdkbus.WithCallTimeout(cfg.CallTimeout),
		sdkbus.WithPollInterval(cfg.PollInterval),
	}, opts...)...)

	gw := inmemory.NewGateway(b)

	r := relay.New(config.TransportInMemory, b.Registry().Gateway(), gw, flag,
		relay.WithLogger(logger),
		relay.WithMetrics(metrics),
		relay.WithPollInterval(cfg.PollInterval))
	r.Start(ctx)

	cleanup := func() {
		b.Shutdown()
		r.Stop()
		r.Wait()
	}

	return &Stack{Bus: b, Gateway: gw, Relay: r}, cleanup
}
