package sdkbus

// revive:disable:max-public-structs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/next-trace/scg-sdk-bus/consumer"
	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
	"github.com/next-trace/scg-sdk-bus/correlator"
	"github.com/next-trace/scg-sdk-bus/enqueue"
	"github.com/next-trace/scg-sdk-bus/lifecycle"
	"github.com/next-trace/scg-sdk-bus/observability"
	"github.com/next-trace/scg-sdk-bus/registry"
)

// DefaultCallTimeout bounds Call when no timeout is given.
const DefaultCallTimeout = 30 * time.Second

// Role says which queue of a tenant a consumer loop drains.
type Role string

// Loop roles.
const (
	RoleService Role = "SERVICE"
	RoleAgent   Role = "AGENT"
	RoleCommand Role = "COMMAND"
)

func (r Role) kind() cbus.QueueKind {
	switch r {
	case RoleAgent:
		return cbus.KindServiceAgentResponse
	case RoleCommand:
		return cbus.KindServiceCommand
	default:
		return cbus.KindServiceResponse
	}
}

func roleFor(ct cbus.ClientType) Role {
	if ct == cbus.ClientAgent {
		return RoleAgent
	}

	return RoleService
}

type loopKey struct {
	tenant cbus.TenantKey
	role   Role
}

type binding struct {
	corr *correlator.Correlator
	loop *consumer.Loop
}

// Bus wires queues, correlators and consumer loops together.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	reg      *registry.Registry
	engine   *enqueue.Engine
	shutdown *lifecycle.Flag

	logger       *slog.Logger
	metrics      observability.Recorder
	commands     cbus.UnsolicitedHandler
	callTimeout  time.Duration
	pollInterval time.Duration

	ctx    context.Context //nolint:containedctx // parent of every consumer loop
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[loopKey]*binding
}

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// WithLogger sets the logger handed to every loop and correlator.
func WithLogger(l *slog.Logger) BusOption { return func(b *Bus) { b.logger = l } }

// WithMetrics sets the metrics recorder handed to every loop and correlator.
func WithMetrics(r observability.Recorder) BusOption { return func(b *Bus) { b.metrics = r } }

// WithCommandHandler sets the handler for commands and any other event no caller waits for.
func WithCommandHandler(h cbus.UnsolicitedHandler) BusOption {
	return func(b *Bus) { b.commands = h }
}

// WithCallTimeout sets the timeout Call uses when given a non-positive one.
func WithCallTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithPollInterval sets the poll interval of every consumer loop.
func WithPollInterval(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// New constructs a Bus over reg. The engine's shutdown flag is the bus shutdown flag.
func New(reg *registry.Registry, engine *enqueue.Engine, opts ...BusOption) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		reg:          reg,
		engine:       engine,
		shutdown:     engine.Shutdown,
		callTimeout:  DefaultCallTimeout,
		pollInterval: consumer.DefaultPollInterval,
		ctx:          ctx,
		cancel:       cancel,
		loops:        make(map[loopKey]*binding),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b.metrics = observability.OrNoop(b.metrics)

	return b
}

// Registry returns the queue registry the bus routes through.
func (b *Bus) Registry() *registry.Registry { return b.reg }

// RegisterService creates the tenant's command and response queues and starts their
// consumer loops. It returns the response queue. Calling it again is harmless.
func (b *Bus) RegisterService(tenant cbus.TenantKey) *registry.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.reg.RegisterService(tenant)

	b.bind(tenant, RoleService)
	b.bind(tenant, RoleCommand)

	return q
}

// RegisterAgent creates the tenant's agent response queue and starts its consumer loop.
func (b *Bus) RegisterAgent(tenant cbus.TenantKey) *registry.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.reg.RegisterAgent(tenant)

	b.bind(tenant, RoleAgent)

	return q
}

// RetireService stops every loop of the tenant, failing its outstanding calls with
// ErrWaiterCancelled, and removes all of its queues. It returns the kinds removed.
// Loops and queues are detached together under b.mu, so a concurrent registration
// either sees both or starts over on fresh queues.
func (b *Bus) RetireService(tenant cbus.TenantKey) []cbus.QueueKind {
	b.mu.Lock()

	var retiring []*binding

	for _, role := range []Role{RoleService, RoleAgent, RoleCommand} {
		k := loopKey{tenant: tenant, role: role}
		if bd, ok := b.loops[k]; ok {
			retiring = append(retiring, bd)
			delete(b.loops, k)
		}
	}

	kinds := b.reg.RetireService(tenant)

	b.mu.Unlock()

	stopAll(retiring)

	b.logger.Info("retired service",
		slog.String("tenant", tenant.String()),
		slog.Int("loops", len(retiring)),
		slog.Int("queues", len(kinds)))

	return kinds
}

// Enqueue puts ev on the tenant's queue of the given kind and reports how the put went.
func (b *Bus) Enqueue(ctx context.Context, ev cbus.Event, kind cbus.QueueKind, tenant cbus.TenantKey) (enqueue.Receipt, error) {
	q := b.reg.Queue(kind, tenant)
	if q == nil {
		return enqueue.Receipt{}, fmt.Errorf("send %s: kind %d: %w", ev.ID, kind, berr.ErrUnknownQueueKind)
	}

	return b.engine.Put(ctx, q, label(kind, tenant), ev)
}

// Send is fire-and-forget Enqueue.
func (b *Bus) Send(ctx context.Context, ev cbus.Event, kind cbus.QueueKind, tenant cbus.TenantKey) error {
	_, err := b.Enqueue(ctx, ev, kind, tenant)

	return err
}

// SendToGateway puts ev on the gateway-bound queue.
func (b *Bus) SendToGateway(ctx context.Context, ev cbus.Event) error {
	_, err := b.engine.Put(ctx, b.reg.Gateway(), cbus.KindGateway.String(), ev)

	return err
}

// Call sends req to the gateway and blocks until its answer arrives, timeout elapses
// (ErrCorrelationTimeout) or ctx is done. A non-positive timeout uses the bus default.
//
// The answer is returned as is: an error event is a successful Call. Use CallResult to
// turn it into an error.
//
// A failed enqueue does not end the wait early. Call still waits out the timeout and then
// returns the correlation failure joined with the enqueue failure.
func (b *Bus) Call(ctx context.Context, req cbus.Event, timeout time.Duration) (cbus.Event, error) {
	if b.shutdown.Triggered() {
		return cbus.Event{}, fmt.Errorf("call %s: %w", req.ID, berr.ErrShutdownInProgress)
	}

	if !req.IsRequest() {
		return cbus.Event{}, fmt.Errorf("call %s: %s is not a request: %w", req.ID, req.Type, berr.ErrMalformedEvent)
	}

	if err := req.Validate(); err != nil {
		return cbus.Event{}, fmt.Errorf("call %s: %w", req.ID, err)
	}

	if timeout <= 0 {
		timeout = b.callTimeout
	}

	role := roleFor(req.ClientType)

	bd := b.binding(req.Tenant, role)
	if bd == nil {
		// First call for a tenant nobody registered: behave as if it had been.
		b.logger.Warn("call for unregistered tenant",
			slog.String("tenant", req.Tenant.String()),
			slog.String("role", string(role)))

		if role == RoleAgent {
			b.RegisterAgent(req.Tenant)
		} else {
			b.RegisterService(req.Tenant)
		}

		if bd = b.binding(req.Tenant, role); bd == nil {
			return cbus.Event{}, fmt.Errorf("call %s: %w", req.ID, berr.ErrShutdownInProgress)
		}
	}

	if err := bd.corr.Register(req.ID); err != nil {
		return cbus.Event{}, fmt.Errorf("call %s: %w", req.ID, err)
	}

	putErr := b.SendToGateway(ctx, req)
	if putErr != nil {
		b.logger.Warn("call request not enqueued, waiting out the correlation window",
			slog.String("event_id", req.ID),
			slog.String("error", putErr.Error()))
	}

	ev, err := bd.corr.Await(ctx, req.ID, timeout)
	if err != nil {
		return cbus.Event{}, errors.Join(err, putErr)
	}

	return ev, nil
}

// CallResult turns the result of Call into a response payload, mapping error events to
// ErrRemoteError.
func CallResult(ev cbus.Event, err error) (cbus.Response, error) {
	if err != nil {
		return cbus.Response{}, err
	}

	resp, ok := ev.Response()
	if !ok {
		return cbus.Response{}, fmt.Errorf("call %s: %s carries no response: %w", ev.ID, ev.Type, berr.ErrMalformedEvent)
	}

	if ev.IsError() || !resp.Success {
		return resp, fmt.Errorf("call %s: %q: %w", ev.ID, resp.Message, berr.ErrRemoteError)
	}

	return resp, nil
}

// Route places an event arriving from the platform on the queue it belongs to. Answers go
// to the response queue matching their client type, commands to the command queue,
// requests to the gateway. Wakeup and terminate go to the response queue of the tenant
// they carry.
func (b *Bus) Route(ctx context.Context, ev cbus.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("route: %w", err)
	}

	switch {
	case ev.IsRequest():
		return b.SendToGateway(ctx, ev)
	case ev.IsCommand():
		return b.Send(ctx, ev, cbus.KindServiceCommand, ev.Tenant)
	}

	if ev.Tenant.IsZero() {
		return fmt.Errorf("route %s: %s without tenant: %w", ev.ID, ev.Type, berr.ErrMalformedEvent)
	}

	return b.Send(ctx, ev, cbus.ResponseKind(ev.ClientType), ev.Tenant)
}

// Shutdown refuses new work, stops every consumer loop and fails every outstanding call
// with ErrWaiterCancelled. It returns once all loops have exited.
func (b *Bus) Shutdown() {
	b.shutdown.Trigger()

	b.mu.Lock()

	all := make([]*binding, 0, len(b.loops))
	for k, bd := range b.loops {
		all = append(all, bd)
		delete(b.loops, k)
	}

	b.mu.Unlock()

	stopAll(all)
	b.cancel()
}

// LoopStat describes one consumer loop.
type LoopStat struct {
	Name    string         `json:"name"`
	Tenant  cbus.TenantKey `json:"tenant"`
	Role    Role           `json:"role"`
	State   string         `json:"state"`
	Pending int            `json:"pending"`
}

// Loops describes every running consumer loop, sorted by tenant then role.
func (b *Bus) Loops() []LoopStat {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LoopStat, 0, len(b.loops))
	for k, bd := range b.loops {
		out = append(out, LoopStat{
			Name:    bd.loop.Name(),
			Tenant:  k.tenant,
			Role:    k.role,
			State:   bd.loop.State().String(),
			Pending: bd.corr.Pending(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant.String() < out[j].Tenant.String()
		}

		return out[i].Role < out[j].Role
	})

	return out
}

// ShuttingDown reports whether Shutdown was called.
func (b *Bus) ShuttingDown() bool { return b.shutdown.Triggered() }

// binding returns the live loop for (tenant, role), or nil.
func (b *Bus) binding(tenant cbus.TenantKey, role Role) *binding {
	b.mu.Lock()
	defer b.mu.Unlock()

	bd, ok := b.loops[loopKey{tenant: tenant, role: role}]
	if !ok || bd.loop.State() == consumer.StateStopped {
		return nil
	}

	return bd
}

// bind starts the loop for (tenant, role) unless it already runs. A loop that stopped on
// its own (terminate event) is replaced. b.mu must be held: the loop's queue is resolved
// under the same lock RetireService purges under.
func (b *Bus) bind(tenant cbus.TenantKey, role Role) {
	if b.shutdown.Triggered() {
		b.logger.Warn("not starting consumer during shutdown",
			slog.String("tenant", tenant.String()),
			slog.String("role", string(role)))

		return
	}

	k := loopKey{tenant: tenant, role: role}
	if bd, ok := b.loops[k]; ok && bd.loop.State() != consumer.StateStopped {
		return
	}

	name := loopName(tenant, role)
	corr := correlator.New(name, b.commands,
		correlator.WithLogger(b.logger),
		correlator.WithMetrics(b.metrics))

	loop := consumer.New(name, b.reg.Queue(role.kind(), tenant), corr, b.shutdown,
		consumer.WithLogger(b.logger),
		consumer.WithMetrics(b.metrics),
		consumer.WithPollInterval(b.pollInterval))

	b.loops[k] = &binding{corr: corr, loop: loop}
	loop.Start(b.ctx)
}

func stopAll(bs []*binding) {
	for _, bd := range bs {
		bd.loop.Stop()
	}

	for _, bd := range bs {
		bd.loop.Wait()
	}
}

func loopName(tenant cbus.TenantKey, role Role) string {
	if role == RoleCommand {
		return "SdkCommandConsumer-" + tenant.String()
	}

	return "SdkResponseConsumer-" + string(role) + "-" + tenant.String()
}

func label(kind cbus.QueueKind, tenant cbus.TenantKey) string {
	if kind == cbus.KindGateway {
		return kind.String()
	}

	return kind.String() + " " + tenant.String()
}
