// Package registry tracks the bounded queues of every registered tenant.
package registry

import (
	"io"
	"log/slog"
	"sort"
	"sync"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	"github.com/next-trace/scg-sdk-bus/queue"
)

// Queue is the queue type managed by the registry.
type Queue = queue.Queue[cbus.Event]

// Registry lazily creates one queue per (kind, tenant) plus the single gateway queue.
// It is safe for concurrent use; construct one per process and inject it.
type Registry struct {
	gateway *Queue
	queues  map[cbus.QueueKind]*sync.Map // tenant -> *Queue
	logger  *slog.Logger
}

// QueueStat describes one live queue.
type QueueStat struct {
	Kind     cbus.QueueKind `json:"-"`
	KindName string         `json:"kind"`
	Tenant   cbus.TenantKey `json:"tenant"`
	Len      int            `json:"len"`
	Cap      int            `json:"cap"`
}

// New constructs an empty registry. A nil logger discards output.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Registry{
		gateway: queue.New[cbus.Event](cbus.GatewayQueueCapacity),
		queues:  make(map[cbus.QueueKind]*sync.Map, len(cbus.TenantKinds)),
		logger:  logger,
	}

	for _, k := range cbus.TenantKinds {
		r.queues[k] = &sync.Map{}
	}

	return r
}

// RegisterService creates the command and response queues for tenant, if missing,
// and returns the response queue. Repeated calls return the same queue.
func (r *Registry) RegisterService(tenant cbus.TenantKey) *Queue {
	r.ensure(cbus.KindServiceCommand, tenant, false)
	return r.ensure(cbus.KindServiceResponse, tenant, false)
}

// RegisterAgent creates the agent response queue for tenant and returns it.
func (r *Registry) RegisterAgent(tenant cbus.TenantKey) *Queue {
	return r.ensure(cbus.KindServiceAgentResponse, tenant, false)
}

// RetireService removes every tenant-scoped queue for tenant and returns the kinds
// that existed. A later send to the tenant creates fresh, empty queues.
func (r *Registry) RetireService(tenant cbus.TenantKey) []cbus.QueueKind {
	var removed []cbus.QueueKind

	for _, k := range cbus.TenantKinds {
		if _, ok := r.queues[k].LoadAndDelete(tenant); ok {
			removed = append(removed, k)
		}
	}

	r.logger.Debug("retired service queues", "tenant", tenant.String(), "kinds", len(removed))

	return removed
}

// Queue returns the queue for kind and tenant, creating it on first use. A queue created
// here for a tenant that never registered is logged as a warning. The gateway kind ignores
// tenant. Unknown kinds return nil.
func (r *Registry) Queue(kind cbus.QueueKind, tenant cbus.TenantKey) *Queue {
	if kind == cbus.KindGateway {
		return r.gateway
	}

	if !kind.Valid() {
		return nil
	}

	return r.ensure(kind, tenant, true)
}

// Lookup returns an existing queue without creating one.
func (r *Registry) Lookup(kind cbus.QueueKind, tenant cbus.TenantKey) (*Queue, bool) {
	if kind == cbus.KindGateway {
		return r.gateway, true
	}

	m, ok := r.queues[kind]
	if !ok {
		return nil, false
	}

	v, ok := m.Load(tenant)
	if !ok {
		return nil, false
	}

	return v.(*Queue), true
}

// Gateway returns the gateway-bound queue.
func (r *Registry) Gateway() *Queue { return r.gateway }

// Snapshot lists the gateway queue followed by every tenant queue, ordered by kind then tenant.
func (r *Registry) Snapshot() []QueueStat {
	out := []QueueStat{stat(cbus.KindGateway, cbus.TenantKey{}, r.gateway)}

	for _, k := range cbus.TenantKinds {
		var group []QueueStat

		r.queues[k].Range(func(key, value any) bool {
			group = append(group, stat(k, key.(cbus.TenantKey), value.(*Queue)))
			return true
		})

		sort.Slice(group, func(i, j int) bool { return group[i].Tenant.String() < group[j].Tenant.String() })
		out = append(out, group...)
	}

	return out
}

func (r *Registry) ensure(kind cbus.QueueKind, tenant cbus.TenantKey, warnIfMissing bool) *Queue {
	m := r.queues[kind]

	if v, ok := m.Load(tenant); ok {
		return v.(*Queue)
	}

	v, loaded := m.LoadOrStore(tenant, queue.New[cbus.Event](kind.Capacity()))
	if !loaded && warnIfMissing {
		r.logger.Warn("created queue for unregistered tenant",
			"kind", kind.String(),
			"tenant", tenant.String(),
		)
	}

	return v.(*Queue)
}

func stat(kind cbus.QueueKind, tenant cbus.TenantKey, q *Queue) QueueStat {
	return QueueStat{Kind: kind, KindName: kind.String(), Tenant: tenant, Len: q.Len(), Cap: q.Cap()}
}
