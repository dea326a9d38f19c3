package bus

// Queue capacities are fixed; backpressure beyond them is handled by bounded retry.
const (
	GatewayQueueCapacity = 100
	ServiceQueueCapacity = 20
)

// QueueKind selects one of the queues the registry manages.
type QueueKind int

const (
	// KindGateway is the single outward queue drained by the transport actor.
	KindGateway QueueKind = iota + 1
	// KindServiceResponse carries responses for a tenant's service-side callers.
	KindServiceResponse
	// KindServiceAgentResponse carries responses for a tenant's agent-side callers.
	KindServiceAgentResponse
	// KindServiceCommand carries unsolicited commands for a tenant.
	KindServiceCommand
)

// TenantKinds lists every tenant-scoped kind; retirement purges all of them.
var TenantKinds = []QueueKind{KindServiceResponse, KindServiceAgentResponse, KindServiceCommand}

// Capacity returns the compiled-in capacity for the kind.
func (k QueueKind) Capacity() int {
	if k == KindGateway {
		return GatewayQueueCapacity
	}

	return ServiceQueueCapacity
}

// Valid reports whether k is a known kind.
func (k QueueKind) Valid() bool { return k >= KindGateway && k <= KindServiceCommand }

func (k QueueKind) String() string {
	switch k {
	case KindGateway:
		return "OTAG Q"
	case KindServiceResponse:
		return "SERVICE RESPONSE Q"
	case KindServiceAgentResponse:
		return "SERVICE AGENT Q"
	case KindServiceCommand:
		return "COMMAND Q"
	default:
		return "UNKNOWN Q"
	}
}

// ResponseKind returns the queue a response for the given client type lands on.
func ResponseKind(ct ClientType) QueueKind {
	if ct == ClientAgent {
		return KindServiceAgentResponse
	}

	return KindServiceResponse
}
