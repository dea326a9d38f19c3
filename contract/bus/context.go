package bus

import "context"

// Header keys stamped on every event leaving the process.
const (
	HeaderEventID            = "x-sdk-event-id"
	HeaderEventType          = "x-sdk-event-type"
	HeaderClientType         = "x-sdk-client-type"
	HeaderServiceName        = "x-sdk-service"
	HeaderPersistenceContext = "x-sdk-persistence-context"
)

// HeaderPropagator abstracts injecting tracing context into headers.
// Implementations may bridge to OpenTelemetry or any other propagation standard.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(ctx context.Context, headers map[string]string) {
	_ = ctx
	_ = headers
}

// EventHeaders returns the routing headers for e.
func EventHeaders(e Event) map[string]string {
	return map[string]string{
		HeaderEventID:            e.ID,
		HeaderEventType:          string(e.Type),
		HeaderClientType:         string(e.ClientType),
		HeaderServiceName:        e.Tenant.ServiceName,
		HeaderPersistenceContext: e.Tenant.PersistenceContext,
	}
}
