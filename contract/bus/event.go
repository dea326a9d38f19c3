package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

// Type is the event discriminant.
type Type string

// Event types. Requests travel to the gateway; responses and errors answer a request by
// its id; commands are platform-initiated; wakeup and terminate only steer consumers.
const (
	TypeWakeup    Type = "wakeup"
	TypeRequest   Type = "request"
	TypeResponse  Type = "response"
	TypeError     Type = "error"
	TypeCommand   Type = "command"
	TypeTerminate Type = "terminate"
)

// ClientType tells which side of a deployed service produced or awaits an event.
type ClientType string

// Client types. An answer is routed to the response queue of the client type that asked.
const (
	ClientService ClientType = "service"
	ClientAgent   ClientType = "agent"
)

// Event is the unit carried by every queue. Build events with the constructors below;
// they guarantee the discriminant and the payload agree.
type Event struct {
	ID         string
	Type       Type
	ClientType ClientType
	Tenant     TenantKey
	Timestamp  time.Time
	Payload    Payload
}

func newEvent(t Type, ct ClientType, tenant TenantKey, p Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ClientType: ct,
		Tenant:     tenant,
		Timestamp:  time.Now(),
		Payload:    p,
	}
}

// NewRequest builds a service-side request with a fresh identifier.
func NewRequest(req Request, tenant TenantKey) Event {
	return newEvent(TypeRequest, ClientService, tenant, req)
}

// NewAgentRequest builds an agent-side request with a fresh identifier.
func NewAgentRequest(req Request, tenant TenantKey) Event {
	return newEvent(TypeRequest, ClientAgent, tenant, req)
}

// NewResponse answers orig. The identifier, tenant and client type are copied so the
// receiving consumer can correlate it.
func NewResponse(resp Response, orig Event) Event {
	return answer(TypeResponse, resp, orig)
}

// NewError answers orig with a failure.
func NewError(resp Response, orig Event) Event {
	resp.Success = false

	return answer(TypeError, resp, orig)
}

func answer(t Type, resp Response, orig Event) Event {
	return Event{
		ID:         orig.ID,
		Type:       t,
		ClientType: orig.ClientType,
		Tenant:     orig.Tenant,
		Timestamp:  time.Now(),
		Payload:    resp,
	}
}

// NewCommand builds an unsolicited command for tenant.
func NewCommand(p CommandPayload, tenant TenantKey) Event {
	return newEvent(TypeCommand, ClientService, tenant, p)
}

// NewAgentCommand builds an unsolicited command for tenant's agent.
func NewAgentCommand(p CommandPayload, tenant TenantKey) Event {
	return newEvent(TypeCommand, ClientAgent, tenant, p)
}

// Terminate tells the consumer reading the queue to stop.
func Terminate() Event { return newEvent(TypeTerminate, ClientService, TenantKey{}, nil) }

// Wakeup nudges a consumer without carrying data.
func Wakeup() Event { return newEvent(TypeWakeup, ClientService, TenantKey{}, nil) }

// IsRequest reports whether e is a request bound for the gateway.
func (e Event) IsRequest() bool { return e.Type == TypeRequest }

// IsResponse reports whether e is a successful answer to a request.
func (e Event) IsResponse() bool { return e.Type == TypeResponse }

// IsCommand reports whether e is a platform-initiated command.
func (e Event) IsCommand() bool { return e.Type == TypeCommand }

// IsError reports whether e is a failed answer to a request.
func (e Event) IsError() bool { return e.Type == TypeError }

// IsTerminationCommand reports whether e tells a consumer to stop.
func (e Event) IsTerminationCommand() bool { return e.Type == TypeTerminate }

// IsWakeup reports whether e only unblocks a waiting consumer.
func (e Event) IsWakeup() bool { return e.Type == TypeWakeup }

// IsAnswer reports whether e answers an earlier request.
func (e Event) IsAnswer() bool { return e.IsResponse() || e.IsError() }

// Destination returns the endpoint a request targets, or "" when none is set.
func (e Event) Destination() string {
	if r, ok := e.Payload.(Request); ok {
		return r.Endpoint
	}

	return ""
}

// Request returns the request payload, if any.
func (e Event) Request() (Request, bool) {
	r, ok := e.Payload.(Request)
	return r, ok
}

// Response returns the response payload, if any.
func (e Event) Response() (Response, bool) {
	r, ok := e.Payload.(Response)
	return r, ok
}

// Validate checks the discriminant against the payload shape.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event %s: missing id: %w", e.Type, berr.ErrMalformedEvent)
	}

	var ok bool

	switch e.Type {
	case TypeRequest:
		_, ok = e.Payload.(Request)
	case TypeResponse, TypeError:
		_, ok = e.Payload.(Response)
	case TypeCommand:
		_, ok = e.Payload.(CommandPayload)
	case TypeTerminate, TypeWakeup:
		ok = e.Payload == nil
	default:
		return fmt.Errorf("event %s: unknown type %q: %w", e.ID, e.Type, berr.ErrMalformedEvent)
	}

	if !ok {
		return fmt.Errorf("event %s: type %s cannot carry %q payload: %w",
			e.ID, e.Type, KindOf(e.Payload), berr.ErrMalformedEvent)
	}

	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("Event{id=%s type=%s client=%s tenant=%s payload=%s}",
		e.ID, e.Type, e.ClientType, e.Tenant, KindOf(e.Payload))
}

type wireEvent struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	ClientType  ClientType      `json:"clientType"`
	Tenant      TenantKey       `json:"tenant"`
	Timestamp   time.Time       `json:"timestamp"`
	PayloadKind PayloadKind     `json:"payloadKind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON tags the payload with its kind so the variant survives transport.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:          e.ID,
		Type:        e.Type,
		ClientType:  e.ClientType,
		Tenant:      e.Tenant,
		Timestamp:   e.Timestamp,
		PayloadKind: KindOf(e.Payload),
	}

	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}

		w.Payload = raw
	}

	return json.Marshal(w)
}

// UnmarshalJSON restores the payload variant named by payloadKind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	p, err := decodePayload(w.PayloadKind, w.Payload)
	if err != nil {
		return err
	}

	*e = Event{
		ID:         w.ID,
		Type:       w.Type,
		ClientType: w.ClientType,
		Tenant:     w.Tenant,
		Timestamp:  w.Timestamp,
		Payload:    p,
	}

	return nil
}

func errUnknownPayload(kind PayloadKind) error {
	return fmt.Errorf("payload kind %q: %w", kind, berr.ErrMalformedEvent)
}
