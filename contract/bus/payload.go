package bus

import "encoding/json"

// PayloadKind tags the concrete payload variant on the wire.
type PayloadKind string

const (
	PayloadRequest         PayloadKind = "request"
	PayloadResponse        PayloadKind = "response"
	PayloadAccessChange    PayloadKind = "accessChange"
	PayloadAuthRequest     PayloadKind = "authRequest"
	PayloadConnectorUpdate PayloadKind = "connectorUpdate"
	PayloadLifecycleChange PayloadKind = "lifecycleChange"
	PayloadSettingsChange  PayloadKind = "settingsChange"
)

// Payload is the sealed set of event bodies. Only the types in this file implement it,
// so an event can never carry two bodies at once.
type Payload interface {
	payloadKind() PayloadKind
}

// CommandPayload is the subset of payloads an unsolicited command may carry.
type CommandPayload interface {
	Payload
	commandPayload()
}

// Request asks the receiver to perform the call named by Endpoint.
type Request struct {
	Endpoint string          `json:"endpointId"`
	Body     json.RawMessage `json:"requestBody,omitempty"`
}

// NewRequestBody marshals body into a Request for endpoint.
func NewRequestBody(endpoint string, body any) (Request, error) {
	if body == nil {
		return Request{Endpoint: endpoint}, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Request{}, err
	}

	return Request{Endpoint: endpoint, Body: raw}, nil
}

// Decode unmarshals the request body into v.
func (r Request) Decode(v any) error { return decodeRaw(r.Body, v) }

// Response answers a Request. Error events reuse it with Success=false.
type Response struct {
	Success bool            `json:"success"`
	Body    json.RawMessage `json:"responseBody,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewResponseBody marshals body into a successful Response.
func NewResponseBody(body any) (Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	return Response{Success: true, Body: raw}, nil
}

// Decode unmarshals the response body into v.
func (r Response) Decode(v any) error { return decodeRaw(r.Body, v) }

// AccessChange tells a service that user access to one of its resources changed.
type AccessChange struct {
	Resource string   `json:"resource"`
	Granted  bool     `json:"granted"`
	Users    []string `json:"users,omitempty"`
}

// AuthRequest asks a service agent's auth handler to authenticate a user.
type AuthRequest struct {
	HandlerName string            `json:"handlerName"`
	Username    string            `json:"username,omitempty"`
	Password    string            `json:"password,omitempty"`
	AuthToken   string            `json:"authToken,omitempty"`
	Headers     map[string]string `json:"forwardHeaders,omitempty"`
}

// HasCreds reports whether both username and password are present.
func (a AuthRequest) HasCreds() bool { return a.Username != "" && a.Password != "" }

// ConnectorUpdate conveys an administrative change to a connector.
type ConnectorUpdate struct {
	ConnectorID   string `json:"connectorId"`
	Name          string `json:"name"`
	ConnectionURL string `json:"connectionUrl,omitempty"`
}

// LifecycleChange reports a deployment lifecycle transition, e.g. "SERVICE_ENABLED".
type LifecycleChange struct {
	Event       string `json:"event"`
	ServiceName string `json:"serviceName"`
}

// SettingsChange informs a service that a setting it may care about changed.
type SettingsChange struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
}

func (Request) payloadKind() PayloadKind         { return PayloadRequest }
func (Response) payloadKind() PayloadKind        { return PayloadResponse }
func (AccessChange) payloadKind() PayloadKind    { return PayloadAccessChange }
func (AuthRequest) payloadKind() PayloadKind     { return PayloadAuthRequest }
func (ConnectorUpdate) payloadKind() PayloadKind { return PayloadConnectorUpdate }
func (LifecycleChange) payloadKind() PayloadKind { return PayloadLifecycleChange }
func (SettingsChange) payloadKind() PayloadKind  { return PayloadSettingsChange }

func (AccessChange) commandPayload()    {}
func (AuthRequest) commandPayload()     {}
func (ConnectorUpdate) commandPayload() {}
func (LifecycleChange) commandPayload() {}
func (SettingsChange) commandPayload()  {}

// KindOf returns the wire tag for p, or "" for a nil payload.
func KindOf(p Payload) PayloadKind {
	if p == nil {
		return ""
	}

	return p.payloadKind()
}

func decodePayload(kind PayloadKind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case "":
		return nil, nil
	case PayloadRequest:
		return unmarshalAs[Request](raw)
	case PayloadResponse:
		return unmarshalAs[Response](raw)
	case PayloadAccessChange:
		return unmarshalAs[AccessChange](raw)
	case PayloadAuthRequest:
		return unmarshalAs[AuthRequest](raw)
	case PayloadConnectorUpdate:
		return unmarshalAs[ConnectorUpdate](raw)
	case PayloadLifecycleChange:
		return unmarshalAs[LifecycleChange](raw)
	case PayloadSettingsChange:
		return unmarshalAs[SettingsChange](raw)
	default:
		return nil, errUnknownPayload(kind)
	}
}

func unmarshalAs[P Payload](raw json.RawMessage) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeRaw(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, v)
}
