package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

// Encode serialises ev for a broker.
func Encode(ev cbus.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.ID, errors.Join(berr.ErrSerializationFailed, err))
	}

	return data, nil
}

// Decode parses and validates a broker payload.
func Decode(data []byte) (cbus.Event, error) {
	var ev cbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return cbus.Event{}, fmt.Errorf("decode: %w", errors.Join(berr.ErrMalformedEvent, err))
	}

	if err := ev.Validate(); err != nil {
		return cbus.Event{}, fmt.Errorf("decode: %w", err)
	}

	return ev, nil
}

// Inbound feeds events arriving from the platform back into the bus.
type Inbound struct {
	router cbus.Router
}

// NewInbound returns an Inbound routing through router, usually a *sdkbus.Bus.
func NewInbound(router cbus.Router) *Inbound { return &Inbound{router: router} }

// Handle decodes data and routes the event.
func (in *Inbound) Handle(ctx context.Context, data []byte) error {
	ev, err := Decode(data)
	if err != nil {
		return err
	}

	return in.HandleEvent(ctx, ev)
}

// HandleEvent routes an already decoded event.
func (in *Inbound) HandleEvent(ctx context.Context, ev cbus.Event) error {
	if err := in.router.Route(ctx, ev); err != nil {
		return fmt.Errorf("inbound %s: %w", ev.ID, err)
	}

	return nil
}
