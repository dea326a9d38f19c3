package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

// DefaultTopicPrefix prefixes every topic events are written to.
const DefaultTopicPrefix = "gateway"

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter forwards gateway-bound events to Kafka using an injected Writer.
// Records are keyed by tenant so that one tenant's events keep their order.
type Adapter struct {
	Writer      Writer
	TopicPrefix string
	Propagator  cbus.HeaderPropagator
}

var _ cbus.Forwarder = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer) *Adapter { return &Adapter{Writer: w, TopicPrefix: DefaultTopicPrefix} }

// Topic returns the topic e is written to.
func (a *Adapter) Topic(e cbus.Event) string {
	prefix := a.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return prefix + "." + cbus.RoutingKey(e)
}

func (a *Adapter) Forward(ctx context.Context, e cbus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka forward: %w", berr.ErrPublishFailed)
	}

	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := cbus.EventHeaders(e)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, headers)
	}

	var key []byte
	if !e.Tenant.IsZero() {
		key = []byte(e.Tenant.String())
	}

	if err = a.Writer.Write(ctx, a.Topic(e), key, val, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka forward write: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}
