package nats

import (
	"errors"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := NewWithNATS(Config{})
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestOptions_ApplyConfig(t *testing.T) {
	o := natsgo.GetDefaultOptions()

	for _, opt := range options(Config{Name: "sdk-bus", ConnTimeout: 3 * time.Second, MaxReconnects: -1}) {
		if err := opt(&o); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}

	if o.Name != "sdk-bus" || o.Timeout != 3*time.Second || o.MaxReconnect != -1 {
		t.Fatalf("options not applied: name=%q timeout=%s max=%d", o.Name, o.Timeout, o.MaxReconnect)
	}

	if o.DisconnectedErrCB == nil || o.ReconnectedCB == nil || o.ClosedCB == nil {
		t.Fatalf("connection handlers not installed")
	}
}

func TestOptions_ZeroConfigKeepsDefaults(t *testing.T) {
	def := natsgo.GetDefaultOptions()
	o := natsgo.GetDefaultOptions()

	for _, opt := range options(Config{}) {
		if err := opt(&o); err != nil {
			t.Fatalf("apply option: %v", err)
		}
	}

	if o.Timeout != def.Timeout || o.MaxReconnect != def.MaxReconnect {
		t.Fatalf("defaults changed: timeout=%s max=%d", o.Timeout, o.MaxReconnect)
	}
}
