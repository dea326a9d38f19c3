// Package config loads sdk bus options from YAML and the process environment and builds
// the slog logger shared by every component.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// LoggingEnv turns verbose event bus logging on when set to "true".
const LoggingEnv = "AWG_SDK_EVENT_BUS_LOGGING_ENABLED_ENV"

// Options configures an sdk bus.
type Options struct {
	// CallTimeout bounds each synchronous call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// EnqueueAttemptTimeout bounds a single blocking put.
	EnqueueAttemptTimeout time.Duration `yaml:"enqueue_attempt_timeout"`
	// EnqueueBackoff is the per-attempt retry step.
	EnqueueBackoff time.Duration `yaml:"enqueue_backoff"`
	// PollInterval is how long consumer loops wait before re-checking shutdown.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`

	Transport Transport `yaml:"transport"`
	Admin     Admin     `yaml:"admin"`
}

// Transport selects where gateway-bound events are relayed.
type Transport struct {
	// Kind is one of "inmemory", "nats", "rabbitmq" or "kafka". Empty means no relay.
	Kind string `yaml:"kind"`
	// URL is the broker URL for nats and rabbitmq.
	URL string `yaml:"url"`
	// Name is the connection name (nats) or exchange (rabbitmq).
	Name string `yaml:"name"`
	// Brokers are the kafka seed brokers.
	Brokers []string `yaml:"brokers"`
	// Subject is the subject, routing key or topic prefix.
	Subject string `yaml:"subject"`
}

// Admin configures the diagnostics HTTP server.
type Admin struct {
	Addr string `yaml:"addr"`
}

// Transport kinds.
const (
	TransportInMemory = "inmemory"
	TransportNATS     = "nats"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
)

// Default returns the built-in options.
func Default() Options {
	return Options{
		CallTimeout:           30 * time.Second,
		EnqueueAttemptTimeout: 250 * time.Millisecond,
		EnqueueBackoff:        2 * time.Millisecond,
		PollInterval:          200 * time.Millisecond,
		Transport:             Transport{Subject: "gateway"},
	}
}

// Validate rejects options no component can run with.
func (o Options) Validate() error {
	switch {
	case o.CallTimeout <= 0:
		return fmt.Errorf("config: call_timeout must be positive, got %s", o.CallTimeout)
	case o.EnqueueAttemptTimeout <= 0:
		return fmt.Errorf("config: enqueue_attempt_timeout must be positive, got %s", o.EnqueueAttemptTimeout)
	case o.EnqueueBackoff < 0:
		return fmt.Errorf("config: enqueue_backoff must not be negative, got %s", o.EnqueueBackoff)
	case o.PollInterval <= 0:
		return fmt.Errorf("config: poll_interval must be positive, got %s", o.PollInterval)
	}

	switch o.Transport.Kind {
	case "", TransportInMemory:
	case TransportNATS, TransportRabbitMQ:
		if o.Transport.URL == "" {
			return fmt.Errorf("config: transport %s needs a url", o.Transport.Kind)
		}
	case TransportKafka:
		if len(o.Transport.Brokers) == 0 {
			return fmt.Errorf("config: transport kafka needs brokers")
		}
	default:
		return fmt.Errorf("config: unknown transport kind %q", o.Transport.Kind)
	}

	return nil
}

// Env looks up environment variables.
type Env interface {
	LookupEnv(key string) (string, bool)
}

// EnvFunc adapts a function to Env.
type EnvFunc func(key string) (string, bool)

func (f EnvFunc) LookupEnv(key string) (string, bool) { return f(key) }

// OSEnv reads the process environment.
var OSEnv Env = EnvFunc(os.LookupEnv)

// FromEnv overlays environment settings on o.
func (o Options) FromEnv(env Env) Options {
	if env == nil {
		return o
	}

	if v, ok := env.LookupEnv(LoggingEnv); ok {
		o.Verbose = enabled(v)
	}

	return o
}

// enabled reads a boolean flag the way deployment tooling writes it: line endings and
// surrounding quotes are ignored and case does not matter.
func enabled(v string) bool {
	v = strings.NewReplacer("\r", "", "\n", "").Replace(v)
	v = strings.TrimSpace(v)

	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}

	return strings.EqualFold(v, "true")
}
