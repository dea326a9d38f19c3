package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

const (
	gatewayExchangeType = "topic"

	// AnswerRoutingKey is the binding of the answer queue: the platform publishes
	// responses, errors and commands for this process under "answers.<anything>".
	AnswerRoutingKey = "answers.#"

	defaultConnTimeout  = 30 * time.Second
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

type Config struct {
	URL         string
	Exchange    string
	ConnTimeout time.Duration

	// AnswerQueue, when set together with Inbound, is declared on every (re)connect,
	// bound to the exchange with AnswerRoutingKey and consumed into Inbound.
	AnswerQueue string
	Inbound     InboundHandler
	// OnInboundError is told about deliveries Inbound rejected. Optional.
	OnInboundError func(error)

	Logger *slog.Logger
}

func (c Config) exchange() string {
	if c.Exchange == "" {
		return DefaultExchange
	}

	return c.Exchange
}

func (c Config) consumes() bool { return c.AnswerQueue != "" && c.Inbound != nil }

// session is one live connection and the channel published on.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

// reconnectingPublisher keeps a session open, redialling with jittered exponential
// backoff whenever the broker drops it. Publish waits for a session while disconnected.
type reconnectingPublisher struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	sess  *session
	ready chan struct{} // closed while sess is usable

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	// ctx bounds inbound handling; cancelled by close.
	ctx    context.Context
	cancel context.CancelFunc
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())

	rp := &reconnectingPublisher{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rp.channel(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      toTable(m.Headers),
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

// channel returns the live channel, waiting for a reconnect if there is none.
func (rp *reconnectingPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		rp.mu.RLock()
		sess, ready := rp.sess, rp.ready
		rp.mu.RUnlock()

		if sess != nil {
			return sess.ch, nil
		}

		select {
		case <-ready:
		case <-rp.closed:
			return nil, fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrPublishFailed)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (rp *reconnectingPublisher) dial() (*session, error) {
	timeout := rp.cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}

	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-sdk-bus"},
		Dial:       amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &session{conn: conn, ch: ch}

	if err := ch.ExchangeDeclare(rp.cfg.exchange(), gatewayExchangeType, true, false, false, false, nil); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

// consume binds the answer queue on its own channel and feeds it to Inbound until the
// channel closes.
func (rp *reconnectingPublisher) consume(s *session) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(rp.cfg.AnswerQueue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	if err := ch.QueueBind(q.Name, AnswerRoutingKey, rp.cfg.exchange(), false, nil); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	go Consume(rp.ctx, deliveries, rp.cfg.Inbound, rp.cfg.OnInboundError)

	return nil
}

func (rp *reconnectingPublisher) run() {
	defer close(rp.done)

	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // backoff jitter only

	backoff := minReconnectBackoff

	for {
		s, err := rp.dial()
		if err == nil && rp.cfg.consumes() {
			if err = rp.consume(s); err != nil {
				s.close()
			}
		}

		if err != nil {
			rp.logger.Warn("rabbitmq connect failed",
				slog.String("exchange", rp.cfg.exchange()),
				slog.Duration("retry_in", backoff),
				slog.Any("err", err))

			if !rp.sleep(jitter(rng, backoff)) {
				return
			}

			backoff = nextBackoff(backoff)

			continue
		}

		backoff = minReconnectBackoff
		notify := s.conn.NotifyClose(make(chan *amqp.Error, 1))

		rp.mu.Lock()
		rp.sess = s
		close(rp.ready)
		rp.mu.Unlock()

		rp.logger.Info("rabbitmq connected", slog.String("exchange", rp.cfg.exchange()))

		select {
		case <-rp.closed:
			rp.drop()
			return
		case amqpErr := <-notify:
			rp.logger.Warn("rabbitmq connection lost", slog.Any("err", amqpErr))
			rp.drop()
		}
	}
}

// drop closes the live session and arms a fresh ready channel for the next one.
func (rp *reconnectingPublisher) drop() {
	rp.mu.Lock()
	s := rp.sess
	rp.sess = nil
	rp.ready = make(chan struct{})
	rp.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// sleep waits d and reports false if the publisher was closed meanwhile.
func (rp *reconnectingPublisher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-rp.closed:
		return false
	case <-t.C:
		return true
	}
}

func (rp *reconnectingPublisher) close() {
	rp.closeOnce.Do(func() {
		close(rp.closed)
		rp.cancel()
	})
	<-rp.done
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxReconnectBackoff)
}

// jitter adds up to a quarter of d, capped at maxReconnectBackoff.
func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	if q := int64(d / 4); q > 0 {
		d += time.Duration(rng.Int63n(q))
	}

	return min(d, maxReconnectBackoff)
}

// NewWithAMQPConn dials RabbitMQ in the background with auto-reconnect, declares the
// gateway exchange and returns the Adapter with a cleanup that closes the connection.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrPublishFailed)
	}

	pub, cleanup := newReconnectingPublisher(cfg)
	ad := New(pub)
	ad.Exchange = cfg.exchange()

	return ad, cleanup, nil
}
