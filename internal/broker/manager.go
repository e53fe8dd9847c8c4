package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/internal/logger"
)

var (
	// ErrUnavailable wraps every failure to reach or use the broker.
	ErrUnavailable = errors.New("message broker unavailable")
	// ErrNotConfirmed reports a publish the broker negatively acknowledged.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")
)

const contentTypeJSON = "application/json"

// PublishOptions describes one outgoing message.
type PublishOptions struct {
	// RoutingKey defaults to the topology routing key.
	RoutingKey string
	MessageID  string
	// ContentType defaults to application/json.
	ContentType string
}

// ConsumeOptions configures a consumer subscription.
type ConsumeOptions struct {
	Tag      string
	AutoAck  bool
	Prefetch int
}

// Session is one open connection and channel with the topology declared.
type Session struct {
	conn     Connection
	ch       Channel
	topology Topology
}

// Channel exposes the session channel.
func (s *Session) Channel() Channel { return s.ch }

// Consume subscribes to the topology queue.
func (s *Session) Consume(_ context.Context, opts ConsumeOptions) (<-chan amqp.Delivery, error) {
	if opts.Prefetch > 0 {
		if err := s.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("%w: qos: %w", ErrUnavailable, err)
		}
	}
	deliveries, err := s.ch.Consume(s.topology.Queue, opts.Tag, opts.AutoAck, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: consume %s: %w", ErrUnavailable, s.topology.Queue, err)
	}
	return deliveries, nil
}

// Cancel stops delivery to the consumer tag.
func (s *Session) Cancel(tag string) error {
	if s.ch == nil || s.ch.IsClosed() {
		return nil
	}
	return s.ch.Cancel(tag, false)
}

// Manager opens sessions against RabbitMQ.
type Manager struct {
	cfg      config.RabbitMQConfig
	topology Topology
	dial     Dialer
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer replaces the AMQP dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// NewManager builds a Manager from the RabbitMQ settings.
func NewManager(cfg config.RabbitMQConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		topology: TopologyFromConfig(cfg),
		dial:     DialAMQP,
		sleep:    sleepCtx,
		log:      logger.Component("broker"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TopologyFromConfig derives the topology from the RabbitMQ settings.
func TopologyFromConfig(cfg config.RabbitMQConfig) Topology {
	return Topology{
		Exchange:   cfg.Exchange,
		Queue:      cfg.Queue,
		RoutingKey: cfg.RoutingKey,
		DeadLetter: cfg.DeadLetter,
	}
}

// Topology returns the objects every session declares.
func (m *Manager) Topology() Topology { return m.topology }

// Open connects, opens a channel and declares the topology.
// Resources opened before a failure are released.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %w", ErrUnavailable, err)
	}

	s := &Session{conn: conn, ch: ch, topology: m.topology}
	if err := DeclareTopology(ch, m.topology); err != nil {
		m.Close(s)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return s, nil
}

// Close closes the channel then the connection, skipping whichever is already closed.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}
	if s.ch != nil && !s.ch.IsClosed() {
		if err := s.ch.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close channel")
		}
	}
	if s.conn != nil && !s.conn.IsClosed() {
		if err := s.conn.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close connection")
		}
	}
}

// Publish sends body as a persistent message on a dedicated session.
//
// With publisher confirms enabled it blocks until the broker acks the message.
// Errors wrap ErrUnavailable; a broker nack additionally wraps ErrNotConfirmed.
func (m *Manager) Publish(ctx context.Context, body []byte, opts PublishOptions) error {
	s, err := m.Open(ctx)
	if err != nil {
		return err
	}
	defer m.Close(s)

	var confirms chan amqp.Confirmation
	if m.cfg.PublisherConfirms {
		if err := s.ch.Confirm(false); err != nil {
			return fmt.Errorf("%w: enable confirms: %w", ErrUnavailable, err)
		}
		confirms = s.ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	key := opts.RoutingKey
	if key == "" {
		key = m.topology.RoutingKey
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeJSON
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    opts.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, m.topology.Exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("%w: publish: %w", ErrUnavailable, err)
	}

	if confirms == nil {
		return nil
	}
	select {
	case c, ok := <-confirms:
		if !ok {
			return fmt.Errorf("%w: channel closed before confirm", ErrUnavailable)
		}
		if !c.Ack {
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrNotConfirmed)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: awaiting confirm: %w", ErrUnavailable, ctx.Err())
	}
}

// Ping dials the broker and closes the connection; used by readiness checks.
func (m *Manager) Ping(ctx context.Context) error {
	conn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// connect dials with up to ConnectionAttempts tries, RetryDelay apart.
func (m *Manager) connect(ctx context.Context) (Connection, error) {
	attempts := m.cfg.ConnectionAttempts
	if attempts < 1 {
		attempts = 1
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("quoteflow")
	amqpCfg := amqp.Config{
		Heartbeat:  m.cfg.Heartbeat,
		Properties: props,
	}
	if m.cfg.SocketTimeout > 0 {
		amqpCfg.Dial = amqp.DefaultDial(m.cfg.SocketTimeout)
	}

	url := m.cfg.URL
	if url == "" {
		url = m.cfg.AMQPURL()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		conn, err := m.dial(url, amqpCfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		m.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("host", m.cfg.Host).
			Int("port", m.cfg.Port).
			Msg("rabbitmq dial failed")

		if attempt < attempts {
			if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: dial after %d attempt(s): %w", ErrUnavailable, attempts, lastErr)
}

// sleepCtx waits d or until ctx is done. A non-positive d does not wait but
// still reports a canceled ctx.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
