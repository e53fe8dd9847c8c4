package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/internal/broker"
	"github.com/guttosm/quoteflow/internal/domain/models"
	"github.com/guttosm/quoteflow/internal/ingestion"
	"github.com/guttosm/quoteflow/internal/logger"
)

// Handler processes one decoded envelope; ingestion.Processor satisfies it.
type Handler interface {
	Process(ctx context.Context, env models.Envelope) (ingestion.Result, error)
}

// Sessions opens and releases broker sessions; *broker.Manager satisfies it.
type Sessions interface {
	Open(ctx context.Context) (*broker.Session, error)
	Close(s *broker.Session)
}

// Consumer reads envelopes from the queue one at a time and hands them to a Handler.
type Consumer struct {
	sessions Sessions
	handler  Handler
	cfg      config.ConsumerConfig
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// NewConsumer builds a Consumer. cfg.AckMode selects the acknowledgement policy.
func NewConsumer(sessions Sessions, handler Handler, cfg config.ConsumerConfig) *Consumer {
	return &Consumer{
		sessions: sessions,
		handler:  handler,
		cfg:      cfg,
		sleep:    sleepCtx,
		log:      logger.Component("consumer"),
	}
}

// Run consumes until ctx is canceled and then returns nil.
//
// A failure to subscribe at startup is returned. If the delivery channel closes
// later, Run reconnects every ReconnectDelay until it succeeds or ctx is done.
// Processing errors are logged and never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	s, deliveries, err := c.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	c.log.Info().
		Str("tag", c.cfg.Tag).
		Str("ack_mode", c.cfg.AckMode).
		Int("prefetch", c.cfg.Prefetch).
		Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown(s)
			return nil

		case d, ok := <-deliveries:
			if !ok {
				c.sessions.Close(s)
				if ctx.Err() != nil {
					return nil
				}
				c.log.Warn().Dur("retry_in", c.cfg.ReconnectDelay).Msg("delivery channel closed, reconnecting")
				s, deliveries, err = c.reconnect(ctx)
				if err != nil {
					return nil
				}
				c.log.Info().Str("tag", c.cfg.Tag).Msg("consumer resubscribed")
				continue
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) autoAck() bool { return c.cfg.AckMode == config.AckOnReceive }

func (c *Consumer) subscribe(ctx context.Context) (*broker.Session, <-chan amqp.Delivery, error) {
	s, err := c.sessions.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := s.Consume(ctx, broker.ConsumeOptions{
		Tag:      c.cfg.Tag,
		AutoAck:  c.autoAck(),
		Prefetch: c.cfg.Prefetch,
	})
	if err != nil {
		c.sessions.Close(s)
		return nil, nil, err
	}
	return s, deliveries, nil
}

// reconnect retries subscribe until it succeeds; it only fails when ctx is done.
func (c *Consumer) reconnect(ctx context.Context) (*broker.Session, <-chan amqp.Delivery, error) {
	for {
		if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return nil, nil, err
		}
		s, deliveries, err := c.subscribe(ctx)
		if err == nil {
			return s, deliveries, nil
		}
		c.log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("resubscribe failed")
	}
}

func (c *Consumer) shutdown(s *broker.Session) {
	if err := s.Cancel(c.cfg.Tag); err != nil {
		c.log.Warn().Err(err).Msg("cancel consumer")
	}
	c.sessions.Close(s)
	c.log.Info().Str("tag", c.cfg.Tag).Msg("consumer stopped")
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.log.With().
		Uint64("delivery_tag", d.DeliveryTag).
		Str("message_id", d.MessageId).
		Logger()
	log.Info().Int("bytes", len(d.Body)).Msg("message received")

	var env models.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Error().Err(err).Str("body", string(d.Body)).Msg("cannot decode envelope")
		c.settle(log, "reject", func() error { return d.Reject(false) })
		return
	}
	if env.Filename == "" {
		env.Filename = models.DefaultFilename
	}
	env.MessageID = d.MessageId

	res, err := c.handler.Process(ctx, env)
	if err != nil {
		log.Error().Err(err).Str("file", env.Filename).Msg("processing failed")
		// Interrupted by shutdown: give the message back instead of dead-lettering it.
		requeue := ctx.Err() != nil
		c.settle(log, "nack", func() error { return d.Nack(false, requeue) })
		return
	}

	log.Info().
		Str("file", env.Filename).
		Int("parsed", res.Parsed).
		Int("inserted", res.Inserted).
		Bool("duplicate", res.Duplicate).
		Msg("message processed")
	c.settle(log, "ack", func() error { return d.Ack(false) })
}

// settle sends the acknowledgement unless the broker already auto-acked.
func (c *Consumer) settle(log zerolog.Logger, kind string, fn func() error) {
	if c.autoAck() {
		return
	}
	if err := fn(); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("acknowledge failed")
	}
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
