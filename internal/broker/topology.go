package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the broker objects the pipeline relies on.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	// DeadLetter adds <exchange>.dlx and <queue>.dead; messages rejected without
	// requeue are routed there instead of being discarded.
	DeadLetter bool
}

// DeadLetterExchange is the exchange rejected messages are republished to.
func (t Topology) DeadLetterExchange() string { return t.Exchange + ".dlx" }

// DeadLetterQueue holds rejected messages for inspection.
func (t Topology) DeadLetterQueue() string { return t.Queue + ".dead" }

// DeclareTopology declares every exchange, queue and binding of t on ch.
//
// It is the only place topology is declared, for producers and consumers alike.
// All objects are durable, and declare/bind operations are no-ops on the broker when
// the objects already exist with the same arguments, so it is safe to call on every
// connection.
func DeclareTopology(ch Channel, t Topology) error {
	var queueArgs amqp.Table

	if t.DeadLetter {
		dlx, dlq := t.DeadLetterExchange(), t.DeadLetterQueue()
		if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", dlx, err)
		}
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, t.RoutingKey, dlx, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", dlq, dlx, err)
		}
		queueArgs = amqp.Table{"x-dead-letter-exchange": dlx}
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", t.Queue, t.Exchange, err)
	}
	return nil
}
