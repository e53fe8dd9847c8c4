// Package brokertest provides an in-memory RabbitMQ stand-in for unit tests.
//
// A Server keeps exchanges, queues and bindings across connections, routes
// published messages through direct bindings, and records acknowledgements.
// Rejected messages follow the queue's x-dead-letter-exchange argument.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/guttosm/quoteflow/internal/broker"
)

// Published is a message accepted by the server.
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

// Ack is one acknowledgement received from a consumer.
type Ack struct {
	Kind    string // ack | nack | reject
	Tag     uint64
	Requeue bool
}

type binding struct {
	queue, key, exchange string
}

type consumer struct {
	tag     string
	queue   string
	autoAck bool
	owner   *Channel
	ch      chan amqp.Delivery
}

type unacked struct {
	queue string
	d     amqp.Delivery
}

// Server is the shared broker state. Exported knobs must be set before use.
type Server struct {
	// FailDials makes the first N dials fail.
	FailDials int
	// ChannelErr fails Connection.Channel.
	ChannelErr error
	// DeclareErr fails every declare/bind call.
	DeclareErr error
	// PublishErr fails every publish.
	PublishErr error
	// ConsumeErr fails every Consume.
	ConsumeErr error
	// NackPublishes makes publisher confirms negative.
	NackPublishes bool

	mu        sync.Mutex
	dials     int
	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  map[binding]struct{}
	pending   map[string][]amqp.Delivery
	consumers map[string]*consumer
	inflight  map[uint64]unacked
	nextTag   uint64
	published []Published
	acks      []Ack
	conns     []*Connection
}

// NewServer returns an empty broker.
func NewServer() *Server {
	return &Server{
		exchanges: map[string]string{},
		queues:    map[string]amqp.Table{},
		bindings:  map[binding]struct{}{},
		pending:   map[string][]amqp.Delivery{},
		consumers: map[string]*consumer{},
		inflight:  map[uint64]unacked{},
	}
}

// Dial satisfies broker.Dialer.
func (s *Server) Dial(_ string, _ amqp.Config) (broker.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.dials <= s.FailDials {
		return nil, fmt.Errorf("dial %d: connection refused", s.dials)
	}
	c := &Connection{s: s}
	s.conns = append(s.conns, c)
	return c, nil
}

// Dials reports how many dials were attempted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Connections returns every connection handed out.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Connection(nil), s.conns...)
}

// Published returns the accepted messages in order.
func (s *Server) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Published(nil), s.published...)
}

// Acks returns the acknowledgements in the order received.
func (s *Server) Acks() []Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ack(nil), s.acks...)
}

// ExchangeKind returns the declared kind of name, or "" when undeclared.
func (s *Server) ExchangeKind(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges[name]
}

// QueueArgs returns the arguments queue was declared with and whether it exists.
func (s *Server) QueueArgs(name string) (amqp.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args, ok := s.queues[name]
	return args, ok
}

// Bound reports whether queue is bound to exchange under key.
func (s *Server) Bound(queue, key, exchange string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[binding{queue, key, exchange}]
	return ok
}

// Bindings counts distinct bindings.
func (s *Server) Bindings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Ready counts messages waiting in queue with no consumer attached.
func (s *Server) Ready(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[queue])
}

// Messages returns the messages waiting in queue.
func (s *Server) Messages(queue string) []amqp.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]amqp.Delivery(nil), s.pending[queue]...)
}

// Deliver places msg directly on queue, bypassing exchanges.
func (s *Server) Deliver(queue string, msg amqp.Publishing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueue(queue, "", queue, msg)
}

// DropConsumers simulates a lost connection: every consumer's delivery channel
// is closed and the owning channels and connections report closed.
func (s *Server) DropConsumers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q, c := range s.consumers {
		close(c.ch)
		delete(s.consumers, q)
		c.owner.closed = true
		c.owner.conn.closed = true
	}
}

// Consumers counts active subscriptions.
func (s *Server) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

func (s *Server) route(exchange, key string, msg amqp.Publishing) {
	for b := range s.bindings {
		if b.exchange == exchange && b.key == key {
			s.enqueue(b.queue, exchange, key, msg)
		}
	}
}

func (s *Server) enqueue(queue, exchange, key string, msg amqp.Publishing) {
	s.nextTag++
	d := amqp.Delivery{
		Acknowledger: s,
		DeliveryTag:  s.nextTag,
		Exchange:     exchange,
		RoutingKey:   key,
		ContentType:  msg.ContentType,
		DeliveryMode: msg.DeliveryMode,
		MessageId:    msg.MessageId,
		Timestamp:    msg.Timestamp,
		Headers:      msg.Headers,
		Body:         msg.Body,
	}
	if c, ok := s.consumers[queue]; ok {
		s.dispatch(c, d)
		return
	}
	s.pending[queue] = append(s.pending[queue], d)
}

func (s *Server) dispatch(c *consumer, d amqp.Delivery) {
	d.ConsumerTag = c.tag
	if !c.autoAck {
		s.inflight[d.DeliveryTag] = unacked{queue: c.queue, d: d}
	}
	select {
	case c.ch <- d:
	default:
		// Buffer full: keep it ready for the next subscriber.
		s.pending[c.queue] = append(s.pending[c.queue], d)
		delete(s.inflight, d.DeliveryTag)
	}
}

// Ack implements amqp.Acknowledger.
func (s *Server) Ack(tag uint64, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[tag]; !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(s.inflight, tag)
	s.acks = append(s.acks, Ack{Kind: "ack", Tag: tag})
	return nil
}

// Nack implements amqp.Acknowledger.
func (s *Server) Nack(tag uint64, _ bool, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, Ack{Kind: "nack", Tag: tag, Requeue: requeue})
	return s.settle(tag, requeue)
}

// Reject implements amqp.Acknowledger.
func (s *Server) Reject(tag uint64, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, Ack{Kind: "reject", Tag: tag, Requeue: requeue})
	return s.settle(tag, requeue)
}

func (s *Server) settle(tag uint64, requeue bool) error {
	u, ok := s.inflight[tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(s.inflight, tag)

	msg := amqp.Publishing{
		ContentType:  u.d.ContentType,
		DeliveryMode: u.d.DeliveryMode,
		MessageId:    u.d.MessageId,
		Timestamp:    u.d.Timestamp,
		Headers:      u.d.Headers,
		Body:         u.d.Body,
	}
	if requeue {
		s.enqueue(u.queue, u.d.Exchange, u.d.RoutingKey, msg)
		return nil
	}
	if dlx, ok := s.queues[u.queue]["x-dead-letter-exchange"].(string); ok && dlx != "" {
		s.route(dlx, u.d.RoutingKey, msg)
	}
	return nil
}

// Connection is a fake broker.Connection.
type Connection struct {
	s        *Server
	closed   bool
	channels []*Channel
}

// Channel opens a fake channel.
func (c *Connection) Channel() (broker.Channel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.s.ChannelErr != nil {
		return nil, c.s.ChannelErr
	}
	ch := &Channel{s: c.s, conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// IsClosed reports whether Close was called or the connection was dropped.
func (c *Connection) IsClosed() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.closed
}

// Close closes the connection and all its channels.
func (c *Connection) Close() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	for _, ch := range c.channels {
		ch.closeLocked()
	}
	c.closed = true
	return nil
}

// Channels returns the channels opened on c.
func (c *Connection) Channels() []*Channel {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

// Channel is a fake broker.Channel.
type Channel struct {
	s        *Server
	conn     *Connection
	closed   bool
	confirm  bool
	notify   []chan amqp.Confirmation
	seq      uint64
	prefetch int
}

var errPrecondition = errors.New("PRECONDITION_FAILED - inequivalent arg")

func (ch *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.s.DeclareErr != nil {
		return ch.s.DeclareErr
	}
	if existing, ok := ch.s.exchanges[name]; ok && existing != kind {
		return errPrecondition
	}
	ch.s.exchanges[name] = kind
	return nil
}

func (ch *Channel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if ch.s.DeclareErr != nil {
		return amqp.Queue{}, ch.s.DeclareErr
	}
	if existing, ok := ch.s.queues[name]; ok && existing["x-dead-letter-exchange"] != args["x-dead-letter-exchange"] {
		return amqp.Queue{}, errPrecondition
	}
	ch.s.queues[name] = args
	return amqp.Queue{Name: name, Messages: len(ch.s.pending[name])}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.s.DeclareErr != nil {
		return ch.s.DeclareErr
	}
	if _, ok := ch.s.queues[name]; !ok {
		return fmt.Errorf("NOT_FOUND - no queue '%s'", name)
	}
	if _, ok := ch.s.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}
	ch.s.bindings[binding{name, key, exchange}] = struct{}{}
	return nil
}

func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *Channel) Confirm(_ bool) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *Channel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		close(c)
		return c
	}
	ch.notify = append(ch.notify, c)
	return c
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.s.PublishErr != nil {
		return ch.s.PublishErr
	}
	if _, ok := ch.s.exchanges[exchange]; !ok && exchange != "" {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}

	ch.s.published = append(ch.s.published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})
	if !ch.s.NackPublishes {
		ch.s.route(exchange, key, msg)
	}

	if ch.confirm {
		ch.seq++
		for _, n := range ch.notify {
			select {
			case n <- amqp.Confirmation{DeliveryTag: ch.seq, Ack: !ch.s.NackPublishes}:
			default:
			}
		}
	}
	return nil
}

func (ch *Channel) Consume(queue, tag string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if ch.s.ConsumeErr != nil {
		return nil, ch.s.ConsumeErr
	}
	if _, ok := ch.s.queues[queue]; !ok {
		return nil, fmt.Errorf("NOT_FOUND - no queue '%s'", queue)
	}
	if _, busy := ch.s.consumers[queue]; busy {
		return nil, fmt.Errorf("queue '%s' already has a consumer", queue)
	}

	c := &consumer{tag: tag, queue: queue, autoAck: autoAck, owner: ch, ch: make(chan amqp.Delivery, 256)}
	ch.s.consumers[queue] = c
	ready := ch.s.pending[queue]
	delete(ch.s.pending, queue)
	for _, d := range ready {
		ch.s.dispatch(c, d)
	}
	return c.ch, nil
}

func (ch *Channel) Cancel(tag string, _ bool) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	for q, c := range ch.s.consumers {
		if c.owner == ch && c.tag == tag {
			close(c.ch)
			delete(ch.s.consumers, q)
		}
	}
	return nil
}

func (ch *Channel) IsClosed() bool {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	return ch.closed
}

func (ch *Channel) Close() error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked()
	return nil
}

// Prefetch returns the Qos prefetch count last applied.
func (ch *Channel) Prefetch() int {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()
	return ch.prefetch
}

// closeLocked releases consumers and confirm listeners; caller holds s.mu.
func (ch *Channel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	for q, c := range ch.s.consumers {
		if c.owner == ch {
			close(c.ch)
			delete(ch.s.consumers, q)
		}
	}
	for _, n := range ch.notify {
		close(n)
	}
	ch.notify = nil
}
