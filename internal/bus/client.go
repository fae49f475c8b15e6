package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shuttleday/platform/internal/metrics"
)

// State is the connection lifecycle of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config controls a bus client. One client (and therefore one connection and
// one channel) is expected per process.
type Config struct {
	URL      string
	Exchange string
	// Service is the origin service name stamped into envelopes and used as
	// the consumer tag.
	Service string
	// Queue and BindingKeys describe the topology this process depends on;
	// they are asserted at connect time when AutoBind is set, and re-asserted
	// by the one-shot self-heal pass when a mandatory publish is returned.
	Queue       string
	BindingKeys []string
	AutoBind    bool

	RetryInterval time.Duration
	LogPayload    bool
	MaxLogBytes   int
	// PreAckDelay delays acknowledgements to make backpressure observable in
	// tests. Production default is zero.
	PreAckDelay time.Duration
}

// Handler processes one delivery. A non-nil error marks the message as poison:
// it is negatively acknowledged without requeue.
type Handler func(ctx context.Context, routingKey string, env Envelope) error

// channel is the subset of *amqp.Channel the client uses; narrowed so the
// publish paths can be exercised without a broker.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type outgoing struct {
	key  string
	body []byte
}

// Client is a reusable event bus client: one durable topic-exchange publisher
// plus consumer bound to a single broker connection, with lazy reconnect.
//
// Publishes made while disconnected are buffered in memory and flushed
// strictly in enqueue order once connectivity returns. Messages are lost only
// if the process dies while buffering; that degradation is deliberate and
// logged, never silent.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	conn   *amqp.Connection
	ch     channel
	buffer []outgoing
	healed bool

	done chan struct{}
}

// NewClient creates a bus client. Call Start to begin connecting.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.MaxLogBytes <= 0 {
		cfg.MaxLogBytes = 2048
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "bus", "broker", maskURL(cfg.URL)),
		done:   make(chan struct{}),
	}
}

// Start launches the connection manager. It returns immediately; publishes
// made before the first successful connect are buffered.
func (c *Client) Start(ctx context.Context) {
	go c.manage(ctx)
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.state = StateDisconnected
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Publish wraps data in the standard envelope and hands it to the broker with
// the routing key "event.<eventType>", marked persistent and mandatory.
// While disconnected the message is buffered; the only error returned is a
// marshal failure of the payload itself.
func (c *Client) Publish(ctx context.Context, eventType string, data any) error {
	env, err := NewEnvelope(eventType, c.cfg.Service, data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	key := RoutingKey(eventType)

	c.mu.Lock()
	if c.state != StateConnected {
		c.buffer = append(c.buffer, outgoing{key: key, body: body})
		n := len(c.buffer)
		c.mu.Unlock()
		metrics.BusBuffered(n)
		metrics.BusPublished(eventType, "buffered")
		c.logger.Warn("broker not connected, message buffered", "routing_key", key, "buffered", n)
		return nil
	}
	ch := c.ch
	c.mu.Unlock()

	if err := c.publishRaw(ctx, ch, key, body); err != nil {
		// The channel died under us; keep the message and let the manager
		// reconnect and flush.
		c.mu.Lock()
		c.buffer = append(c.buffer, outgoing{key: key, body: body})
		n := len(c.buffer)
		c.mu.Unlock()
		metrics.BusBuffered(n)
		metrics.BusPublished(eventType, "buffered")
		c.logger.Warn("publish failed, message buffered", "routing_key", key, "error", err)
		return nil
	}

	metrics.BusPublished(eventType, "ok")
	if c.cfg.LogPayload {
		c.logger.Debug("published", "routing_key", key, "payload", truncate(body, c.cfg.MaxLogBytes))
	} else {
		c.logger.Debug("published", "routing_key", key)
	}
	return nil
}

func (c *Client) publishRaw(ctx context.Context, ch channel, key string, body []byte) error {
	return ch.PublishWithContext(ctx, c.cfg.Exchange, key, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// manage owns the reconnect state machine: disconnected -> connecting ->
// connected, back to disconnected on channel/connection loss. Retries forever
// at a fixed interval; the broker is assumed to eventually recover.
func (c *Client) manage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.setState(StateConnecting)
		conn, ch, err := c.connect()
		if err != nil {
			c.setState(StateDisconnected)
			c.logger.Warn("broker connect failed", "error", err, "retry_in", c.cfg.RetryInterval)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		returns := ch.NotifyReturn(make(chan amqp.Return, 16))
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		c.mu.Lock()
		c.conn = conn
		c.ch = ch
		c.state = StateConnected
		pending := c.buffer
		c.buffer = nil
		c.mu.Unlock()
		metrics.BusBuffered(0)
		c.logger.Info("broker connected", "exchange", c.cfg.Exchange, "buffered", len(pending))

		go c.watchReturns(returns)
		c.flush(ctx, ch, pending)

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-c.done:
			return
		case amqpErr := <-closed:
			c.setState(StateDisconnected)
			c.logger.Warn("broker connection lost", "error", amqpErr, "retry_in", c.cfg.RetryInterval)
			if !c.sleep(ctx) {
				return
			}
		}
	}
}

func (c *Client) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	if c.cfg.AutoBind && c.cfg.Queue != "" {
		if err := c.assertTopology(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return conn, ch, nil
}

// assertTopology declares the configured queue and its bindings.
func (c *Client) assertTopology(ch channel) error {
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	for _, key := range c.cfg.BindingKeys {
		if err := ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", c.cfg.Queue, key, err)
		}
	}
	return nil
}

// flush drains buffered messages strictly in enqueue order. Anything that
// still cannot be delivered goes back to the front of the buffer.
func (c *Client) flush(ctx context.Context, ch channel, pending []outgoing) {
	for i, msg := range pending {
		if err := c.publishRaw(ctx, ch, msg.key, msg.body); err != nil {
			c.mu.Lock()
			c.buffer = append(pending[i:], c.buffer...)
			n := len(c.buffer)
			c.mu.Unlock()
			metrics.BusBuffered(n)
			c.logger.Warn("flush interrupted", "remaining", n, "error", err)
			return
		}
	}
	if len(pending) > 0 {
		c.logger.Info("flushed buffered messages", "count", len(pending))
	}
}

func (c *Client) watchReturns(returns chan amqp.Return) {
	for r := range returns {
		c.handleReturn(r)
	}
}

// handleReturn deals with an unroutable mandatory publish. The first return
// triggers a single self-heal pass: re-assert the expected queue and bindings,
// then retry the exact original payload once. The guard flag makes sure this
// can never loop; later returns are logged as dropped.
func (c *Client) handleReturn(r amqp.Return) {
	c.mu.Lock()
	already := c.healed
	c.healed = true
	ch := c.ch
	c.mu.Unlock()

	if already {
		metrics.BusPublished(r.RoutingKey, "unroutable")
		c.logger.Error("unroutable message dropped after self-heal already ran",
			"routing_key", r.RoutingKey, "reply", r.ReplyText)
		return
	}

	c.logger.Warn("mandatory publish returned, running self-heal rebind",
		"routing_key", r.RoutingKey, "reply", r.ReplyText)
	if ch == nil {
		return
	}
	if err := c.assertTopology(ch); err != nil {
		c.logger.Error("self-heal rebind failed", "error", err)
		return
	}
	if err := c.publishRaw(context.Background(), ch, r.RoutingKey, r.Body); err != nil {
		c.logger.Error("self-heal republish failed", "routing_key", r.RoutingKey, "error", err)
		return
	}
	c.logger.Info("self-heal republished message", "routing_key", r.RoutingKey)
}

// Consume binds a durable queue to the given routing keys and feeds each
// delivery to handler, at most prefetch unacknowledged at a time. Handler
// success acks; handler failure nacks without requeue so a poison message
// cannot loop. Blocks until ctx is done, reconnecting as needed.
func (c *Client) Consume(ctx context.Context, queue string, keys []string, prefetch int, handler Handler) error {
	if prefetch <= 0 {
		prefetch = 8
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		ch := c.currentChannel()
		if ch == nil {
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := c.runConsumer(ctx, ch, queue, keys, prefetch, handler); err != nil {
			c.logger.Warn("consumer stopped", "queue", queue, "error", err, "retry_in", c.cfg.RetryInterval)
			if !c.sleep(ctx) {
				return ctx.Err()
			}
		}
	}
}

func (c *Client) runConsumer(ctx context.Context, ch channel, queue string, keys []string, prefetch int, handler Handler) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s key %s: %w", queue, key, err)
		}
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, c.cfg.Service, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	c.logger.Info("consuming", "queue", queue, "keys", keys, "prefetch", prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	if c.cfg.LogPayload {
		c.logger.Debug("delivery", "queue", queue, "routing_key", d.RoutingKey,
			"payload", truncate(d.Body, c.cfg.MaxLogBytes))
	}

	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		metrics.BusConsumed(queue, "poison")
		c.logger.Error("malformed envelope, dropping", "queue", queue, "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, d.RoutingKey, env); err != nil {
		metrics.BusConsumed(queue, "failed")
		c.logger.Error("handler failed, dropping delivery",
			"queue", queue, "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if c.cfg.PreAckDelay > 0 {
		time.Sleep(c.cfg.PreAckDelay)
	}
	metrics.BusConsumed(queue, "ok")
	_ = d.Ack(false)
}

func (c *Client) currentChannel() channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.ch
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sleep waits one retry interval; false means the client is shutting down.
func (c *Client) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-time.After(c.cfg.RetryInterval):
		return true
	}
}
