// Package amqp publishes income and backup events to a RabbitMQ topic
// exchange and lets operators follow them.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"incomes/internal/log"
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrCircuitOpen is returned while publishing is suspended after repeated
// failures.
var ErrCircuitOpen = errors.New("amqp circuit breaker is open")

// Client publishes events to a durable topic exchange. A durable queue bound
// to every routing key keeps them for operators who are not listening live.
type Client struct {
	url      string
	exchange string
	queue    string
	logger   *log.Logger
	breaker  *breaker

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewClient dials url and declares the exchange, the queue and their binding.
func NewClient(url, exchange, queue string, logger *log.Logger) (*Client, error) {
	c := newClient(url, exchange, queue, logger)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(url, exchange, queue string, logger *log.Logger) *Client {
	return &Client{
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   logger.WithComponent(log.ComponentAMQP),
		breaker:  newBreaker(maxFailures, openTimeout),
	}
}

// connect must be called with mu held or before the client is shared.
func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	c.conn, c.channel = conn, ch

	if err := c.declareTopology(); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

func (c *Client) declareTopology() error {
	if err := c.channel.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := c.channel.QueueBind(c.queue, "#", c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", c.queue, err)
	}
	return nil
}

func (c *Client) PublishImportCompleted(ctx context.Context, msg *ImportCompletedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal import event: %w", err)
	}
	return c.publish(ctx, RoutingImportCompleted, body)
}

func (c *Client) PublishBackup(ctx context.Context, msg *BackupMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal backup event: %w", err)
	}
	return c.publish(ctx, msg.RoutingKey(), body)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.breaker.allow() {
		return fmt.Errorf("%w, dropping %s event", ErrCircuitOpen, routingKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() {
		c.closeLocked()
		if err := c.connect(); err != nil {
			c.recordFailure(err)
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		c.recordFailure(err)
		if isConnectionError(err) {
			c.closeLocked()
		}
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	c.breaker.success()
	c.logger.DebugContext(ctx, "Published event", "routing_key", routingKey, "exchange", c.exchange)
	return nil
}

func (c *Client) recordFailure(err error) {
	if c.breaker.failure() {
		_, n := c.breaker.current()
		c.logger.Warn("AMQP circuit breaker opened", "failures", n, log.FieldError, err)
	}
}

// Consume hands every queued event to handler until ctx is done. A handler
// error requeues the delivery once. When the broker drops the connection the
// client reconnects with backoff and resumes.
func (c *Client) Consume(ctx context.Context, handler func(routingKey string, body []byte) error) error {
	for {
		deliveries, err := c.startConsuming()
		if err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "Consuming events", "queue", c.queue)

		if err := c.drain(ctx, deliveries, handler); err != nil {
			return err
		}
		c.logger.WarnContext(ctx, "Delivery channel closed, reconnecting", "queue", c.queue)
		if err := c.WaitConnected(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) startConsuming() (<-chan amqp091.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, errors.New("amqp channel is not open")
	}
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain returns nil when the delivery channel closes and ctx.Err() when ctx is
// done.
func (c *Client) drain(ctx context.Context, deliveries <-chan amqp091.Delivery, handler func(string, []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := handler(d.RoutingKey, d.Body); err != nil {
				c.logger.ErrorContext(ctx, "Event handler failed", log.FieldError, err, "routing_key", d.RoutingKey)
				d.Nack(false, !d.Redelivered)
				continue
			}
			d.Ack(false)
		}
	}
}

// exponentialBackoff returns the delay before reconnect attempt n: 1s, 2s,
// 4s and so on, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	return min(time.Second<<attempt, maxBackoff)
}

// WaitConnected reconnects with exponential backoff until the channel is open
// or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.channel != nil && !c.channel.IsClosed() {
			c.mu.Unlock()
			return nil
		}
		c.closeLocked()
		err := c.connect()
		c.mu.Unlock()
		if err == nil {
			c.breaker.success()
			return nil
		}

		delay := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "AMQP connection failed, retrying", "attempt", attempt+1, "delay", delay, log.FieldError, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
