package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	DefaultExchange       = "agenda.events"
	DefaultPublishTimeout = 5 * time.Second
)

// Handler processes one delivery. A returned error nacks the message.
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Client publishes to and consumes from a topic exchange.
type Client struct {
	conn           *amqp.Connection
	ch             Channel
	exchange       string
	publishTimeout time.Duration
	logger         zerolog.Logger

	wg sync.WaitGroup
}

type Option func(*Client)

func WithPublishTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	c, err := NewClient(ch, exchange, logger, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// NewClient wraps an open channel.
func NewClient(ch Channel, exchange string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	c := &Client{
		ch:             ch,
		exchange:       exchange,
		publishTimeout: DefaultPublishTimeout,
		logger:         logger.With().Str("component", "amqp").Str("exchange", exchange).Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return c, nil
}

// Publish sends a persistent JSON message with the given routing key.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	err := c.ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Subscribe binds a queue to the exchange and dispatches deliveries to h
// until ctx is done or the channel closes. An empty queue name declares an
// exclusive server-named queue, so every instance receives every message.
func (c *Client) Subscribe(ctx context.Context, queue, bindingKey string, h Handler) error {
	if bindingKey == "" {
		bindingKey = "#"
	}
	exclusive := queue == ""
	q, err := c.ch.QueueDeclare(queue, !exclusive, exclusive, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, bindingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := c.ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	c.logger.Info().Str("queue", q.Name).Str("binding", bindingKey).Msg("consumer started")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		dispatch(ctx, deliveries, h, c.logger.With().Str("queue", q.Name).Logger())
	}()
	return nil
}

func dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Warn().Msg("delivery channel closed")
				return
			}
			handle(ctx, msg, h, logger)
		}
	}
}

// handle acks on success. Failed messages are requeued once and dropped on
// the second failure.
func handle(ctx context.Context, msg amqp.Delivery, h Handler, logger zerolog.Logger) {
	if err := h(ctx, msg.RoutingKey, msg.Body); err != nil {
		logger.Error().Err(err).
			Str("routing_key", msg.RoutingKey).
			Bool("redelivered", msg.Redelivered).
			Msg("message handling failed")
		if nerr := msg.Nack(false, !msg.Redelivered); nerr != nil {
			logger.Error().Err(nerr).Msg("nack failed")
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error().Err(err).Str("routing_key", msg.RoutingKey).Msg("ack failed")
	}
}

// Check reports whether the broker connection is still open.
func (c *Client) Check(context.Context) error {
	if c.conn != nil && c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close shuts the channel and connection and waits for consumers to return.
func (c *Client) Close() error {
	err := c.ch.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	c.wg.Wait()
	return err
}
