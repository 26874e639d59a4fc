package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/capital-ledger/logging"
)

const (
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client publishes to a durable topic exchange and redials when the
// connection drops.
type Client struct {
	url          string
	exchangeName string
	log          *logging.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewClient(url, exchangeName string, log *logging.Logger) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		log:          logging.OrNop(log).WithComponent(logging.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Publish sends body with the given routing key. On a connection error it
// reconnects once and retries.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.publishLocked(ctx, routingKey, body)
	if err == nil || !isConnectionError(err) {
		return err
	}

	c.log.WarnContext(ctx, "AMQP connection lost, reconnecting", logging.FieldError, err)
	c.closeLocked()
	if err := c.connect(); err != nil {
		return err
	}
	return c.publishLocked(ctx, routingKey, body)
}

func (c *Client) publishLocked(ctx context.Context, routingKey string, body []byte) error {
	if c.channel == nil {
		return fmt.Errorf("publish message: connection closed")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
