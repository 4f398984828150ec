package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"logrelay/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConnector publishes each batch as one JSON message to an exchange.
// The connection is opened on the first post and dropped after any
// failure so the next attempt reconnects.
type AMQPConnector struct {
	url          string
	exchange     string
	exchangeType string
	routingKey   string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPConnector creates an unconnected publisher. The exchange type
// defaults to fanout.
func NewAMQPConnector(url, exchange, exchangeType, routingKey string) *AMQPConnector {
	if exchangeType == "" {
		exchangeType = amqp.ExchangeFanout
	}
	return &AMQPConnector{
		url:          url,
		exchange:     exchange,
		exchangeType: exchangeType,
		routingKey:   routingKey,
	}
}

func (c *AMQPConnector) connect() error {
	if c.channel != nil {
		return nil
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		c.exchange,     // name
		c.exchangeType, // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn, c.channel = conn, ch
	return nil
}

func (c *AMQPConnector) Post(ctx context.Context, batch []models.Record) error {
	if c.url == "" || c.exchange == "" {
		return fmt.Errorf("amqp connector: %w", ErrNotConfigured)
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.exchange,   // exchange
		c.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.reset()
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	return nil
}

func (c *AMQPConnector) reset() error {
	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	c.conn, c.channel = nil, nil
	return errors.Join(errs...)
}

// Close drops the broker connection.
func (c *AMQPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset()
}
