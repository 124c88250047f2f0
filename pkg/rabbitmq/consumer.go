/**
 * @description
 * This file provides a generic RabbitMQ consumer. It connects to the broker,
 * declares a durable queue bound to the routing keys it was given, and
 * dispatches deliveries to per-key handlers. Handlers return true to ack the
 * message and false to nack it back onto the queue.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one delivery body. The returned bool decides the
// acknowledgement: true acks, false requeues.
type MessageHandler interface {
	HandleMessage(body []byte) bool
}

// Binding ties a routing key on an exchange to its handler.
type Binding struct {
	Exchange   string
	RoutingKey string
	Handler    MessageHandler
}

// Consumer holds the connection state for a single queue consumer.
type Consumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	bindings  []Binding
}

// NewConsumer connects to RabbitMQ, declares the queue and its bindings, and
// returns a Consumer ready to Start.
func NewConsumer(amqpURL, queueName string, bindings []Binding) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{
		Dial: amqp091.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	for _, b := range bindings {
		if err := ch.ExchangeDeclare(b.Exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
		if err := ch.QueueBind(queueName, b.RoutingKey, b.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	return &Consumer{conn: conn, channel: ch, queueName: queueName, bindings: bindings}, nil
}

// Start begins consuming deliveries until the context is cancelled. It runs
// the dispatch loop in the calling goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return err
	}

	handlers := make(map[string]MessageHandler, len(c.bindings))
	for _, b := range c.bindings {
		handlers[b.RoutingKey] = b.Handler
	}

	log.Printf("RabbitMQ consumer started on queue %s", c.queueName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				log.Printf("RabbitMQ delivery channel closed for queue %s", c.queueName)
				return amqp091.ErrClosed
			}
			handler, found := handlers[d.RoutingKey]
			if !found {
				log.Printf("No handler for routing key %s, dropping message", d.RoutingKey)
				d.Ack(false)
				continue
			}
			if handler.HandleMessage(d.Body) {
				d.Ack(false)
			} else {
				d.Nack(false, true)
			}
		}
	}
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
