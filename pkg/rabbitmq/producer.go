/**
 * @description
 * This package provides a simple producer for publishing pot lifecycle
 * events to RabbitMQ. It encapsulates the logic for connecting to RabbitMQ
 * and publishing a message to a durable topic exchange.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// PotEventsExchange is the topic exchange all pot lifecycle events go to.
const PotEventsExchange = "pot_events"

// Routing keys for the pot lifecycle events.
const (
	RoutingKeyPotClosed     = "pot.closed"
	RoutingKeyCycleClosed   = "pot.cycle.closed"
	RoutingKeyRefundCreated = "pot.refund.created"
)

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishPotClosed(ctx context.Context, event domain.PotClosedEvent) error
	PublishCycleClosed(ctx context.Context, event domain.CycleClosedEvent) error
	PublishRefundCreated(ctx context.Context, event domain.RefundCreatedEvent) error
	Close()
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not
// reachable at startup. Demo mode keeps working without a broker.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("rabbitmq producer fallback: skipping publish to exchange %s with key %s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishPotClosed(ctx context.Context, event domain.PotClosedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyPotClosed, event)
}

func (p *EventProducerFallback) PublishCycleClosed(ctx context.Context, event domain.CycleClosedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyCycleClosed, event)
}

func (p *EventProducerFallback) PublishRefundCreated(ctx context.Context, event domain.RefundCreatedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyRefundCreated, event)
}

func (p *EventProducerFallback) Close() {}

// sanitizeAMQPURL trims whitespace and stray quotes that sneak into env vars
// on some deploy platforms, and validates the scheme before dialing.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer connected to the
// given AMQP URL.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
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

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key. The
// exchange is declared durable and of type "topic" on every publish, which
// is idempotent and keeps the producer independent of broker provisioning.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return err
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("Error marshalling event body for key %s: %v", routingKey, err)
		return err
	}

	publishing := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing); err != nil {
		// One retry on a fresh channel covers the common case of a channel
		// closed by a prior protocol error.
		log.Printf("Publish to %s failed, retrying on a new channel: %v", routingKey, err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
	}
	return nil
}

// PublishPotClosed publishes the terminal close of a one-time pot.
func (p *EventProducer) PublishPotClosed(ctx context.Context, event domain.PotClosedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyPotClosed, event)
}

// PublishCycleClosed publishes the settlement of a recurring pot's cycle.
func (p *EventProducer) PublishCycleClosed(ctx context.Context, event domain.CycleClosedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyCycleClosed, event)
}

// PublishRefundCreated publishes one computed refund for the payment bridge
// to execute asynchronously.
func (p *EventProducer) PublishRefundCreated(ctx context.Context, event domain.RefundCreatedEvent) error {
	return p.Publish(ctx, PotEventsExchange, RoutingKeyRefundCreated, event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
