package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RoutingKeyPrefix prefixes the resource type in event routing keys.
const RoutingKeyPrefix = "hue.event."

// ResourceEvent is the message published for every stored event
type ResourceEvent struct {
	ID           int64           `json:"id"`
	Timestamp    string          `json:"ts"`
	ResourceID   string          `json:"rid"`
	ResourceType string          `json:"rtype"`
	Raw          json.RawMessage `json:"raw"`
}

// RoutingKey returns the topic routing key for the event's resource type.
func (e ResourceEvent) RoutingKey() string {
	rtype := strings.TrimSpace(e.ResourceType)
	if rtype == "" {
		rtype = "unknown"
	}
	return RoutingKeyPrefix + rtype
}

// channel is the subset of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	channel  channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishEvent publishes a stored resource event
func (p *Publisher) PublishEvent(ctx context.Context, event ResourceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := event.RoutingKey()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published resource event",
		zap.String("routing_key", routingKey),
		zap.Int64("event_id", event.ID),
		zap.String("resource_id", event.ResourceID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// Discard is a publisher that drops every event; wired when RabbitMQ is not configured.
type Discard struct{}

// PublishEvent implements the publisher contract without side effects.
func (Discard) PublishEvent(context.Context, ResourceEvent) error { return nil }

// Close is a no-op.
func (Discard) Close() error { return nil }
