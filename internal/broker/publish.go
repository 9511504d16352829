package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp091.Channel the publisher needs. Narrowed
// to an interface so callers can fake it in tests without a broker.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher marshals records to JSON and publishes them to one exchange
// as persistent messages, routed by whatever key the caller supplies.
type Publisher struct {
	ch       Channel
	exchange string
}

// NewPublisher builds a Publisher bound to one channel and exchange. The
// channel is expected to be dedicated to publishing: amqp091 channels are
// not safe for concurrent use, and this type does not add its own
// locking, matching how the donor's client wrappers leave concurrency
// control to the caller.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Publish marshals v to JSON and publishes it under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message for %s: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", routingKey, err)
	}

	return nil
}
