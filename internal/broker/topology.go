// Package broker wires the message broker: a connection/channel factory,
// a topology declarer, and a generic consume loop that bridges a blocking
// AMQP consumer into an asynchronous worker via two bounded hand-off
// channels.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bilusteknoloji/pipdepgraph/internal/config"
)

// Binding is one queue bound to the exchange by a routing-key pattern.
type Binding struct {
	Queue      string
	RoutingKey string
}

// Topology is the durable exchange and queue/binding set declared once
// per connection. The six queues and their patterns are fixed; only the
// exchange name and queue names are configurable.
func Topology(cfg config.Broker) (exchange string, bindings []Binding) {
	return cfg.Exchange, []Binding{
		{Queue: cfg.PackageNames.Name, RoutingKey: "package_name.#"},
		{Queue: cfg.Distributions.Name, RoutingKey: "distribution.#"},
		{Queue: cfg.ReprocessRequirements.Name, RoutingKey: "requirement.reprocess.#"},
		{Queue: cfg.CandidateCorrelation.Name, RoutingKey: "requirement.correlate.#"},
		{Queue: cfg.CdcVersions.Name, RoutingKey: "cdc.public.versions.#"},
		{Queue: cfg.CdcRequirements.Name, RoutingKey: "cdc.public.requirements.#"},
	}
}

// Declare declares the durable topic exchange and every durable queue and
// binding in the topology. Idempotent: safe to call once per process on
// every fresh channel.
func Declare(ch *amqp.Channel, cfg config.Broker) error {
	exchange, bindings := Topology(cfg)

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring queue %s: %w", b.Queue, err)
		}

		if err := ch.QueueBind(b.Queue, b.RoutingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("binding queue %s to %s: %w", b.Queue, b.RoutingKey, err)
		}
	}

	return nil
}

// DialURL builds the amqp091 connection URL from config.
func DialURL(cfg config.Broker) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)
}

// Dial opens a connection and declares the topology on a throwaway
// channel before returning.
func Dial(cfg config.Broker) (*amqp.Connection, error) {
	conn, err := amqp.Dial(DialURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := Declare(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Close(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("closing setup channel: %w", err)
	}

	return conn, nil
}
