// Package publish builds the routing keys and message bodies for every
// outbound message kind and publishes them through internal/broker.
package publish

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
)

// Conn opens a fresh channel for a service method called without one.
// *amqp091.Connection satisfies this through AMQPConn below; tests supply
// their own fake.
type Conn interface {
	Channel() (broker.Channel, error)
}

// AMQPConn adapts a live *amqp091.Connection to Conn.
func AMQPConn(conn *amqp.Connection) Conn {
	return amqpConn{conn}
}

type amqpConn struct {
	conn *amqp.Connection
}

func (a amqpConn) Channel() (broker.Channel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// Service publishes every outbound message kind onto one exchange. Each
// method accepts an optional channel: nil means the service opens and
// closes its own channel for that one call, letting low-volume callers
// (a one-shot loader) skip channel lifecycle management entirely while
// high-volume callers (a subscriber republishing per message) reuse one.
type Service struct {
	conn     Conn
	exchange string
}

// New builds a Service bound to conn and exchange.
func New(conn Conn, exchange string) *Service {
	return &Service{conn: conn, exchange: exchange}
}

type closableChannel interface {
	broker.Channel
	Close() error
}

// withChannel runs fn against ch if supplied, else opens and closes a
// fresh channel around fn.
func (s *Service) withChannel(ch broker.Channel, fn func(broker.Channel) error) error {
	if ch != nil {
		return fn(ch)
	}

	fresh, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("publish: opening channel: %w", err)
	}

	if closable, ok := fresh.(closableChannel); ok {
		defer func() { _ = closable.Close() }()
	}

	return fn(fresh)
}

// PublishPackageName publishes one discovered or recheck-worthy package name.
func (s *Service) PublishPackageName(ctx context.Context, ch broker.Channel, name string) error {
	return s.PublishPackageNames(ctx, ch, []string{name})
}

// PublishPackageNames publishes a batch of package names on one channel.
func (s *Service) PublishPackageNames(ctx context.Context, ch broker.Channel, names []string) error {
	return s.withChannel(ch, func(c broker.Channel) error {
		pub := broker.NewPublisher(c, s.exchange)
		for _, name := range names {
			canonical := requirement.NormalizeName(name)
			if err := pub.Publish(ctx, "package_name."+canonical, model.PackageName{PackageName: canonical}); err != nil {
				return err
			}
		}

		return nil
	})
}

// PublishDistribution publishes one newly discovered distribution.
func (s *Service) PublishDistribution(ctx context.Context, ch broker.Channel, d model.Distribution) error {
	return s.PublishDistributions(ctx, ch, []model.Distribution{d})
}

// PublishDistributions publishes a batch of distributions on one channel.
func (s *Service) PublishDistributions(ctx context.Context, ch broker.Channel, dists []model.Distribution) error {
	return s.withChannel(ch, func(c broker.Channel) error {
		pub := broker.NewPublisher(c, s.exchange)
		for _, d := range dists {
			key := "distribution." + d.DistributionID
			if err := pub.Publish(ctx, key, d); err != nil {
				return err
			}
		}

		return nil
	})
}

// PublishRequirementForReprocessing queues one requirement, routed by its
// distribution id, for the reprocess subscriber to rebuild DependencyExtrasArr.
func (s *Service) PublishRequirementForReprocessing(ctx context.Context, ch broker.Channel, req model.Requirement) error {
	return s.withChannel(ch, func(c broker.Channel) error {
		key := "requirement.reprocess.of." + req.DistributionID
		return broker.NewPublisher(c, s.exchange).Publish(ctx, key, req)
	})
}

// PublishRequirementForCandidateCorrelation queues one requirement for
// candidate correlation.
func (s *Service) PublishRequirementForCandidateCorrelation(ctx context.Context, ch broker.Channel, req model.Requirement) error {
	return s.withChannel(ch, func(c broker.Channel) error {
		key := "requirement.correlate." + req.RequirementID
		return broker.NewPublisher(c, s.exchange).Publish(ctx, key, req)
	})
}

// PublishCdcEventLogEntry publishes one drained event-log entry.
func (s *Service) PublishCdcEventLogEntry(ctx context.Context, ch broker.Channel, e model.EventLogEntry) error {
	return s.withChannel(ch, func(c broker.Channel) error {
		key := fmt.Sprintf("cdc.%s.%s.%d", e.Schema, e.Table, e.EventID)
		return broker.NewPublisher(c, s.exchange).Publish(ctx, key, e)
	})
}
