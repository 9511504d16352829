package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery wraps one decoded record together with the function the
// caller must invoke exactly once to ack or nack the underlying message.
type Delivery[T any] struct {
	Record T

	// Ack resolves this delivery. true acks; false nacks and requeues.
	// The consume goroutine blocks on this call returning before it will
	// accept the next delivery, so a worker must call it exactly once per
	// Delivery it receives.
	Ack func(ok bool)
}

// ConsumeLoop spawns a goroutine that owns a blocking AMQP channel: it
// consumes queue, decodes each delivery's body with factory, and sends a
// Delivery on the returned channel. The caller drains that channel,
// processes each record to completion, and calls its Ack exactly once
// before reading the next Delivery — mirroring the single-threaded,
// strictly-sequential-per-consumer processing model the prefetch budget
// assumes. The returned channel is closed when ctx is canceled or the
// underlying AMQP delivery channel closes.
func ConsumeLoop[T any](ctx context.Context, conn *amqp.Connection, queue string, prefetch int, ctagPrefix string, factory func([]byte) (T, error), logger *slog.Logger) (<-chan Delivery[T], error) {
	if logger == nil {
		logger = slog.Default()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel for %s: %w", queue, err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("setting prefetch for %s: %w", queue, err)
	}

	consumerTag := ""
	if ctagPrefix != "" {
		consumerTag = ctagPrefix + uuid.NewString()
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consuming %s: %w", queue, err)
	}

	out := make(chan Delivery[T])

	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				if !deliverOne(ctx, d, factory, out, logger) {
					return
				}
			}
		}
	}()

	return out, nil
}

// deliverOne decodes one delivery, hands it to the worker, and blocks for
// the ack decision. Returns false when the consumer should stop, which
// happens only when ctx is canceled while waiting.
func deliverOne[T any](ctx context.Context, d amqp.Delivery, factory func([]byte) (T, error), out chan<- Delivery[T], logger *slog.Logger) bool {
	record, err := factory(d.Body)
	if err != nil {
		logger.Error("decoding delivery", slog.String("error", err.Error()))
		_ = d.Nack(false, true)

		return true
	}

	ackCh := make(chan bool, 1)

	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return false
	case out <- Delivery[T]{Record: record, Ack: func(ok bool) { ackCh <- ok }}:
	}

	select {
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return false
	case ok := <-ackCh:
		if ok {
			if err := d.Ack(false); err != nil {
				logger.Error("acking delivery", slog.String("error", err.Error()))
			}
		} else {
			if err := d.Nack(false, true); err != nil {
				logger.Error("nacking delivery", slog.String("error", err.Error()))
			}
		}
	}

	return true
}

// DecodeJSON is a factory helper: json.Unmarshal into a fresh T.
func DecodeJSON[T any](body []byte) (T, error) {
	var v T
	err := json.Unmarshal(body, &v)
	return v, err
}
