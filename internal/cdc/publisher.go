// Package cdc drains the change-data-capture event log and fans its
// entries back onto the broker, closing the loop between database
// triggers and the subscribers that react to catalog changes.
package cdc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
)

// PollInterval is how long Publisher sleeps after a drain before
// reopening a channel and polling the event log again.
const PollInterval = 10 * time.Second

// DefaultBatchSize is the cursor fetch size IterEventLog uses when the
// caller doesn't request one explicitly.
const DefaultBatchSize = 1000

// Publisher drains store.Cdc's event log ascending from the stored
// offset and republishes every entry, looping forever until ctx is
// canceled.
type Publisher struct {
	conn      publish.Conn
	cdc       *store.Cdc
	publisher *publish.Service
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBatchSize overrides the cursor fetch size.
func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPollInterval overrides the sleep between drains.
func WithPollInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher builds a Publisher.
func NewPublisher(conn publish.Conn, cdc *store.Cdc, pub *publish.Service, opts ...Option) *Publisher {
	p := &Publisher{
		conn:      conn,
		cdc:       cdc,
		publisher: pub,
		batchSize: DefaultBatchSize,
		interval:  PollInterval,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls the event log forever: open a channel, drain every pending
// entry publishing each one and letting the offset advance behind it,
// close the channel, sleep, repeat. Returns only when ctx is canceled or
// a drain fails unrecoverably.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.logger.Info("polling event log for new events")

		if err := p.drainOnce(ctx); err != nil {
			return fmt.Errorf("cdc: draining event log: %w", err)
		}

		p.logger.Info("event log drained, waiting before next poll", slog.Duration("interval", p.interval))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

type closableChannel interface {
	broker.Channel
	Close() error
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}

	if closable, ok := ch.(closableChannel); ok {
		defer func() { _ = closable.Close() }()
	}

	return p.cdc.AutoUpsertOffset(ctx, p.batchSize, func(e model.EventLogEntry) error {
		return p.publisher.PublishCdcEventLogEntry(ctx, ch, e)
	})
}
