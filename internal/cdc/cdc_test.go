package cdc_test

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/cdc"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
)

type fakeChannel struct {
	published []fakePub
}

type fakePub struct {
	key  string
	body []byte
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, fakePub{key: key, body: msg.Body})
	return nil
}

type fakeConn struct{}

func (fakeConn) Channel() (broker.Channel, error) { return &fakeChannel{}, nil }

func TestRequirementsSubscriberRepublishesInsert(t *testing.T) {
	ch := &fakeChannel{}
	sub := cdc.NewRequirementsSubscriber(publish.New(fakeConn{}, "pypi_scraper"))

	event := model.EventLogEntry{
		EventID:   7,
		Operation: model.OperationInsert,
		After: map[string]any{
			"requirement_id":  "req-1",
			"distribution_id": "dist-1",
			"dependency_name": "requests",
		},
	}

	if err := sub.HandleEvent(context.Background(), ch, event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected 1 publication, got %d", len(ch.published))
	}
	if ch.published[0].key != "requirement.correlate.req-1" {
		t.Errorf("routing key = %q", ch.published[0].key)
	}
}

func TestRequirementsSubscriberIgnoresDelete(t *testing.T) {
	ch := &fakeChannel{}
	sub := cdc.NewRequirementsSubscriber(publish.New(fakeConn{}, "pypi_scraper"))

	event := model.EventLogEntry{
		Operation: model.OperationDelete,
		After:     map[string]any{"requirement_id": "req-1"},
	}

	if err := sub.HandleEvent(context.Background(), ch, event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if len(ch.published) != 0 {
		t.Errorf("expected no publications for a delete event, got %d", len(ch.published))
	}
}

func TestRequirementsSubscriberIgnoresNilAfter(t *testing.T) {
	ch := &fakeChannel{}
	sub := cdc.NewRequirementsSubscriber(publish.New(fakeConn{}, "pypi_scraper"))

	event := model.EventLogEntry{Operation: model.OperationUpdate, After: nil}

	if err := sub.HandleEvent(context.Background(), ch, event); err != nil {
		t.Fatalf("HandleEvent() error: %v", err)
	}
	if len(ch.published) != 0 {
		t.Errorf("expected no publications when After is nil, got %d", len(ch.published))
	}
}

func TestNewPublisherAcceptsNonPositiveOptions(t *testing.T) {
	p := cdc.NewPublisher(fakeConn{}, nil, nil,
		cdc.WithBatchSize(0),
		cdc.WithPollInterval(0),
	)

	if p == nil {
		t.Fatal("expected a non-nil Publisher")
	}
}

func TestPollIntervalDefault(t *testing.T) {
	if cdc.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cdc.PollInterval)
	}
}
