package publish_test

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
)

type fakeChannel struct {
	closed     bool
	published  []fakePub
}

type fakePub struct {
	key  string
	body []byte
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, fakePub{key: key, body: msg.Body})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeConn struct {
	ch *fakeChannel
}

func (f *fakeConn) Channel() (broker.Channel, error) {
	return f.ch, nil
}

func TestPublishPackageNamesCanonicalizesAndRoutes(t *testing.T) {
	ch := &fakeChannel{}
	svc := publish.New(&fakeConn{ch: ch}, "pypi_scraper")

	err := svc.PublishPackageNames(context.Background(), nil, []string{"Flask-SQLAlchemy"})
	if err != nil {
		t.Fatalf("PublishPackageNames() error: %v", err)
	}

	if !ch.closed {
		t.Error("expected service to close the channel it opened")
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected 1 publication, got %d", len(ch.published))
	}

	want := "package_name.flask-sqlalchemy"
	if ch.published[0].key != want {
		t.Errorf("routing key = %q, want %q", ch.published[0].key, want)
	}
}

func TestPublishDistributionUsesSuppliedChannel(t *testing.T) {
	ch := &fakeChannel{}
	svc := publish.New(&fakeConn{}, "pypi_scraper")

	err := svc.PublishDistribution(context.Background(), ch, model.Distribution{DistributionID: "dist-1"})
	if err != nil {
		t.Fatalf("PublishDistribution() error: %v", err)
	}

	if ch.closed {
		t.Error("service must not close a caller-supplied channel")
	}

	if len(ch.published) != 1 || ch.published[0].key != "distribution.dist-1" {
		t.Errorf("unexpected publications: %+v", ch.published)
	}
}

func TestPublishRequirementRoutingKeys(t *testing.T) {
	ch := &fakeChannel{}
	svc := publish.New(&fakeConn{}, "pypi_scraper")

	req := model.Requirement{RequirementID: "req-1", DistributionID: "dist-1"}

	if err := svc.PublishRequirementForReprocessing(context.Background(), ch, req); err != nil {
		t.Fatalf("PublishRequirementForReprocessing() error: %v", err)
	}
	if err := svc.PublishRequirementForCandidateCorrelation(context.Background(), ch, req); err != nil {
		t.Fatalf("PublishRequirementForCandidateCorrelation() error: %v", err)
	}

	if len(ch.published) != 2 {
		t.Fatalf("expected 2 publications, got %d", len(ch.published))
	}
	if ch.published[0].key != "requirement.reprocess.of.dist-1" {
		t.Errorf("reprocess key = %q", ch.published[0].key)
	}
	if ch.published[1].key != "requirement.correlate.req-1" {
		t.Errorf("correlate key = %q", ch.published[1].key)
	}
}

func TestPublishCdcEventLogEntry(t *testing.T) {
	ch := &fakeChannel{}
	svc := publish.New(&fakeConn{}, "pypi_scraper")

	e := model.EventLogEntry{EventID: 42, Schema: "public", Table: "versions", Operation: model.OperationInsert}

	if err := svc.PublishCdcEventLogEntry(context.Background(), ch, e); err != nil {
		t.Fatalf("PublishCdcEventLogEntry() error: %v", err)
	}

	want := "cdc.public.versions.42"
	if ch.published[0].key != want {
		t.Errorf("routing key = %q, want %q", ch.published[0].key, want)
	}

	var decoded model.EventLogEntry
	if err := json.Unmarshal(ch.published[0].body, &decoded); err != nil {
		t.Fatalf("unmarshaling published body: %v", err)
	}
	if decoded.EventID != 42 {
		t.Errorf("decoded.EventID = %d, want 42", decoded.EventID)
	}
}
