package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
)

// RequirementsSubscriber consumes CDC entries for the requirements table
// and republishes INSERT/UPDATE rows onto the candidate-correlation
// queue, so a requirement changed by any path — not just the
// distribution processor — still gets correlated.
type RequirementsSubscriber struct {
	publisher *publish.Service
	logger    *slog.Logger
}

// SubscriberOption configures a RequirementsSubscriber.
type SubscriberOption func(*RequirementsSubscriber)

// WithSubscriberLogger sets the structured logger.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(s *RequirementsSubscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRequirementsSubscriber builds a RequirementsSubscriber bound to pub.
func NewRequirementsSubscriber(pub *publish.Service, opts ...SubscriberOption) *RequirementsSubscriber {
	s := &RequirementsSubscriber{publisher: pub, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandleEvent decodes e.After into a Requirement and republishes it for
// candidate correlation, for INSERT/UPDATE operations only; DELETE
// entries and entries with no after-image are ignored.
func (s *RequirementsSubscriber) HandleEvent(ctx context.Context, ch broker.Channel, e model.EventLogEntry) error {
	if e.Operation != model.OperationInsert && e.Operation != model.OperationUpdate {
		return nil
	}

	if e.After == nil {
		return nil
	}

	req, err := decodeRequirement(e.After)
	if err != nil {
		return fmt.Errorf("cdc: decoding requirement from event %d: %w", e.EventID, err)
	}

	s.logger.Debug("republishing requirement for candidate correlation",
		slog.String("requirement_id", req.RequirementID),
		slog.Int64("event_id", e.EventID),
	)

	return s.publisher.PublishRequirementForCandidateCorrelation(ctx, ch, req)
}

func decodeRequirement(after map[string]any) (model.Requirement, error) {
	body, err := json.Marshal(after)
	if err != nil {
		return model.Requirement{}, err
	}

	var req model.Requirement
	if err := json.Unmarshal(body, &req); err != nil {
		return model.Requirement{}, err
	}

	return req, nil
}
