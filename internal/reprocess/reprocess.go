// Package reprocess drives the hash-mod-sharded requirement reprocessing
// pass: iterate every requirement still missing its parsed extras array
// and republish it, fanning the republish step out across a bounded worker
// pool since each row is independent network I/O.
package reprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bilusteknoloji/pipdepgraph/internal/broker"
	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
)

// DefaultConcurrency bounds the republish worker pool when Options.Concurrency is unset.
const DefaultConcurrency = 8

// Options tunes one reprocessing pass.
type Options struct {
	HashMod       store.HashModFilter
	CorrelateAlso bool // also republish onto the candidate-correlation queue
	Concurrency   int
	BatchSize     int // cursor fetch size for the underlying Requirements.Iter; store's default applies when unset
}

// RequirementsIterator is the slice of store.Requirements this package
// needs; narrowed so tests can supply a fake instead of a live pool, the
// same way internal/publish narrows its broker connection.
type RequirementsIterator interface {
	Iter(ctx context.Context, opts store.RequirementsIterOptions, yield func(model.Requirement, error) bool)
}

// Publisher is the slice of publish.Service this package needs.
type Publisher interface {
	PublishRequirementForReprocessing(ctx context.Context, ch broker.Channel, req model.Requirement) error
	PublishRequirementForCandidateCorrelation(ctx context.Context, ch broker.Channel, req model.Requirement) error
}

// Reprocessor republishes requirements matching a hashmod shard.
type Reprocessor struct {
	requirements RequirementsIterator
	publisher    Publisher
	logger       *slog.Logger
}

// New builds a Reprocessor. publisher is typically a *publish.Service.
func New(requirements RequirementsIterator, publisher Publisher, logger *slog.Logger) *Reprocessor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reprocessor{requirements: requirements, publisher: publisher, logger: logger}
}

// Run iterates requirements matching opts.HashMod and republishes each onto
// the reprocess queue, and onto the correlate queue too when
// opts.CorrelateAlso is set. The cursor read stays sequential; republishing
// fans out across a bounded pool since it is network-bound and each row is
// independent.
func (r *Reprocessor) Run(ctx context.Context, opts Options) (int, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		republished int64
		iterErr     error
	)

	iterOpts := store.RequirementsIterOptions{
		DependencyExtrasArrIsNone: true,
		HashMod:                   &opts.HashMod,
		BatchSize:                 opts.BatchSize,
	}

	r.requirements.Iter(ctx, iterOpts, func(req model.Requirement, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}

		g.Go(func() error {
			if pubErr := r.publisher.PublishRequirementForReprocessing(gctx, nil, req); pubErr != nil {
				return pubErr
			}

			if opts.CorrelateAlso {
				if pubErr := r.publisher.PublishRequirementForCandidateCorrelation(gctx, nil, req); pubErr != nil {
					return pubErr
				}
			}

			atomic.AddInt64(&republished, 1)

			return nil
		})

		return gctx.Err() == nil
	})

	waitErr := g.Wait()
	count := int(atomic.LoadInt64(&republished))

	if iterErr != nil {
		return count, fmt.Errorf("reprocess: iterating requirements: %w", iterErr)
	}

	if waitErr != nil {
		return count, fmt.Errorf("reprocess: republishing requirements: %w", waitErr)
	}

	r.logger.Info("reprocess pass done", slog.Int("republished", count))

	return count, nil
}
