package process

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/publish"
	"github.com/bilusteknoloji/pipdepgraph/internal/pypiclient"
	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
	"github.com/bilusteknoloji/pipdepgraph/internal/store"
)

// DistributionProcessOptions tunes a single DistributionProcessor.Process call.
type DistributionProcessOptions struct {
	Force                bool
	DiscoverPackageNames bool
}

// DistributionProcessor fetches a wheel's metadata sidecar, parses its
// Requires-Dist entries into requirement rows, and replaces the
// distribution's requirement set atomically.
type DistributionProcessor struct {
	pool          *pgxpool.Pool
	packageNames  *store.PackageNames
	distributions *store.Distributions
	requirements  *store.Requirements
	pypi          pypiclient.Client
	publisher     *publish.Service
	logger        *slog.Logger
}

// DistributionOption configures a DistributionProcessor.
type DistributionOption func(*DistributionProcessor)

// WithDistributionPublisher attaches a publish.Service; newly inserted
// package names are published only when one is set.
func WithDistributionPublisher(p *publish.Service) DistributionOption {
	return func(dp *DistributionProcessor) {
		dp.publisher = p
	}
}

// WithDistributionLogger sets the structured logger.
func WithDistributionLogger(l *slog.Logger) DistributionOption {
	return func(dp *DistributionProcessor) {
		if l != nil {
			dp.logger = l
		}
	}
}

// NewDistributionProcessor builds a DistributionProcessor.
func NewDistributionProcessor(
	pool *pgxpool.Pool,
	packageNames *store.PackageNames,
	distributions *store.Distributions,
	requirements *store.Requirements,
	pypi pypiclient.Client,
	opts ...DistributionOption,
) *DistributionProcessor {
	dp := &DistributionProcessor{
		pool:          pool,
		packageNames:  packageNames,
		distributions: distributions,
		requirements:  requirements,
		pypi:          pypi,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(dp)
	}

	return dp
}

// Process fetches dist's metadata sidecar (only bdist_wheel distributions
// carry one) and rebuilds its requirement set. Non-wheel distributions
// and a 404 metadata fetch are both treated as "nothing to parse": the
// distribution is marked processed with a zero metadata size.
func (dp *DistributionProcessor) Process(ctx context.Context, dist model.Distribution, opts DistributionProcessOptions) error {
	if !opts.Force && dist.Processed {
		dp.logger.Debug("distribution already processed", slog.String("distribution_id", dist.DistributionID))
		return nil
	}

	dp.logger.Info("processing distribution", slog.String("distribution_id", dist.DistributionID))

	var (
		metadata *pypiclient.Metadata
		size     int64
	)

	if dist.PackageType == model.BdistWheel {
		var err error
		metadata, size, err = dp.pypi.GetDistributionMetadata(ctx, dist.PackageType, dist.PackageURL)
		if err != nil {
			return fmt.Errorf("process: fetching metadata for %s: %w", dist.DistributionID, err)
		}
	}

	if metadata == nil {
		zero := int64(0)
		if err := dp.distributions.Update(ctx, dist.DistributionID, true, &zero); err != nil {
			return fmt.Errorf("process: marking distribution %s processed (no metadata): %w", dist.DistributionID, err)
		}

		return nil
	}

	requirements := convertRequirements(dist.DistributionID, metadata.RequiresDist, dp.logger)

	err := pgx.BeginTxFunc(ctx, dp.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := dp.requirements.DeleteByDistributionCtx(ctx, tx, dist.DistributionID); err != nil {
			return err
		}

		if err := dp.requirements.InsertCtx(ctx, tx, requirements); err != nil {
			return err
		}

		if opts.DiscoverPackageNames {
			names := distinctDependencyNames(requirements)

			inserted, err := dp.packageNames.InsertNamesCtx(ctx, tx, names, dp.publisher != nil)
			if err != nil {
				return err
			}

			if dp.publisher != nil && len(inserted) > 0 {
				if err := dp.publisher.PublishPackageNames(ctx, nil, inserted); err != nil {
					return err
				}
			}
		}

		return dp.distributions.UpdateCtx(ctx, tx, dist.DistributionID, true, &size)
	})
	if err != nil {
		return fmt.Errorf("process: storing requirements for %s: %w", dist.DistributionID, err)
	}

	return nil
}

// convertRequirement turns one Requires-Dist entry into a Requirement row,
// falling back to an unparsable raw-text row when the entry can't be
// decomposed rather than dropping it.
func convertRequirement(distributionID, raw string) model.Requirement {
	parsed, ok := requirement.Parse(raw)
	if !ok {
		return requirement.Unparsable(distributionID, raw)
	}

	return requirement.ToModel(distributionID, parsed)
}

// convertRequirements converts every entry, isolating a single bad entry
// to its own unparsable row instead of failing the whole distribution.
func convertRequirements(distributionID string, raw []string, logger *slog.Logger) []model.Requirement {
	requirements := make([]model.Requirement, 0, len(raw))

	for _, entry := range raw {
		req := convertRequirement(distributionID, entry)
		if !req.Parsable {
			logger.Warn("unable to parse requirement",
				slog.String("distribution_id", distributionID),
				slog.String("requirement", entry),
			)
		}

		requirements = append(requirements, req)
	}

	return requirements
}

func distinctDependencyNames(reqs []model.Requirement) []string {
	seen := map[string]bool{}

	var names []string
	for _, r := range reqs {
		name := strings.TrimSpace(r.DependencyName)
		if name == "" || seen[name] {
			continue
		}

		seen[name] = true
		names = append(names, name)
	}

	return names
}
