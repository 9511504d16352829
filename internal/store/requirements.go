package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// Requirements is the repository for the requirements table.
type Requirements struct {
	pool *pgxpool.Pool
}

// NewRequirements builds a Requirements repository bound to pool.
func NewRequirements(pool *pgxpool.Pool) *Requirements {
	return &Requirements{pool: pool}
}

// Insert inserts requirements, generating a requirement_id client-side via
// uuid.New for any row that doesn't already carry one. On conflict the row
// is skipped, matching the donor's gen_random_uuid()-backed insert-only
// behavior — requirement identity is not meant to survive a conflict.
func (r *Requirements) Insert(ctx context.Context, reqs []model.Requirement) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.InsertCtx(ctx, tx, reqs)
	})
}

// InsertCtx is Insert run against db instead of the ambient pool.
func (r *Requirements) InsertCtx(ctx context.Context, db DB, reqs []model.Requirement) error {
	if len(reqs) == 0 {
		return nil
	}

	const paramsPerRow = 7

	for _, chunk := range chunkRows(reqs, paramsPerRow) {
		batch := &pgx.Batch{}
		for _, req := range chunk {
			id := req.RequirementID
			if id == "" {
				id = uuid.NewString()
			}

			batch.Queue(`
				INSERT INTO requirements (
					requirement_id, distribution_id, extras, dependency_name,
					dependency_extras, version_constraint, parsable
				) VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (requirement_id) DO NOTHING
			`, id, req.DistributionID, req.Extras, req.DependencyName,
				req.DependencyExtras, req.VersionConstraint, req.Parsable)
		}

		results := db.SendBatch(ctx, batch)
		for range chunk {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("store: insert requirements: %w", err)
			}
		}

		if err := results.Close(); err != nil {
			return fmt.Errorf("store: insert requirements: %w", err)
		}
	}

	return nil
}

// DeleteByDistribution removes every requirement belonging to distributionID,
// used ahead of a full rewrite of a distribution's requirement set.
func (r *Requirements) DeleteByDistribution(ctx context.Context, distributionID string) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.DeleteByDistributionCtx(ctx, tx, distributionID)
	})
}

// DeleteByDistributionCtx is DeleteByDistribution run against db.
func (r *Requirements) DeleteByDistributionCtx(ctx context.Context, db DB, distributionID string) error {
	_, err := db.Exec(ctx, `DELETE FROM requirements WHERE distribution_id = $1`, distributionID)
	if err != nil {
		return fmt.Errorf("store: delete requirements for distribution %s: %w", distributionID, err)
	}

	return nil
}

// Update rewrites DependencyExtras and DependencyExtrasArr for the
// requirement identified by RequirementID, used by the reprocess subscriber
// after recomputing the parsed extras array from the stored CSV form.
func (r *Requirements) Update(ctx context.Context, req model.Requirement) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpdateCtx(ctx, tx, req)
	})
}

// UpdateCtx is Update run against db instead of the ambient pool.
func (r *Requirements) UpdateCtx(ctx context.Context, db DB, req model.Requirement) error {
	_, err := db.Exec(ctx, `
		UPDATE requirements
		SET dependency_extras = $2, dependency_extras_arr = $3
		WHERE requirement_id = $1
	`, req.RequirementID, req.DependencyExtras, req.DependencyExtrasArr)
	if err != nil {
		return fmt.Errorf("store: update requirement %s: %w", req.RequirementID, err)
	}

	return nil
}

// HashModFilter restricts an Iter pass to one residue class of
// mod(get_byte(digest(distribution_id::text, Alg), 0), ModBase), letting a
// one-shot reprocessor run be sharded across parallel workers.
type HashModFilter struct {
	Alg      string
	ModBase  int
	ModVal   int
}

// RequirementsIterOptions filters a Requirements.Iter pass.
type RequirementsIterOptions struct {
	PackageName               string
	PackageVersion            string
	DependencyName            string
	DistPackageType           string
	DistProcessed             *bool
	DependencyExtrasArrIsNone bool
	HashMod                   *HashModFilter
	BatchSize                 int
}

// defaultRequirementsIterBatchSize mirrors config.Batching's
// REPO_ITER_BATCH_SIZE default, used when RequirementsIterOptions.BatchSize
// is unset.
const defaultRequirementsIterBatchSize = 50_000

// Iter streams every matching row to yield, joining through distributions
// and versions only when those filters are requested, fetched
// opts.BatchSize rows at a time via a server-side cursor so a large drain
// never buffers the whole result set — the same pattern IterEventLog uses.
func (r *Requirements) Iter(ctx context.Context, opts RequirementsIterOptions, yield func(model.Requirement, error) bool) {
	query := `
		SELECT req.requirement_id, req.distribution_id, req.extras, req.dependency_name,
			req.dependency_extras, req.dependency_extras_arr, req.version_constraint, req.parsable
		FROM requirements req
	`

	needsJoin := opts.PackageName != "" || opts.PackageVersion != "" || opts.DistPackageType != "" || opts.DistProcessed != nil
	if needsJoin {
		query += ` JOIN distributions d ON d.distribution_id = req.distribution_id`
	}

	if opts.PackageName != "" || opts.PackageVersion != "" {
		query += ` JOIN versions v ON v.version_id = d.version_id`
	}

	query += ` WHERE TRUE`

	args := []any{}

	if opts.PackageName != "" {
		args = append(args, opts.PackageName)
		query += fmt.Sprintf(" AND v.package_name = $%d", len(args))
	}

	if opts.PackageVersion != "" {
		args = append(args, opts.PackageVersion)
		query += fmt.Sprintf(" AND v.package_version = $%d", len(args))
	}

	if opts.DependencyName != "" {
		args = append(args, opts.DependencyName)
		query += fmt.Sprintf(" AND req.dependency_name = $%d", len(args))
	}

	if opts.DistPackageType != "" {
		args = append(args, opts.DistPackageType)
		query += fmt.Sprintf(" AND d.package_type = $%d", len(args))
	}

	if opts.DistProcessed != nil {
		args = append(args, *opts.DistProcessed)
		query += fmt.Sprintf(" AND d.processed = $%d", len(args))
	}

	if opts.DependencyExtrasArrIsNone {
		query += ` AND req.dependency_extras_arr IS NULL`
	}

	if opts.HashMod != nil {
		alg := opts.HashMod.Alg
		if alg == "" {
			alg = "md5"
		}

		args = append(args, alg, opts.HashMod.ModBase, opts.HashMod.ModVal)
		query += fmt.Sprintf(
			" AND mod(get_byte(digest(req.distribution_id::text, $%d), 0), $%d) = $%d",
			len(args)-2, len(args)-1, len(args),
		)
	}

	query += ` ORDER BY req.requirement_id`

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRequirementsIterBatchSize
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		yield(model.Requirement{}, fmt.Errorf("store: begin iter requirements: %w", err))
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DECLARE iter_requirements CURSOR FOR "+query, args...); err != nil {
		yield(model.Requirement{}, fmt.Errorf("store: declare requirements cursor: %w", err))
		return
	}

	for {
		rows, err := tx.Query(ctx, fmt.Sprintf("FETCH FORWARD %d FROM iter_requirements", batchSize))
		if err != nil {
			yield(model.Requirement{}, fmt.Errorf("store: fetch requirements cursor: %w", err))
			return
		}

		fetched := 0
		stop := false

		for rows.Next() {
			fetched++

			var req model.Requirement
			if err := rows.Scan(
				&req.RequirementID, &req.DistributionID, &req.Extras, &req.DependencyName,
				&req.DependencyExtras, &req.DependencyExtrasArr, &req.VersionConstraint, &req.Parsable,
			); err != nil {
				rows.Close()
				yield(model.Requirement{}, fmt.Errorf("store: scan requirement: %w", err))
				return
			}

			if !yield(req, nil) {
				stop = true
				break
			}
		}

		rowsErr := rows.Err()
		rows.Close()

		if rowsErr != nil {
			yield(model.Requirement{}, fmt.Errorf("store: iter requirements: %w", rowsErr))
			return
		}

		if stop || fetched < batchSize {
			return
		}
	}
}
