package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// Distributions is the repository for the distributions table.
type Distributions struct {
	pool *pgxpool.Pool
}

// NewDistributions builds a Distributions repository bound to pool.
func NewDistributions(pool *pgxpool.Pool) *Distributions {
	return &Distributions{pool: pool}
}

// Insert inserts distributions, skipping any whose distribution_id is
// already present. When returning is true, the distributions actually
// inserted (i.e. not skipped by the conflict clause) are returned.
func (r *Distributions) Insert(ctx context.Context, dists []model.Distribution, returning bool) ([]model.Distribution, error) {
	var inserted []model.Distribution

	err := withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		inserted, err = r.InsertCtx(ctx, tx, dists, returning)
		return err
	})

	return inserted, err
}

// InsertCtx is Insert run against db instead of the ambient pool.
func (r *Distributions) InsertCtx(ctx context.Context, db DB, dists []model.Distribution, returning bool) ([]model.Distribution, error) {
	if len(dists) == 0 {
		return nil, nil
	}

	const paramsPerRow = 10

	var inserted []model.Distribution

	for _, chunk := range chunkRows(dists, paramsPerRow) {
		for _, d := range chunk {
			id := d.DistributionID
			if id == "" {
				id = uuid.NewString()
			}

			query := `
				INSERT INTO distributions (
					distribution_id, version_id, package_type, python_version,
					requires_python, upload_time, yanked, package_filename,
					package_url, processed
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (distribution_id) DO NOTHING
			`
			if returning {
				query += ` RETURNING distribution_id`
			}

			args := []any{
				id, d.VersionID, d.PackageType, d.PythonVersion,
				d.RequiresPython, d.UploadTime, d.Yanked, d.PackageFilename,
				d.PackageURL, d.Processed,
			}

			if !returning {
				if _, err := db.Exec(ctx, query, args...); err != nil {
					return nil, fmt.Errorf("store: insert distribution: %w", err)
				}

				continue
			}

			var returnedID string

			row := db.QueryRow(ctx, query, args...)
			if err := row.Scan(&returnedID); err != nil {
				if err == pgx.ErrNoRows {
					continue
				}

				return nil, fmt.Errorf("store: insert distribution: %w", err)
			}

			d.DistributionID = returnedID
			inserted = append(inserted, d)
		}
	}

	return inserted, nil
}

// Update sets processed and optionally metadata_file_size; a nil size
// leaves the stored value untouched.
func (r *Distributions) Update(ctx context.Context, distributionID string, processed bool, metadataFileSize *int64) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpdateCtx(ctx, tx, distributionID, processed, metadataFileSize)
	})
}

// UpdateCtx is Update run against db instead of the ambient pool.
func (r *Distributions) UpdateCtx(ctx context.Context, db DB, distributionID string, processed bool, metadataFileSize *int64) error {
	_, err := db.Exec(ctx, `
		UPDATE distributions
		SET processed = $2, metadata_file_size = COALESCE($3, metadata_file_size)
		WHERE distribution_id = $1
	`, distributionID, processed, metadataFileSize)
	if err != nil {
		return fmt.Errorf("store: update distribution %s: %w", distributionID, err)
	}

	return nil
}

// DistributionsIterOptions filters a Distributions.Iter pass.
type DistributionsIterOptions struct {
	PackageName *string
	Processed   *bool
}

// Iter streams every matching row to yield, joining to versions and
// package_names only when a PackageName filter is supplied.
func (r *Distributions) Iter(ctx context.Context, opts DistributionsIterOptions, yield func(model.Distribution, error) bool) {
	query := `
		SELECT d.distribution_id, d.version_id, d.package_type, d.python_version,
			d.requires_python, d.upload_time, d.yanked, d.package_filename,
			d.package_url, d.processed, d.metadata_file_size
		FROM distributions d
	`

	args := []any{}
	if opts.PackageName != nil {
		query += ` JOIN versions v ON v.version_id = d.version_id`
	}

	query += ` WHERE TRUE`

	if opts.PackageName != nil {
		args = append(args, *opts.PackageName)
		query += fmt.Sprintf(" AND v.package_name = $%d", len(args))
	}

	if opts.Processed != nil {
		args = append(args, *opts.Processed)
		query += fmt.Sprintf(" AND d.processed = $%d", len(args))
	}

	query += ` ORDER BY d.distribution_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		yield(model.Distribution{}, fmt.Errorf("store: iter distributions: %w", err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var d model.Distribution
		if err := rows.Scan(
			&d.DistributionID, &d.VersionID, &d.PackageType, &d.PythonVersion,
			&d.RequiresPython, &d.UploadTime, &d.Yanked, &d.PackageFilename,
			&d.PackageURL, &d.Processed, &d.MetadataFileSize,
		); err != nil {
			yield(model.Distribution{}, fmt.Errorf("store: scan distribution: %w", err))
			return
		}

		if !yield(d, nil) {
			return
		}
	}

	if err := rows.Err(); err != nil {
		yield(model.Distribution{}, fmt.Errorf("store: iter distributions: %w", err))
	}
}
