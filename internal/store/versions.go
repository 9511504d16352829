package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// Versions is the repository for the versions table.
type Versions struct {
	pool *pgxpool.Pool
}

// NewVersions builds a Versions repository bound to pool.
func NewVersions(pool *pgxpool.Pool) *Versions {
	return &Versions{pool: pool}
}

// Upsert inserts versions, or on a (package_name, package_version)
// conflict overwrites every parsed field from the new record. date_discovered
// is set from the record if non-nil, else defaulted to now() — but never
// clobbered on conflict once set.
func (r *Versions) Upsert(ctx context.Context, versions []model.Version) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpsertCtx(ctx, tx, versions)
	})
}

// UpsertCtx is Upsert run against db instead of the ambient pool.
func (r *Versions) UpsertCtx(ctx context.Context, db DB, versions []model.Version) error {
	if len(versions) == 0 {
		return nil
	}

	const paramsPerRow = 14

	for _, chunk := range chunkRows(versions, paramsPerRow) {
		batch := &pgx.Batch{}
		for _, v := range chunk {
			id := v.VersionID
			if id == "" {
				id = uuid.NewString()
			}

			batch.Queue(`
				INSERT INTO versions (
					version_id, package_name, package_version, date_discovered,
					epoch, package_release, pre_0, pre_1, post, dev, local,
					is_prerelease, is_postrelease, is_devrelease
				) VALUES (
					$1, $2, $3, COALESCE($4, now()),
					$5, $6, $7, $8, $9, $10, $11,
					$12, $13, $14
				)
				ON CONFLICT (package_name, package_version) DO UPDATE SET
					epoch = EXCLUDED.epoch,
					package_release = EXCLUDED.package_release,
					pre_0 = EXCLUDED.pre_0,
					pre_1 = EXCLUDED.pre_1,
					post = EXCLUDED.post,
					dev = EXCLUDED.dev,
					local = EXCLUDED.local,
					is_prerelease = EXCLUDED.is_prerelease,
					is_postrelease = EXCLUDED.is_postrelease,
					is_devrelease = EXCLUDED.is_devrelease
			`,
				id, v.PackageName, v.PackageVersion, v.DateDiscovered,
				v.Epoch, v.PackageRelease, v.Pre0, v.Pre1, v.Post, v.Dev, v.Local,
				v.IsPrerelease, v.IsPostrelease, v.IsDevrelease,
			)
		}

		results := db.SendBatch(ctx, batch)
		for range chunk {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("store: upsert versions: %w", err)
			}
		}

		if err := results.Close(); err != nil {
			return fmt.Errorf("store: upsert versions: %w", err)
		}
	}

	return nil
}

// Update rewrites every field of the version identified by VersionID.
func (r *Versions) Update(ctx context.Context, v model.Version) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpdateCtx(ctx, tx, v)
	})
}

// UpdateCtx is Update run against db instead of the ambient pool.
func (r *Versions) UpdateCtx(ctx context.Context, db DB, v model.Version) error {
	_, err := db.Exec(ctx, `
		UPDATE versions SET
			package_name = $2, package_version = $3, date_discovered = $4,
			epoch = $5, package_release = $6, pre_0 = $7, pre_1 = $8,
			post = $9, dev = $10, local = $11,
			is_prerelease = $12, is_postrelease = $13, is_devrelease = $14
		WHERE version_id = $1
	`,
		v.VersionID, v.PackageName, v.PackageVersion, v.DateDiscovered,
		v.Epoch, v.PackageRelease, v.Pre0, v.Pre1, v.Post, v.Dev, v.Local,
		v.IsPrerelease, v.IsPostrelease, v.IsDevrelease,
	)
	if err != nil {
		return fmt.Errorf("store: update version %s: %w", v.VersionID, err)
	}

	return nil
}

// VersionsIterOptions filters a Versions.Iter pass.
type VersionsIterOptions struct {
	PackageName    string
	PackageVersion string
}

// Iter streams every matching row to yield.
func (r *Versions) Iter(ctx context.Context, opts VersionsIterOptions, yield func(model.Version, error) bool) {
	query := `
		SELECT version_id, package_name, package_version, date_discovered,
			epoch, package_release, pre_0, pre_1, post, dev, local,
			is_prerelease, is_postrelease, is_devrelease
		FROM versions WHERE TRUE
	`

	args := []any{}
	if opts.PackageName != "" {
		args = append(args, opts.PackageName)
		query += fmt.Sprintf(" AND package_name = $%d", len(args))
	}

	if opts.PackageVersion != "" {
		args = append(args, opts.PackageVersion)
		query += fmt.Sprintf(" AND package_version = $%d", len(args))
	}

	query += ` ORDER BY package_name, package_version`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		yield(model.Version{}, fmt.Errorf("store: iter versions: %w", err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var v model.Version
		if err := rows.Scan(
			&v.VersionID, &v.PackageName, &v.PackageVersion, &v.DateDiscovered,
			&v.Epoch, &v.PackageRelease, &v.Pre0, &v.Pre1, &v.Post, &v.Dev, &v.Local,
			&v.IsPrerelease, &v.IsPostrelease, &v.IsDevrelease,
		); err != nil {
			yield(model.Version{}, fmt.Errorf("store: scan version: %w", err))
			return
		}

		if !yield(v, nil) {
			return
		}
	}

	if err := rows.Err(); err != nil {
		yield(model.Version{}, fmt.Errorf("store: iter versions: %w", err))
	}
}
