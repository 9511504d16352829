package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
	"github.com/bilusteknoloji/pipdepgraph/internal/requirement"
)

// PackageNames is the repository for the package_names table.
type PackageNames struct {
	pool *pgxpool.Pool
}

// NewPackageNames builds a PackageNames repository bound to pool.
func NewPackageNames(pool *pgxpool.Pool) *PackageNames {
	return &PackageNames{pool: pool}
}

// Get canonicalizes name and looks it up. Returns (nil, nil) when absent.
func (r *PackageNames) Get(ctx context.Context, name string) (*model.PackageName, error) {
	return r.GetCtx(ctx, r.pool, name)
}

// GetCtx is Get run against db instead of the ambient pool.
func (r *PackageNames) GetCtx(ctx context.Context, db DB, name string) (*model.PackageName, error) {
	canonical := requirement.NormalizeName(name)

	row := db.QueryRow(ctx, `
		SELECT package_name, date_discovered, date_last_checked
		FROM package_names
		WHERE package_name = $1
	`, canonical)

	var pn model.PackageName
	if err := row.Scan(&pn.PackageName, &pn.DateDiscovered, &pn.DateLastChecked); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("store: get package name %s: %w", canonical, err)
	}

	return &pn, nil
}

// Insert inserts name if it is not already present. A no-op on conflict.
func (r *PackageNames) Insert(ctx context.Context, name string) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.InsertCtx(ctx, tx, name)
	})
}

// InsertCtx is Insert run against db instead of the ambient pool.
func (r *PackageNames) InsertCtx(ctx context.Context, db DB, name string) error {
	_, err := r.InsertNamesCtx(ctx, db, []string{name}, false)
	return err
}

// InsertNames bulk-inserts canonical names, skipping names already present.
// When returning is true, the subset of names actually inserted (i.e. not
// skipped by the conflict clause) is returned, letting a caller publish
// only the genuinely new names.
func (r *PackageNames) InsertNames(ctx context.Context, names []string, returning bool) ([]string, error) {
	var inserted []string

	err := withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		inserted, err = r.InsertNamesCtx(ctx, tx, names, returning)
		return err
	})

	return inserted, err
}

// InsertNamesCtx is InsertNames run against db instead of the ambient pool.
func (r *PackageNames) InsertNamesCtx(ctx context.Context, db DB, names []string, returning bool) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	const paramsPerRow = 1

	var inserted []string

	for _, chunk := range chunkRows(names, paramsPerRow) {
		if !returning {
			batch := &pgx.Batch{}
			for _, name := range chunk {
				batch.Queue(`
					INSERT INTO package_names (package_name)
					VALUES ($1)
					ON CONFLICT (package_name) DO NOTHING
				`, requirement.NormalizeName(name))
			}

			results := db.SendBatch(ctx, batch)
			for range chunk {
				if _, err := results.Exec(); err != nil {
					_ = results.Close()
					return nil, fmt.Errorf("store: insert package names: %w", err)
				}
			}

			if err := results.Close(); err != nil {
				return nil, fmt.Errorf("store: insert package names: %w", err)
			}

			continue
		}

		for _, name := range chunk {
			canonical := requirement.NormalizeName(name)

			var returnedName string

			row := db.QueryRow(ctx, `
				INSERT INTO package_names (package_name)
				VALUES ($1)
				ON CONFLICT (package_name) DO NOTHING
				RETURNING package_name
			`, canonical)
			if err := row.Scan(&returnedName); err != nil {
				if err == pgx.ErrNoRows {
					continue
				}

				return nil, fmt.Errorf("store: insert package names: %w", err)
			}

			inserted = append(inserted, returnedName)
		}
	}

	return inserted, nil
}

// Update touches date_last_checked to now.
func (r *PackageNames) Update(ctx context.Context, name string) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpdateCtx(ctx, tx, name)
	})
}

// UpdateCtx is Update run against db instead of the ambient pool.
func (r *PackageNames) UpdateCtx(ctx context.Context, db DB, name string) error {
	_, err := db.Exec(ctx, `
		UPDATE package_names SET date_last_checked = now() WHERE package_name = $1
	`, requirement.NormalizeName(name))
	if err != nil {
		return fmt.Errorf("store: update package name %s: %w", name, err)
	}

	return nil
}

// IterOptions filters a PackageNames.Iter pass.
type IterOptions struct {
	DateLastCheckedBefore *time.Time
	BatchSize             int
}

// Iter streams every matching row to yield, stopping early if yield
// returns false. Errors encountered mid-stream are passed to yield once
// with a zero PackageName and then iteration stops.
func (r *PackageNames) Iter(ctx context.Context, opts IterOptions, yield func(model.PackageName, error) bool) {
	query := `SELECT package_name, date_discovered, date_last_checked FROM package_names`

	args := []any{}
	if opts.DateLastCheckedBefore != nil {
		query += ` WHERE date_last_checked < $1 OR date_last_checked IS NULL`
		args = append(args, *opts.DateLastCheckedBefore)
	}

	query += ` ORDER BY package_name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		yield(model.PackageName{}, fmt.Errorf("store: iter package names: %w", err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var pn model.PackageName
		if err := rows.Scan(&pn.PackageName, &pn.DateDiscovered, &pn.DateLastChecked); err != nil {
			yield(model.PackageName{}, fmt.Errorf("store: scan package name: %w", err))
			return
		}

		if !yield(pn, nil) {
			return
		}
	}

	if err := rows.Err(); err != nil {
		yield(model.PackageName{}, fmt.Errorf("store: iter package names: %w", err))
	}
}

// PropagateDependencyNames inserts every distinct requirements.dependency_name
// not already present in package_names, so a dependency discovered only as
// a requirement target eventually gets crawled in its own right.
func (r *PackageNames) PropagateDependencyNames(ctx context.Context) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.PropagateDependencyNamesCtx(ctx, tx)
	})
}

// PropagateDependencyNamesCtx is PropagateDependencyNames run against db.
func (r *PackageNames) PropagateDependencyNamesCtx(ctx context.Context, db DB) error {
	_, err := db.Exec(ctx, `
		INSERT INTO package_names (package_name)
		SELECT DISTINCT dependency_name FROM requirements
		ON CONFLICT (package_name) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("store: propagate dependency names: %w", err)
	}

	return nil
}
