package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// Candidates is the repository for the candidates table.
type Candidates struct {
	pool *pgxpool.Pool
}

// NewCandidates builds a Candidates repository bound to pool.
func NewCandidates(pool *pgxpool.Pool) *Candidates {
	return &Candidates{pool: pool}
}

// Upsert writes the candidate set for a requirement, overwriting both
// array columns on conflict.
func (r *Candidates) Upsert(ctx context.Context, c model.Candidate) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpsertCtx(ctx, tx, c)
	})
}

// UpsertCtx is Upsert run against db instead of the ambient pool.
func (r *Candidates) UpsertCtx(ctx context.Context, db DB, c model.Candidate) error {
	_, err := db.Exec(ctx, `
		INSERT INTO candidates (requirement_id, candidate_versions, candidate_version_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (requirement_id) DO UPDATE SET
			candidate_versions = EXCLUDED.candidate_versions,
			candidate_version_ids = EXCLUDED.candidate_version_ids
	`, c.RequirementID, c.CandidateVersions, c.CandidateVersionIDs)
	if err != nil {
		return fmt.Errorf("store: upsert candidates for requirement %s: %w", c.RequirementID, err)
	}

	return nil
}

// Get fetches the candidate set for one requirement. Returns (nil, nil)
// when absent.
func (r *Candidates) Get(ctx context.Context, requirementID string) (*model.Candidate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT requirement_id, candidate_versions, candidate_version_ids
		FROM candidates WHERE requirement_id = $1
	`, requirementID)

	var c model.Candidate
	if err := row.Scan(&c.RequirementID, &c.CandidateVersions, &c.CandidateVersionIDs); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("store: get candidates for requirement %s: %w", requirementID, err)
	}

	return &c, nil
}
