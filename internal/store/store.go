// Package store implements the relational repositories: one type per
// table, each reachable either against the ambient pool or against a
// caller-supplied transaction so callers can compose multi-table writes
// atomically.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository method run against either without an interface per call.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// maxQueryParams is PostgreSQL's bind-parameter ceiling per statement.
const maxQueryParams = 65535

// chunkRows splits rows into batches of at most maxQueryParams /
// paramsPerRow rows each, so the statements queued for one batch never
// bind more than maxQueryParams parameters in total.
func chunkRows[T any](rows []T, paramsPerRow int) [][]T {
	if paramsPerRow <= 0 {
		paramsPerRow = 1
	}

	batchSize := maxQueryParams / paramsPerRow
	if batchSize < 1 {
		batchSize = 1
	}

	var chunks [][]T
	for len(rows) > 0 {
		n := batchSize
		if n > len(rows) {
			n = len(rows)
		}

		chunks = append(chunks, rows[:n])
		rows = rows[n:]
	}

	return chunks
}

// withTx opens a fresh transaction on pool, runs fn against it, and
// commits or rolls back — the pool-side half of the dual entry point every
// mutating repository method exposes (the Ctx variants take a DB instead).
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, fn)
}
