package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bilusteknoloji/pipdepgraph/internal/model"
)

// eventLogOffsetKey is the single offset row key the whole event log is
// tracked under — the log is one append-only stream across every source
// table, not partitioned per table.
const eventLogOffsetKey = "event_log"

// Cdc is the repository for the change-data-capture event log and its
// offset bookkeeping.
type Cdc struct {
	pool *pgxpool.Pool
}

// NewCdc builds a Cdc repository bound to pool.
func NewCdc(pool *pgxpool.Pool) *Cdc {
	return &Cdc{pool: pool}
}

// GetOffset reads the stored high-water mark, defaulting to 0 (drain from
// the start) when no offset row exists yet.
func (r *Cdc) GetOffset(ctx context.Context) (int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT event_id FROM cdc_offsets WHERE "table" = $1`, eventLogOffsetKey)

	var eventID int64
	if err := row.Scan(&eventID); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}

		return 0, fmt.Errorf("store: get cdc offset: %w", err)
	}

	return eventID, nil
}

// UpsertOffset advances the stored offset to eventID.
func (r *Cdc) UpsertOffset(ctx context.Context, eventID int64) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.UpsertOffsetCtx(ctx, tx, eventID)
	})
}

// UpsertOffsetCtx is UpsertOffset run against db instead of the ambient pool.
func (r *Cdc) UpsertOffsetCtx(ctx context.Context, db DB, eventID int64) error {
	_, err := db.Exec(ctx, `
		INSERT INTO cdc_offsets ("table", event_id) VALUES ($1, $2)
		ON CONFLICT ("table") DO UPDATE SET event_id = EXCLUDED.event_id
	`, eventLogOffsetKey, eventID)
	if err != nil {
		return fmt.Errorf("store: upsert cdc offset: %w", err)
	}

	return nil
}

// IterEventLog streams event_log rows with event_id greater than the
// stored offset, ascending, fetched batchSize rows at a time via a
// server-side cursor so a large drain never buffers the whole log.
func (r *Cdc) IterEventLog(ctx context.Context, batchSize int, yield func(model.EventLogEntry, error) bool) {
	offset, err := r.GetOffset(ctx)
	if err != nil {
		yield(model.EventLogEntry{}, err)
		return
	}

	if batchSize <= 0 {
		batchSize = 1000
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		yield(model.EventLogEntry{}, fmt.Errorf("store: begin iter event log: %w", err))
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DECLARE iter_event_log CURSOR FOR
		SELECT event_id, operation, "schema", "table", before, after, "timestamp"
		FROM event_log
		WHERE event_id > $1
		ORDER BY event_id ASC
	`, offset); err != nil {
		yield(model.EventLogEntry{}, fmt.Errorf("store: declare event log cursor: %w", err))
		return
	}

	for {
		rows, err := tx.Query(ctx, fmt.Sprintf("FETCH FORWARD %d FROM iter_event_log", batchSize))
		if err != nil {
			yield(model.EventLogEntry{}, fmt.Errorf("store: fetch event log cursor: %w", err))
			return
		}

		fetched := 0
		stop := false

		for rows.Next() {
			fetched++

			var e model.EventLogEntry
			if err := rows.Scan(&e.EventID, &e.Operation, &e.Schema, &e.Table, &e.Before, &e.After, &e.Timestamp); err != nil {
				rows.Close()
				yield(model.EventLogEntry{}, fmt.Errorf("store: scan event log entry: %w", err))
				return
			}

			if !yield(e, nil) {
				stop = true
				break
			}
		}

		rowsErr := rows.Err()
		rows.Close()

		if rowsErr != nil {
			yield(model.EventLogEntry{}, fmt.Errorf("store: iter event log: %w", rowsErr))
			return
		}

		if stop || fetched < batchSize {
			return
		}
	}
}

// AutoUpsertOffset drains IterEventLog, invoking handle for every entry and
// advancing the stored offset after every batchSize handled entries and
// once more when the drain runs dry, so a crash mid-drain only replays
// entries already handled at least once.
func (r *Cdc) AutoUpsertOffset(ctx context.Context, batchSize int, handle func(model.EventLogEntry) error) error {
	var (
		lastSeen  int64
		sawAny    bool
		handled   int
		handleErr error
	)

	if batchSize <= 0 {
		batchSize = 1000
	}

	r.IterEventLog(ctx, batchSize, func(e model.EventLogEntry, err error) bool {
		if err != nil {
			handleErr = err
			return false
		}

		if err := handle(e); err != nil {
			handleErr = err
			return false
		}

		lastSeen = e.EventID
		sawAny = true
		handled++

		if handled%batchSize == 0 {
			if err := r.UpsertOffset(ctx, lastSeen); err != nil {
				handleErr = err
				return false
			}
		}

		return true
	})

	if handleErr != nil {
		return handleErr
	}

	if !sawAny {
		return nil
	}

	return r.UpsertOffset(ctx, lastSeen)
}
