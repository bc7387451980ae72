package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arborapp/localsync/internal/db"
)

// Store persists operation records in the local queue table. It is the
// single source of truth for pending work: enqueue-time merging and batch
// selection are each one store-level transaction, so concurrent
// enqueue-while-processing never produces a torn read or write.
type Store struct {
	db     *db.DB
	logger *slog.Logger
}

// Stats summarizes the queue's current contents.
type Stats struct {
	Total  int
	Due    int
	ByKind map[Kind]int
}

// NewStore creates a store over an opened and migrated database handle.
func NewStore(database *db.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     database,
		logger: logger,
	}
}

const recordColumns = `id, object_type, object_id, kind, priority, payload, version,
	retry_count, max_retries, scheduled_at, created_at`

// InsertOrMerge inserts the record, or merges it into the existing pending
// record for the same merge key. Returns the record now in the store and
// whether a merge occurred. The lookup and write happen inside one
// transaction so the unique merge-key invariant holds under concurrency.
func (s *Store) InsertOrMerge(ctx context.Context, rec *Record) (*Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}

	var (
		stored *Record
		merged bool
	)

	err := s.db.WithTransaction(func(tx *db.Tx) error {
		existing, err := getByMergeKeyTx(ctx, tx, rec.ObjectType, rec.ObjectID)
		switch {
		case err == nil:
		case db.IsNotFound(err):
			existing = nil
		case existing != nil && existing.ID != "":
			// The pending row for this key no longer decodes. Drop it here
			// rather than wedging every enqueue for the key until batch
			// selection happens to quarantine it.
			s.logger.Warn("dropping undecodable queue record",
				"merge_key", rec.MergeKey(), "error", err)
			if _, derr := tx.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, existing.ID); derr != nil {
				return derr
			}
			existing = nil
		default:
			return err
		}

		if existing == nil {
			stored = rec.Clone()
			return insertTx(ctx, tx, stored)
		}

		stored = Merge(existing, rec)
		merged = true
		return updateTx(ctx, tx, stored)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue operation for %s: %w", rec.MergeKey(), err)
	}

	return stored, merged, nil
}

// NextBatch selects up to max due records ordered by priority descending,
// then earliest-due first. Pure read; the caller decides what to do with the
// batch. Rows that no longer decode are dropped with a warning rather than
// blocking the queue.
func (s *Store) NextBatch(ctx context.Context, now time.Time, max int) ([]*Record, error) {
	if max <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + recordColumns + `
		FROM operations
		WHERE scheduled_at <= ?
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli(), max)
	if err != nil {
		return nil, fmt.Errorf("failed to select batch: %w", err)
	}
	defer rows.Close()

	var (
		batch     []*Record
		corrupted []string
	)

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("dropping undecodable queue record", "error", err)
			if rec != nil && rec.ID != "" {
				corrupted = append(corrupted, rec.ID)
			}
			continue
		}
		batch = append(batch, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range corrupted {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id); err != nil {
			s.logger.Warn("failed to remove undecodable queue record", "id", id, "error", err)
		}
	}

	return batch, nil
}

// Get retrieves the pending record for a merge key.
func (s *Store) Get(ctx context.Context, objectType, objectID string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM operations
		WHERE object_type = ? AND object_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, objectType, objectID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Reschedule persists a record's retry state after a failed dispatch.
func (s *Store) Reschedule(ctx context.Context, rec *Record) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET retry_count = ?, scheduled_at = ?
		WHERE id = ?
	`, rec.RetryCount, rec.ScheduledAt.UnixMilli(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to reschedule operation %s: %w", rec.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return db.ErrNotFound
	}

	return nil
}

// Remove deletes a record after a successful dispatch or a terminal failure.
// The delete is guarded by version: if an enqueue merged a newer edit into
// the row while the batch was in flight, the row survives and is dispatched
// on a later pass.
func (s *Store) Remove(ctx context.Context, id string, version int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM operations WHERE id = ? AND version = ?
	`, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to remove operation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// Stats returns queue-wide counts: everything pending, everything due now,
// and a per-kind breakdown.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{ByKind: make(map[Kind]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), SUM(CASE WHEN scheduled_at <= ? THEN 1 ELSE 0 END)
		FROM operations
		GROUP BY kind
	`, now.UnixMilli())
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			total int
			due   int
		)
		if err := rows.Scan(&kind, &total, &due); err != nil {
			return Stats{}, err
		}

		stats.Total += total
		stats.Due += due
		stats.ByKind[Kind(kind)] = total
	}

	return stats, rows.Err()
}

// Internal row plumbing

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec         Record
		kind        string
		payloadJSON string
		scheduledAt int64
		createdAt   int64
		priority    int
	)

	err := row.Scan(
		&rec.ID,
		&rec.ObjectType,
		&rec.ObjectID,
		&kind,
		&priority,
		&payloadJSON,
		&rec.Version,
		&rec.RetryCount,
		&rec.MaxRetries,
		&scheduledAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Priority = Priority(priority)
	rec.ScheduledAt = time.UnixMilli(scheduledAt)
	rec.CreatedAt = time.UnixMilli(createdAt)

	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		// The row scanned but its payload is garbage; hand the ID back so
		// the caller can quarantine it.
		return &rec, fmt.Errorf("failed to decode payload for %s: %w", rec.ID, err)
	}

	return &rec, nil
}

func insertTx(ctx context.Context, tx *db.Tx, rec *Record) error {
	payloadJSON, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.ObjectType,
		rec.ObjectID,
		string(rec.Kind),
		int(rec.Priority),
		payloadJSON,
		rec.Version,
		rec.RetryCount,
		rec.MaxRetries,
		rec.ScheduledAt.UnixMilli(),
		rec.CreatedAt.UnixMilli(),
	)
	if db.IsDuplicate(err) {
		// Another writer inserted this merge key between our lookup and the
		// insert; surface the sentinel so the enqueue can be retried as a
		// merge.
		return fmt.Errorf("operation for %s already pending: %w", rec.MergeKey(), db.ErrDuplicate)
	}
	return err
}

func updateTx(ctx context.Context, tx *db.Tx, rec *Record) error {
	payloadJSON, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE operations
		SET kind = ?, priority = ?, payload = ?, version = ?,
			retry_count = ?, max_retries = ?, scheduled_at = ?
		WHERE id = ?
	`,
		string(rec.Kind),
		int(rec.Priority),
		payloadJSON,
		rec.Version,
		rec.RetryCount,
		rec.MaxRetries,
		rec.ScheduledAt.UnixMilli(),
		rec.ID,
	)
	return err
}

func getByMergeKeyTx(ctx context.Context, tx *db.Tx, objectType, objectID string) (*Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM operations
		WHERE object_type = ? AND object_id = ?
	`, objectType, objectID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, db.ErrNotFound
	}

	// A decode failure hands back the partial record alongside the error so
	// the caller can quarantine the row.
	return rec, err
}

func encodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	return string(data), nil
}
