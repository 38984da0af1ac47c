package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/idgen"
)

// UpsertPending ensures a ledger row exists for (entity, slot, date) in
// pending state. A row already in success is left untouched; nothing ever
// downgrades success.
func (s *Store) UpsertPending(ctx context.Context, entityID, slot, drawDate string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO ingest_status (id, entity_id, slot, draw_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, slot, draw_date) DO UPDATE SET
			status = ?, updated_at = ?
		WHERE ingest_status.status != ?`,
		idgen.New(), entityID, slot, drawDate, StatusPending, now, now,
		StatusPending, now, StatusSuccess,
	)
	return err
}

// MarkRetrying moves a non-success row to retrying and increments attempts.
// Attempts only ever increase; this is the sole writer of the counter.
func (s *Store) MarkRetrying(ctx context.Context, entityID, slot, drawDate string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE ingest_status SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE entity_id = ? AND slot = ? AND draw_date = ? AND status != ?`,
		StatusRetrying, now, entityID, slot, drawDate, StatusSuccess,
	)
	return err
}

// MarkSuccess records a successful ingestion with its source and result ref.
func (s *Store) MarkSuccess(ctx context.Context, entityID, slot, drawDate, sourceUsed, resultID string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE ingest_status SET status = ?, source_used = ?, result_id = ?,
			last_error = '', next_retry_at = NULL, updated_at = ?
		WHERE entity_id = ? AND slot = ? AND draw_date = ?`,
		StatusSuccess, sourceUsed, resultID, now, entityID, slot, drawDate,
	)
	return err
}

// MarkError records a failed sweep with a diagnostic and the next retry time.
// Success rows are never downgraded.
func (s *Store) MarkError(ctx context.Context, entityID, slot, drawDate, diagnostic string, nextRetryAt time.Time) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE ingest_status SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE entity_id = ? AND slot = ? AND draw_date = ? AND status != ?`,
		StatusError, diagnostic, nextRetryAt.UnixMilli(), now,
		entityID, slot, drawDate, StatusSuccess,
	)
	return err
}

// GetStatus returns the ledger row for (entity, slot, date), or nil.
func (s *Store) GetStatus(ctx context.Context, entityID, slot, drawDate string) (*StatusRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, entity_id, slot, draw_date, status, attempts, last_error,
			source_used, next_retry_at, result_id, created_at, updated_at
		FROM ingest_status WHERE entity_id = ? AND slot = ? AND draw_date = ?`,
		entityID, slot, drawDate)
	rec, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListStatusByDate returns all ledger rows for a calendar date.
func (s *Store) ListStatusByDate(ctx context.Context, drawDate string) ([]*StatusRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, entity_id, slot, draw_date, status, attempts, last_error,
			source_used, next_retry_at, result_id, created_at, updated_at
		FROM ingest_status WHERE draw_date = ? ORDER BY entity_id, slot`,
		drawDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*StatusRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SweepStatus deletes ledger rows last updated before the cutoff.
// Returns the number of rows removed.
func (s *Store) SweepStatus(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM ingest_status WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(r rowScanner) (*StatusRecord, error) {
	var rec StatusRecord
	err := r.Scan(&rec.ID, &rec.EntityID, &rec.Slot, &rec.DrawDate, &rec.Status,
		&rec.Attempts, &rec.LastError, &rec.SourceUsed, &rec.NextRetryAt,
		&rec.ResultID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
