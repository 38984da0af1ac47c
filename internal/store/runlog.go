package store

import (
	"context"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/idgen"
)

var newRunID = idgen.Prefixed("run_", idgen.Default)

// AppendRun records one full scraper sweep. Append-only.
func (s *Store) AppendRun(ctx context.Context, entry *RunLogEntry) error {
	if entry.ID == "" {
		entry.ID = newRunID()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scraper_runs (id, run_type, urls_processed, results_found,
			errors, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunType, entry.URLsProcessed, entry.ResultsFound,
		entry.Errors, entry.DurationMs, entry.Detail, entry.CreatedAt,
	)
	return err
}

// ListRuns returns the most recent sweep records, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_type, urls_processed, results_found, errors, duration_ms,
			detail, created_at
		FROM scraper_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*RunLogEntry
	for rows.Next() {
		var e RunLogEntry
		if err := rows.Scan(&e.ID, &e.RunType, &e.URLsProcessed, &e.ResultsFound,
			&e.Errors, &e.DurationMs, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
