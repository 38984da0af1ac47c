package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/dbopen"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/idgen"
)

var newResultID = idgen.Prefixed("res_", idgen.Default)

// TryInsertResult atomically inserts a result for (entity, date, slot) unless
// one already exists. The unique index on results is the only arbiter: when
// two adapters race on the same logical event, exactly one insert lands and
// the loser receives the winner's id with inserted=false.
//
// Header and prize rows are written in one transaction; a false return must
// never re-trigger downstream side effects.
func (s *Store) TryInsertResult(ctx context.Context, entityID, drawDate, slot, source string, prizes []PrizeEntry) (inserted bool, id string, err error) {
	id = newResultID()
	now := time.Now().UnixMilli()

	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO results (id, entity_id, draw_date, slot, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, entityID, drawDate, slot, source, now,
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Lost the race (or result already ingested): surface the
			// existing id instead.
			inserted = false
			return tx.QueryRowContext(ctx,
				`SELECT id FROM results WHERE entity_id = ? AND draw_date = ? AND slot = ?`,
				entityID, drawDate, slot).Scan(&id)
		}
		for _, p := range prizes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO result_prizes (result_id, position, value, grp, label)
				VALUES (?, ?, ?, ?, ?)`,
				id, p.Position, p.Value, p.Group, p.Label,
			); err != nil {
				return fmt.Errorf("insert prize %d: %w", p.Position, err)
			}
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return inserted, id, nil
}

// GetResult returns the result for (entity, date, slot) with its prizes,
// or nil if none exists.
func (s *Store) GetResult(ctx context.Context, entityID, drawDate, slot string) (*ResultRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, entity_id, draw_date, slot, source, created_at
		FROM results WHERE entity_id = ? AND draw_date = ? AND slot = ?`,
		entityID, drawDate, slot)

	var rec ResultRecord
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.DrawDate, &rec.Slot, &rec.Source, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT position, value, grp, label FROM result_prizes
		WHERE result_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p PrizeEntry
		if err := rows.Scan(&p.Position, &p.Value, &p.Group, &p.Label); err != nil {
			return nil, err
		}
		rec.Prizes = append(rec.Prizes, p)
	}
	return &rec, rows.Err()
}

// HasResult reports whether a result exists for (entity, date, slot).
func (s *Store) HasResult(ctx context.Context, entityID, drawDate, slot string) (bool, string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id FROM results WHERE entity_id = ? AND draw_date = ? AND slot = ?`,
		entityID, drawDate, slot).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, id, nil
}

// ListResultsByDate returns all results (headers only) for a date.
func (s *Store) ListResultsByDate(ctx context.Context, drawDate string) ([]*ResultRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, entity_id, draw_date, slot, source, created_at
		FROM results WHERE draw_date = ? ORDER BY entity_id, slot`, drawDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.DrawDate, &rec.Slot, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
