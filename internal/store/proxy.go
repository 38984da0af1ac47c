package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/idgen"
)

var newProxyID = idgen.Prefixed("pxy_", idgen.Default)

// UpsertProxy inserts a proxy keyed by (host, port). New pairs start at
// score 50, enabled, not alive. Existing pairs only have protocol, origin,
// and credentials refreshed; counters and score are untouched.
// Returns true if a new row was inserted.
func (s *Store) UpsertProxy(ctx context.Context, p *ProxyEntry) (bool, error) {
	now := time.Now().UnixMilli()
	if p.Protocol == "" {
		p.Protocol = "http"
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO proxies (id, protocol, host, port, username, password,
			origin, enabled, alive, score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, 50, ?, ?)`,
		newProxyID(), p.Protocol, p.Host, p.Port, p.Username, p.Password, p.Origin,
		now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Existing pair: refresh identity fields only, never counters or score.
	_, err = s.DB.ExecContext(ctx,
		`UPDATE proxies SET protocol = ?, username = ?, password = ?, origin = ?, updated_at = ?
		WHERE host = ? AND port = ?`,
		p.Protocol, p.Username, p.Password, p.Origin, now, p.Host, p.Port,
	)
	return false, err
}

// InsertProxy adds a proxy only if its (host, port) pair is new. Existing
// pairs are left completely untouched. Returns true on insert.
func (s *Store) InsertProxy(ctx context.Context, p *ProxyEntry) (bool, error) {
	now := time.Now().UnixMilli()
	if p.Protocol == "" {
		p.Protocol = "http"
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO proxies (id, protocol, host, port, username, password,
			origin, enabled, alive, score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, 50, ?, ?)`,
		newProxyID(), p.Protocol, p.Host, p.Port, p.Username, p.Password, p.Origin,
		now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetProxy returns a proxy by id, or nil.
func (s *Store) GetProxy(ctx context.Context, id string) (*ProxyEntry, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+proxyCols+` FROM proxies WHERE id = ?`, id)
	p, err := scanProxy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListProxies returns all proxies, highest score first.
func (s *Store) ListProxies(ctx context.Context) ([]*ProxyEntry, error) {
	return s.queryProxies(ctx, `SELECT `+proxyCols+` FROM proxies ORDER BY score DESC, host, port`)
}

// ListEnabledProxies returns enabled proxies in stable (host, port) order,
// which the pool's round-robin cursor depends on.
func (s *Store) ListEnabledProxies(ctx context.Context) ([]*ProxyEntry, error) {
	return s.queryProxies(ctx, `SELECT `+proxyCols+` FROM proxies WHERE enabled = 1 ORDER BY host, port`)
}

// ListUsableProxies returns enabled AND alive proxies in stable order.
func (s *Store) ListUsableProxies(ctx context.Context) ([]*ProxyEntry, error) {
	return s.queryProxies(ctx, `SELECT `+proxyCols+` FROM proxies WHERE enabled = 1 AND alive = 1 ORDER BY host, port`)
}

// RecordProbe stores a TCP probe outcome: alive flag, measured latency, and
// a score nudge (+1 alive, -10 dead), clamped to [0,100].
func (s *Store) RecordProbe(ctx context.Context, id string, alive bool, latencyMs int64) error {
	now := time.Now().UnixMilli()
	delta := 1
	if !alive {
		delta = -10
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET alive = ?, latency_ms = ?, last_tested_at = ?,
			score = MAX(0, MIN(100, score + ?)), updated_at = ?
		WHERE id = ?`,
		alive, latencyMs, now, delta, now, id,
	)
	return err
}

// RecordProxySuccess bumps score by +2 (clamped at 100), increments the
// success counter, and clears the last error.
func (s *Store) RecordProxySuccess(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET score = MIN(100, score + 2), success_count = success_count + 1,
			last_error = '', updated_at = ?
		WHERE id = ?`, now, id)
	return err
}

// RecordProxyError drops score by 5 (clamped at 0), increments the error
// counter, and stores the truncated error detail.
func (s *Store) RecordProxyError(ctx context.Context, id, detail string) error {
	now := time.Now().UnixMilli()
	if len(detail) > 200 {
		detail = detail[:200]
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET score = MAX(0, score - 5), error_count = error_count + 1,
			last_error = ?, updated_at = ?
		WHERE id = ?`, detail, now, id)
	return err
}

// TouchProxyUsed records that the proxy was handed out by the rotation.
func (s *Store) TouchProxyUsed(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET last_used_at = ? WHERE id = ?`, now, id)
	return err
}

// ToggleProxy flips the enabled flag. Returns the new state.
func (s *Store) ToggleProxy(ctx context.Context, id string) (bool, error) {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET enabled = 1 - enabled, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return false, err
	}
	var enabled bool
	err = s.DB.QueryRowContext(ctx, `SELECT enabled FROM proxies WHERE id = ?`, id).Scan(&enabled)
	return enabled, err
}

// DeleteProxy removes a proxy by id.
func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM proxies WHERE id = ?`, id)
	return err
}

// DeleteDeadProxies removes all dead proxies except those from the
// privileged paid origin. Returns the number removed.
func (s *Store) DeleteDeadProxies(ctx context.Context, paidOrigin string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM proxies WHERE alive = 0 AND origin != ?`, paidOrigin)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetProxyStats zeroes counters and restores the default score on all rows.
func (s *Store) ResetProxyStats(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE proxies SET score = 50, success_count = 0, error_count = 0,
			last_error = '', updated_at = ?`, now)
	return err
}

const proxyCols = `id, protocol, host, port, username, password, origin, enabled,
	alive, latency_ms, score, success_count, error_count, last_error,
	last_used_at, last_tested_at, created_at, updated_at`

func (s *Store) queryProxies(ctx context.Context, q string, args ...any) ([]*ProxyEntry, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proxies []*ProxyEntry
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, rows.Err()
}

func scanProxy(r rowScanner) (*ProxyEntry, error) {
	var p ProxyEntry
	err := r.Scan(&p.ID, &p.Protocol, &p.Host, &p.Port, &p.Username, &p.Password,
		&p.Origin, &p.Enabled, &p.Alive, &p.LatencyMs, &p.Score, &p.SuccessCount,
		&p.ErrorCount, &p.LastError, &p.LastUsedAt, &p.LastTestedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
