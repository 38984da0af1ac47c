package store

import "database/sql"

// Schema is the complete ingestion schema. Uniqueness constraints are the
// synchronization mechanism for cross-adapter dedup: no application-level
// locks protect result inserts.
const Schema = `
-- Ingestion status ledger: one row per (entity, slot, date)
CREATE TABLE IF NOT EXISTS ingest_status (
    id            TEXT PRIMARY KEY,
    entity_id     TEXT NOT NULL,
    slot          TEXT NOT NULL,
    draw_date     TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT '',
    source_used   TEXT NOT NULL DEFAULT '',
    next_retry_at INTEGER,
    result_id     TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    UNIQUE(entity_id, slot, draw_date)
);
CREATE INDEX IF NOT EXISTS idx_ingest_status_date ON ingest_status(draw_date);

-- Canonical draw results: write-once per (entity, date, slot)
CREATE TABLE IF NOT EXISTS results (
    id         TEXT PRIMARY KEY,
    entity_id  TEXT NOT NULL,
    draw_date  TEXT NOT NULL,
    slot       TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    UNIQUE(entity_id, draw_date, slot)
);
CREATE INDEX IF NOT EXISTS idx_results_date ON results(draw_date);

CREATE TABLE IF NOT EXISTS result_prizes (
    result_id TEXT NOT NULL REFERENCES results(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL,
    value     TEXT NOT NULL,
    grp       TEXT NOT NULL DEFAULT '',
    label     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (result_id, position)
);

-- Proxy registry: one row per (host, port)
CREATE TABLE IF NOT EXISTS proxies (
    id             TEXT PRIMARY KEY,
    protocol       TEXT NOT NULL DEFAULT 'http',
    host           TEXT NOT NULL,
    port           INTEGER NOT NULL,
    username       TEXT NOT NULL DEFAULT '',
    password       TEXT NOT NULL DEFAULT '',
    origin         TEXT NOT NULL DEFAULT '',
    enabled        INTEGER NOT NULL DEFAULT 1,
    alive          INTEGER NOT NULL DEFAULT 0,
    latency_ms     INTEGER NOT NULL DEFAULT 0,
    score          INTEGER NOT NULL DEFAULT 50,
    success_count  INTEGER NOT NULL DEFAULT 0,
    error_count    INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT NOT NULL DEFAULT '',
    last_used_at   INTEGER,
    last_tested_at INTEGER,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    UNIQUE(host, port)
);
CREATE INDEX IF NOT EXISTS idx_proxies_usable ON proxies(enabled, alive);

-- Scraper run log (observability, append-only)
CREATE TABLE IF NOT EXISTS scraper_runs (
    id             TEXT PRIMARY KEY,
    run_type       TEXT NOT NULL,
    urls_processed INTEGER NOT NULL DEFAULT 0,
    results_found  INTEGER NOT NULL DEFAULT 0,
    errors         INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    detail         TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scraper_runs_time ON scraper_runs(created_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
