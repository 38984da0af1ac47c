// Package store implements all SQL persistence: the ingestion status ledger,
// the write-once result store, the proxy registry, and the scraper run log.
package store

import "database/sql"

// Store wraps the service database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store on an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
