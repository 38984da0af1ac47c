// Package adapter defines the source adapter capability: a pure function
// turning a fetched document plus the tick's due slots into zero or more
// extracted draw records. Adapters never touch storage; the reconciler is
// the single write path.
package adapter

import "github.com/AlfaStage/jogodobicho-api-sub000/internal/store"

// DueSlot names one (entity, slot, date) event the scheduler still needs.
type DueSlot struct {
	EntityID string
	Slot     string
	DrawDate string
}

// Record is one extracted draw result, not yet persisted.
type Record struct {
	EntityID string
	Slot     string
	DrawDate string
	Prizes   []store.PrizeEntry
}

// Adapter extracts records from a parsed provider page. Implementations must
// be pure functions of the document and the due-slot filter: same inputs,
// same outputs, no I/O.
type Adapter interface {
	// Key identifies the provider this adapter parses. It matches the
	// provider key in the entity catalog's urls map.
	Key() string

	// Extract returns every record the adapter can read off the document
	// for the given due slots. An empty slice means the source does not
	// (yet) carry the data; it is not an error.
	Extract(doc *Document, due []DueSlot) ([]Record, error)
}

// Chain is an ordered adapter list: primary first, then fallbacks. Adapters
// in a chain are not mutually exclusive within a tick; dedup happens at the
// result store.
type Chain []Adapter

// ForKey returns the adapter registered under the provider key, or nil.
func (c Chain) ForKey(key string) Adapter {
	for _, a := range c {
		if a.Key() == key {
			return a
		}
	}
	return nil
}
