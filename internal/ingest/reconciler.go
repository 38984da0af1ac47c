// Package ingest commits extracted records to the result store and fans one
// physical page's content out across every entity sharing its URL.
//
// The reconciler is the single write path for results. It takes no locks:
// the unique index on (entity, date, slot) arbitrates every race between
// adapters, and only the winning insert triggers notification.
package ingest

import (
	"context"
	"log/slog"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/adapter"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// Notifier receives each newly committed result, fire-and-forget.
type Notifier interface {
	Notify(rec *store.ResultRecord)
}

// Reconciler is the idempotent result writer.
type Reconciler struct {
	store    *store.Store
	catalog  *config.Catalog
	notifier Notifier
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. notifier may be nil.
func NewReconciler(s *store.Store, cat *config.Catalog, n Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, catalog: cat, notifier: n, logger: logger}
}

// Commit applies extracted records from one source adapter. Each record is
// filtered through its entity's own slot list (an entity need not recognize
// every slot present on a shared page), then conditionally inserted.
// Returns the number of records that won their insert.
func (r *Reconciler) Commit(ctx context.Context, source string, records []adapter.Record) int {
	var committed int
	for _, rec := range records {
		entity := r.catalog.ByID(rec.EntityID)
		if entity == nil {
			r.logger.Warn("reconciler: record for unknown entity", "entity", rec.EntityID)
			continue
		}
		if !entity.HasSlot(rec.Slot) {
			// Shared page carries a slot this banner doesn't draw.
			continue
		}

		inserted, id, err := r.store.TryInsertResult(ctx, rec.EntityID, rec.DrawDate, rec.Slot, source, rec.Prizes)
		if err != nil {
			r.logger.Warn("reconciler: insert failed",
				"entity", rec.EntityID, "slot", rec.Slot, "error", err)
			continue
		}
		if !inserted {
			// Expected under multi-adapter races; never re-trigger
			// side effects for the loser.
			r.logger.Debug("reconciler: duplicate ignored",
				"entity", rec.EntityID, "slot", rec.Slot, "existing_id", id)
			continue
		}

		committed++
		r.logger.Info("reconciler: result committed",
			"entity", rec.EntityID, "date", rec.DrawDate, "slot", rec.Slot,
			"source", source, "id", id)

		if r.notifier != nil {
			r.notifier.Notify(&store.ResultRecord{
				ID:       id,
				EntityID: rec.EntityID,
				DrawDate: rec.DrawDate,
				Slot:     rec.Slot,
				Source:   source,
				Prizes:   rec.Prizes,
			})
		}
	}
	return committed
}
