package ingest

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/adapter"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/dbopen"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
	_ "modernc.org/sqlite"
)

type captureNotifier struct {
	mu   sync.Mutex
	recs []*store.ResultRecord
}

func (n *captureNotifier) Notify(rec *store.ResultRecord) {
	n.mu.Lock()
	n.recs = append(n.recs, rec)
	n.mu.Unlock()
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *captureNotifier) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	cat := &config.Catalog{Entities: []config.Entity{{
		ID:        "pt-rio",
		Name:      "PT Rio",
		URLs:      map[string]string{"deunoposte": "http://x/pt-rio"},
		TimeSlots: []string{"11:20", "16:20"},
	}}}
	n := &captureNotifier{}
	return NewReconciler(st, cat, n, slog.Default()), st, n
}

func rec(entity, slot string) adapter.Record {
	return adapter.Record{
		EntityID: entity,
		Slot:     slot,
		DrawDate: "2026-02-04",
		Prizes:   []store.PrizeEntry{{Position: 1, Value: "4829", Group: "08", Label: "Camelo"}},
	}
}

func TestCommitInsertsAndNotifiesOnce(t *testing.T) {
	// WHAT: A winning insert is persisted and notified exactly once; a
	// re-commit of the same draw loses the insert and stays silent.
	// WHY: Notification is a side effect of winning the unique index;
	// duplicate fan-out would double-post to downstream webhooks.
	r, st, n := newTestReconciler(t)
	ctx := context.Background()

	if got := r.Commit(ctx, "deunoposte", []adapter.Record{rec("pt-rio", "16:20")}); got != 1 {
		t.Fatalf("committed = %d, want 1", got)
	}
	if got := r.Commit(ctx, "resultadofacil", []adapter.Record{rec("pt-rio", "16:20")}); got != 0 {
		t.Fatalf("duplicate committed = %d, want 0", got)
	}

	if len(n.recs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.recs))
	}
	got := n.recs[0]
	if got.EntityID != "pt-rio" || got.Slot != "16:20" || got.Source != "deunoposte" {
		t.Errorf("notified record = %+v", got)
	}

	stored, err := st.GetResult(ctx, "pt-rio", "2026-02-04", "16:20")
	if err != nil || stored == nil {
		t.Fatalf("stored result missing: %v", err)
	}
	if stored.Source != "deunoposte" {
		t.Errorf("source = %q, want the first writer's", stored.Source)
	}
}

func TestCommitFiltersForeignSlots(t *testing.T) {
	// WHAT: Records for slots the entity does not draw, and for unknown
	// entities, are dropped without touching the store.
	// WHY: Shared provider pages carry other banners' slots; fanning them
	// in would fabricate draws that never happen.
	r, st, n := newTestReconciler(t)
	ctx := context.Background()

	got := r.Commit(ctx, "deunoposte", []adapter.Record{
		rec("pt-rio", "14:20"),   // slot not in the entity's list
		rec("ghost", "16:20"),    // unknown entity
		rec("pt-rio", "11:20"),   // legitimate
	})
	if got != 1 {
		t.Fatalf("committed = %d, want 1", got)
	}
	if len(n.recs) != 1 || n.recs[0].Slot != "11:20" {
		t.Errorf("notifications = %+v", n.recs)
	}

	exists, _, _ := st.HasResult(ctx, "pt-rio", "2026-02-04", "14:20")
	if exists {
		t.Error("foreign slot must not be stored")
	}
}

func TestCommitNilNotifier(t *testing.T) {
	// WHAT: A reconciler without a notifier still commits.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	cat := &config.Catalog{Entities: []config.Entity{{
		ID: "pt-rio", TimeSlots: []string{"16:20"},
		URLs: map[string]string{"deunoposte": "http://x"},
	}}}
	r := NewReconciler(st, cat, nil, slog.Default())

	if got := r.Commit(context.Background(), "deunoposte", []adapter.Record{rec("pt-rio", "16:20")}); got != 1 {
		t.Fatalf("committed = %d, want 1", got)
	}
}
