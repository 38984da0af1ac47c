package status

import (
	"context"
	"testing"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/dbopen"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
	_ "modernc.org/sqlite"
)

var saoPaulo = time.FixedZone("-03", -3*60*60)

func newTestService(t *testing.T, cat *config.Catalog, now time.Time) (*Service, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	svc := NewService(st, cat, time.Minute, saoPaulo)
	svc.now = func() time.Time { return now }
	return svc, st
}

func testCatalog() *config.Catalog {
	return &config.Catalog{Entities: []config.Entity{
		{
			ID: "pt-rio", Name: "PT Rio",
			URLs:      map[string]string{"deunoposte": "http://x/pt-rio"},
			TimeSlots: []string{"11:20", "16:20", "21:20"},
		},
		{
			ID: "look-goias", Name: "Look Goiás",
			URLs:      map[string]string{"resultadofacil": "http://x/look"},
			TimeSlots: []string{"14:20"},
		},
	}}
}

func TestTodayMergesLedgerAndClock(t *testing.T) {
	// WHAT: Today reports one row per catalog slot: ledger rows pass
	// through as-is, absent rows read not_due or pending from the clock.
	// WHY: The status surface promises the full day's expectation, not
	// just what the scheduler has already touched.
	now := time.Date(2026, 2, 4, 15, 0, 0, 0, saoPaulo)
	svc, st := newTestService(t, testCatalog(), now)
	ctx := context.Background()

	// 11:20 succeeded through the scraper; 14:20 is due but untouched;
	// 16:20 and 21:20 are in the future.
	if err := st.UpsertPending(ctx, "pt-rio", "11:20", "2026-02-04"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.MarkSuccess(ctx, "pt-rio", "11:20", "2026-02-04", "scraper", "res_1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	statuses, err := svc.Today(ctx)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("statuses = %d, want 4", len(statuses))
	}

	byKey := make(map[string]SlotStatus)
	for _, s := range statuses {
		byKey[s.EntityID+"|"+s.Slot] = s
	}
	if s := byKey["pt-rio|11:20"]; s.Status != store.StatusSuccess || s.SourceUsed != "scraper" {
		t.Errorf("11:20 = %+v", s)
	}
	if s := byKey["look-goias|14:20"]; s.Status != store.StatusPending {
		t.Errorf("14:20 = %+v, want pending (due but untouched)", s)
	}
	if s := byKey["pt-rio|16:20"]; s.Status != "not_due" {
		t.Errorf("16:20 = %+v, want not_due", s)
	}
	if s := byKey["pt-rio|21:20"]; s.Status != "not_due" {
		t.Errorf("21:20 = %+v, want not_due", s)
	}
}

func TestForDatePastHasNoNotDue(t *testing.T) {
	// WHAT: For an explicit past date every absent slot reads pending,
	// never not_due.
	// WHY: Clock-derived states only make sense for today.
	now := time.Date(2026, 2, 4, 9, 0, 0, 0, saoPaulo)
	svc, _ := newTestService(t, testCatalog(), now)

	statuses, err := svc.ForDate(context.Background(), "2026-02-03")
	if err != nil {
		t.Fatalf("for date: %v", err)
	}
	for _, s := range statuses {
		if s.Status == "not_due" {
			t.Errorf("past date slot %s|%s reads not_due", s.EntityID, s.Slot)
		}
	}
}

func TestKPIToday(t *testing.T) {
	// WHAT: KPI counters partition the day's slots and the success rate
	// divides by processed (success+error) only.
	// WHY: Counting not-yet-due slots against the rate would make every
	// morning look like an outage.
	now := time.Date(2026, 2, 4, 15, 0, 0, 0, saoPaulo)
	svc, st := newTestService(t, testCatalog(), now)
	ctx := context.Background()

	if err := st.UpsertPending(ctx, "pt-rio", "11:20", "2026-02-04"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.MarkSuccess(ctx, "pt-rio", "11:20", "2026-02-04", "cached", "res_1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.UpsertPending(ctx, "look-goias", "14:20", "2026-02-04"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.MarkError(ctx, "look-goias", "14:20", "2026-02-04", "not yet published by any source", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	kpi, err := svc.KPIToday(ctx)
	if err != nil {
		t.Fatalf("kpi: %v", err)
	}
	if kpi.Date != "2026-02-04" {
		t.Errorf("date = %q", kpi.Date)
	}
	if kpi.Total != 4 || kpi.Processed != 2 || kpi.Success != 1 || kpi.Error != 1 {
		t.Errorf("kpi = %+v", kpi)
	}
	if kpi.NotYetDue != 2 || kpi.Pending != 0 {
		t.Errorf("kpi future split = %+v", kpi)
	}
	if kpi.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", kpi.SuccessRate)
	}
}

func TestKPIEmptyDay(t *testing.T) {
	// WHAT: With nothing processed the success rate is zero, not NaN.
	now := time.Date(2026, 2, 4, 5, 0, 0, 0, saoPaulo)
	svc, _ := newTestService(t, testCatalog(), now)

	kpi, err := svc.KPIToday(context.Background())
	if err != nil {
		t.Fatalf("kpi: %v", err)
	}
	if kpi.Total != 4 || kpi.NotYetDue != 4 || kpi.Processed != 0 {
		t.Errorf("kpi = %+v", kpi)
	}
	if kpi.SuccessRate != 0 {
		t.Errorf("success rate = %v, want 0", kpi.SuccessRate)
	}
}
