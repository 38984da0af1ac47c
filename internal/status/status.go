// Package status computes the read-only status and KPI surface from the
// ledger plus the static entity catalog. The catalog supplies the day's
// full expected event count, including slots not yet due.
package status

import (
	"context"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/schedule"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// SlotStatus is the externally visible state of one (entity, slot) today.
// Slots with no ledger row yet report "not_due" or "pending" from the
// clock alone.
type SlotStatus struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Slot       string `json:"slot"`
	DrawDate   string `json:"draw_date"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	SourceUsed string `json:"source_used,omitempty"`
	NextRetry  *int64 `json:"next_retry_at,omitempty"`
	ResultID   string `json:"result_id,omitempty"`
}

// KPI aggregates one day's ingestion counters.
type KPI struct {
	Date        string  `json:"date"`
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Success     int     `json:"success"`
	Error       int     `json:"error"`
	Pending     int     `json:"pending"`
	NotYetDue   int     `json:"not_yet_due"`
	SuccessRate float64 `json:"success_rate"`
}

// Service answers status queries.
type Service struct {
	store   *store.Store
	catalog *config.Catalog
	grace   time.Duration
	loc     *time.Location

	// now is injectable for tests.
	now func() time.Time
}

// NewService creates a status Service.
func NewService(s *store.Store, cat *config.Catalog, grace time.Duration, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: s, catalog: cat, grace: grace, loc: loc, now: time.Now}
}

// Today returns the status of every expected event for the current date.
func (s *Service) Today(ctx context.Context) ([]SlotStatus, error) {
	now := s.now().In(s.loc)
	return s.forDate(ctx, now.Format(time.DateOnly), &now)
}

// ForDate returns the status of every expected event for an arbitrary date.
// Past dates have no "not yet due" slots; ledger absence means pending.
func (s *Service) ForDate(ctx context.Context, date string) ([]SlotStatus, error) {
	return s.forDate(ctx, date, nil)
}

func (s *Service) forDate(ctx context.Context, date string, now *time.Time) ([]SlotStatus, error) {
	rows, err := s.store.ListStatusByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*store.StatusRecord, len(rows))
	for _, r := range rows {
		byKey[r.EntityID+"|"+r.Slot] = r
	}

	var out []SlotStatus
	for i := range s.catalog.Entities {
		e := &s.catalog.Entities[i]
		for _, slot := range e.TimeSlots {
			st := SlotStatus{
				EntityID:   e.ID,
				EntityName: e.Name,
				Slot:       slot,
				DrawDate:   date,
				Status:     store.StatusPending,
			}
			if rec, ok := byKey[e.ID+"|"+slot]; ok {
				st.Status = rec.Status
				st.Attempts = rec.Attempts
				st.LastError = rec.LastError
				st.SourceUsed = rec.SourceUsed
				st.NextRetry = rec.NextRetryAt
				st.ResultID = rec.ResultID
			} else if now != nil && !schedule.IsDue(slot, *now, s.grace) {
				st.Status = "not_due"
			}
			out = append(out, st)
		}
	}
	return out, nil
}

// KPIToday aggregates today's counters and success rate.
func (s *Service) KPIToday(ctx context.Context) (KPI, error) {
	statuses, err := s.Today(ctx)
	if err != nil {
		return KPI{}, err
	}

	kpi := KPI{
		Date:  s.now().In(s.loc).Format(time.DateOnly),
		Total: len(statuses),
	}
	for _, st := range statuses {
		switch st.Status {
		case store.StatusSuccess:
			kpi.Success++
			kpi.Processed++
		case store.StatusError:
			kpi.Error++
			kpi.Processed++
		case "not_due":
			kpi.NotYetDue++
		default: // pending, retrying
			kpi.Pending++
		}
	}
	if processed := kpi.Success + kpi.Error; processed > 0 {
		kpi.SuccessRate = float64(kpi.Success) / float64(processed)
	}
	return kpi, nil
}
