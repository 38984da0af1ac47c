// Package schedule implements the targeted ingestion control loop: a single
// recurring ticker that computes due (entity, slot) events, short-circuits
// already-ingested ones, drives source adapters through the resilient fetch
// layer for the rest, and records every outcome in the status ledger.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/adapter"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/ingest"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// Fetcher is the slice of the fetch layer the scheduler drives. One
// instance exists per provider so failure state never leaks across sources.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (*adapter.Document, error)
}

// FetcherFactory builds the per-provider Fetcher on first use.
type FetcherFactory func(providerKey string) Fetcher

// Scheduler runs the recurring ingestion sweep.
type Scheduler struct {
	store    *store.Store
	catalog  *config.Catalog
	recon    *ingest.Reconciler
	adapters adapter.Chain
	cfg      config.SchedulerConfig
	loc      *time.Location
	logger   *slog.Logger

	fetchers map[string]Fetcher

	// now is injectable so due-ness and grace logic are testable.
	now func() time.Time

	lastSweepDate string
}

// New creates a Scheduler.
func New(s *store.Store, cat *config.Catalog, recon *ingest.Reconciler, adapters adapter.Chain, factory FetcherFactory, cfg config.SchedulerConfig, loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	// One fetcher per provider, created up front. Each is wrapped in a
	// mutex: the fetch engine is a single-flow state machine, and a
	// provider serving several grouped URLs must not interleave cycles.
	fetchers := make(map[string]Fetcher, len(adapters))
	for _, a := range adapters {
		fetchers[a.Key()] = &serialFetcher{inner: factory(a.Key())}
	}
	return &Scheduler{
		store:    s,
		catalog:  cat,
		recon:    recon,
		adapters: adapters,
		cfg:      cfg,
		loc:      loc,
		logger:   logger,
		fetchers: fetchers,
		now:      time.Now,
	}
}

type serialFetcher struct {
	mu    sync.Mutex
	inner Fetcher
}

func (f *serialFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*adapter.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inner.Fetch(ctx, url, headers)
}

// Run drives sweeps on a ticker. Blocks until ctx is cancelled. A tick never
// terminates the loop: every error is absorbed, logged, and retried on the
// next fire.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler: started",
		"tick_interval", s.cfg.TickInterval,
		"grace_period", s.cfg.GracePeriod,
		"entities", len(s.catalog.Entities))

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// event is one originally-pending unit of work in a tick.
type event struct {
	entity *config.Entity
	slot   string
}

func eventKey(entityID, slot string) string { return entityID + "|" + slot }

// urlGroup is one physical fetch target and the due slots riding on it.
type urlGroup struct {
	providerKey string
	url         string
	due         []adapter.DueSlot
}

// Tick executes one full sweep. Safe to call directly in tests.
func (s *Scheduler) Tick(ctx context.Context) {
	started := time.Now()
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	now := s.now().In(s.loc)
	today := now.Format(time.DateOnly)

	pending := s.collectDue(ctx, now, today)
	if len(pending) > 0 {
		s.processPending(ctx, now, today, pending, started)
	}

	s.maybeSweep(ctx, today)
}

// collectDue walks every (entity, slot), upserts ledger rows for due events,
// short-circuits ones whose result already exists, and returns the rest.
func (s *Scheduler) collectDue(ctx context.Context, now time.Time, today string) []event {
	var pending []event
	for i := range s.catalog.Entities {
		entity := &s.catalog.Entities[i]
		for _, slot := range entity.TimeSlots {
			if !IsDue(slot, now, s.cfg.GracePeriod) {
				continue
			}
			if err := s.store.UpsertPending(ctx, entity.ID, slot, today); err != nil {
				s.logger.Warn("scheduler: upsert pending",
					"entity", entity.ID, "slot", slot, "error", err)
				continue
			}

			exists, id, err := s.store.HasResult(ctx, entity.ID, today, slot)
			if err != nil {
				s.logger.Warn("scheduler: result lookup",
					"entity", entity.ID, "slot", slot, "error", err)
				continue
			}
			if exists {
				// Steady state: already ingested, no network call.
				s.markCachedSuccess(ctx, entity.ID, slot, today, id)
				continue
			}
			pending = append(pending, event{entity: entity, slot: slot})
		}
	}
	return pending
}

// markCachedSuccess records a cached hit without clobbering the source of a
// row that already reached success through the scraper.
func (s *Scheduler) markCachedSuccess(ctx context.Context, entityID, slot, today, resultID string) {
	rec, err := s.store.GetStatus(ctx, entityID, slot, today)
	if err == nil && rec != nil && rec.Status == store.StatusSuccess {
		return
	}
	if err := s.store.MarkSuccess(ctx, entityID, slot, today, "cached", resultID); err != nil {
		s.logger.Warn("scheduler: mark cached success",
			"entity", entityID, "slot", slot, "error", err)
	}
}

// processPending groups pending events by physical URL, fetches each group
// once with bounded parallelism, runs the provider's adapter, and settles
// the ledger from the post-sweep state of the result store.
func (s *Scheduler) processPending(ctx context.Context, now time.Time, today string, pending []event, started time.Time) {
	groups := s.groupByURL(pending, today)

	var (
		diagMu sync.Mutex
		diags  = make(map[string][]string)
		errs   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)
	for _, grp := range groups {
		g.Go(func() error {
			if failure := s.processGroup(gctx, grp, today); failure != "" {
				diagMu.Lock()
				errs++
				for _, due := range grp.due {
					k := eventKey(due.EntityID, due.Slot)
					diags[k] = append(diags[k], failure)
				}
				diagMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	// Settle the ledger from what actually landed in the result store.
	var succeeded int
	for _, ev := range pending {
		exists, id, err := s.store.HasResult(ctx, ev.entity.ID, today, ev.slot)
		if err != nil {
			s.logger.Warn("scheduler: post-sweep lookup",
				"entity", ev.entity.ID, "slot", ev.slot, "error", err)
			continue
		}
		if exists {
			succeeded++
			if err := s.store.MarkSuccess(ctx, ev.entity.ID, ev.slot, today, "scraper", id); err != nil {
				s.logger.Warn("scheduler: mark success",
					"entity", ev.entity.ID, "slot", ev.slot, "error", err)
			}
			continue
		}
		diag := s.diagnostic(diags[eventKey(ev.entity.ID, ev.slot)])
		nextRetry := now.Add(s.cfg.TickInterval)
		if err := s.store.MarkError(ctx, ev.entity.ID, ev.slot, today, diag, nextRetry); err != nil {
			s.logger.Warn("scheduler: mark error",
				"entity", ev.entity.ID, "slot", ev.slot, "error", err)
		}
	}

	if err := s.store.AppendRun(ctx, &store.RunLogEntry{
		RunType:       "targeted",
		URLsProcessed: len(groups),
		ResultsFound:  succeeded,
		Errors:        errs,
		DurationMs:    time.Since(started).Milliseconds(),
		Detail:        fmt.Sprintf("pending=%d groups=%d", len(pending), len(groups)),
	}); err != nil {
		s.logger.Warn("scheduler: append run log", "error", err)
	}

	s.logger.Info("scheduler: sweep done",
		"pending", len(pending), "groups", len(groups),
		"succeeded", succeeded, "errors", errs,
		"duration_ms", time.Since(started).Milliseconds())
}

// groupByURL builds one fetch group per physical URL, in the adapter
// chain's priority order, so N entities sharing a page cost one fetch.
func (s *Scheduler) groupByURL(pending []event, today string) []urlGroup {
	index := make(map[string]int)
	var groups []urlGroup
	for _, a := range s.adapters {
		key := a.Key()
		for _, ev := range pending {
			u, ok := ev.entity.URLs[key]
			if !ok {
				continue
			}
			i, ok := index[u]
			if !ok {
				i = len(groups)
				index[u] = i
				groups = append(groups, urlGroup{providerKey: key, url: u})
			}
			groups[i].due = append(groups[i].due, adapter.DueSlot{
				EntityID: ev.entity.ID,
				Slot:     ev.slot,
				DrawDate: today,
			})
		}
	}
	return groups
}

// processGroup fetches one URL, runs its provider's adapter, and commits
// extracted records. Returns a non-empty failure string for diagnostics.
// Adapter and fetch panics or errors never escape a group.
func (s *Scheduler) processGroup(ctx context.Context, grp urlGroup, today string) (failure string) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Sprintf("%s: panic: %v", grp.providerKey, r)
			s.logger.Error("scheduler: adapter panic", "provider", grp.providerKey, "url", grp.url, "panic", r)
		}
	}()

	for _, due := range grp.due {
		if err := s.store.MarkRetrying(ctx, due.EntityID, due.Slot, today); err != nil {
			s.logger.Warn("scheduler: mark retrying",
				"entity", due.EntityID, "slot", due.Slot, "error", err)
		}
	}

	a := s.adapters.ForKey(grp.providerKey)
	if a == nil {
		return fmt.Sprintf("%s: no adapter registered", grp.providerKey)
	}

	doc, err := s.fetcherFor(grp.providerKey).Fetch(ctx, grp.url, nil)
	if err != nil {
		return fmt.Sprintf("%s: %v", grp.providerKey, err)
	}
	if doc == nil {
		// Silent: this source does not carry the data. Not a failure.
		return ""
	}

	records, err := a.Extract(doc, grp.due)
	if err != nil {
		return fmt.Sprintf("%s: extract: %v", grp.providerKey, err)
	}
	s.recon.Commit(ctx, grp.providerKey, records)
	return ""
}

func (s *Scheduler) fetcherFor(key string) Fetcher {
	return s.fetchers[key]
}

// diagnostic aggregates per-adapter failures into one human-readable string.
func (s *Scheduler) diagnostic(failures []string) string {
	if len(failures) == 0 {
		return "not yet published by any source"
	}
	seen := make(map[string]bool)
	var parts []string
	for _, f := range failures {
		if !seen[f] {
			seen[f] = true
			parts = append(parts, f)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// maybeSweep runs the 7-day ledger retention sweep once per calendar day.
func (s *Scheduler) maybeSweep(ctx context.Context, today string) {
	if s.lastSweepDate == today {
		return
	}
	s.lastSweepDate = today
	n, err := s.store.SweepStatus(ctx, s.now().AddDate(0, 0, -7))
	if err != nil {
		s.logger.Warn("scheduler: retention sweep", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduler: retention sweep", "removed", n)
	}
}
