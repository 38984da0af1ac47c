// Package proxy implements the proxy pool manager: a scored, persistent
// registry of proxy endpoints with collection from external directories,
// TCP liveness probing, round-robin rotation, and a transient blacklist.
//
// Score and the alive flag are deliberately independent signals: a proxy
// that connects fine but gets blocked by the target is punished via score
// and the blacklist without a new liveness probe, while unreachable proxies
// are caught cheaply by the TCP probe before ever being handed out.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// Pool manages the proxy registry.
type Pool struct {
	store  *store.Store
	cfg    config.ProxyConfig
	logger *slog.Logger
	client *http.Client

	// blacklist holds host:port pairs excluded from rotation until a
	// success or liveness probe re-admits them. In-memory only: a restart
	// clears it, which is fine — the durable score survives.
	blMu      sync.Mutex
	blacklist map[string]bool

	// cursor is the round-robin position over usable proxies.
	curMu  sync.Mutex
	cursor int

	collecting atomic.Bool
	testing    atomic.Bool
}

// NewPool creates a Pool on the given store.
func NewPool(s *store.Store, cfg config.ProxyConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:     s,
		cfg:       cfg,
		logger:    logger,
		client:    &http.Client{Timeout: 20 * time.Second},
		blacklist: make(map[string]bool),
	}
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Blacklisted reports whether host:port is currently excluded from rotation.
func (p *Pool) Blacklisted(host string, port int) bool {
	p.blMu.Lock()
	defer p.blMu.Unlock()
	return p.blacklist[hostPort(host, port)]
}

func (p *Pool) addBlacklist(host string, port int) {
	p.blMu.Lock()
	p.blacklist[hostPort(host, port)] = true
	p.blMu.Unlock()
}

func (p *Pool) removeBlacklist(host string, port int) {
	p.blMu.Lock()
	delete(p.blacklist, hostPort(host, port))
	p.blMu.Unlock()
}

// ClearBlacklist drops every transient exclusion.
func (p *Pool) ClearBlacklist() {
	p.blMu.Lock()
	p.blacklist = make(map[string]bool)
	p.blMu.Unlock()
}

// BlacklistSize returns the number of currently excluded proxies.
func (p *Pool) BlacklistSize() int {
	p.blMu.Lock()
	defer p.blMu.Unlock()
	return len(p.blacklist)
}

// Next returns the next usable proxy in round-robin order: enabled, alive,
// and not blacklisted. Returns nil if none qualify. Advancing the cursor
// and stamping last_used_at are side effects of the call.
func (p *Pool) Next(ctx context.Context) *store.ProxyEntry {
	usable, err := p.store.ListUsableProxies(ctx)
	if err != nil {
		p.logger.Warn("pool: list usable proxies", "error", err)
		return nil
	}

	var candidates []*store.ProxyEntry
	for _, e := range usable {
		if !p.Blacklisted(e.Host, e.Port) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	p.curMu.Lock()
	pick := candidates[p.cursor%len(candidates)]
	p.cursor++
	p.curMu.Unlock()

	if err := p.store.TouchProxyUsed(ctx, pick.ID); err != nil {
		p.logger.Warn("pool: touch proxy", "id", pick.ID, "error", err)
	}
	return pick
}

// HasAlive reports whether any enabled, alive, non-blacklisted proxy exists.
// The fetch layer uses this to decide whether proxy escalation is possible.
func (p *Pool) HasAlive(ctx context.Context) bool {
	usable, err := p.store.ListUsableProxies(ctx)
	if err != nil {
		return false
	}
	for _, e := range usable {
		if !p.Blacklisted(e.Host, e.Port) {
			return true
		}
	}
	return false
}

// RecordSuccess rewards a proxy after a successful fetch through it:
// +2 score (clamped at 100), last error cleared, blacklist entry removed.
func (p *Pool) RecordSuccess(ctx context.Context, id string) {
	entry, err := p.store.GetProxy(ctx, id)
	if err != nil || entry == nil {
		p.logger.Warn("pool: record success: unknown proxy", "id", id, "error", err)
		return
	}
	if err := p.store.RecordProxySuccess(ctx, id); err != nil {
		p.logger.Warn("pool: record success", "id", id, "error", err)
		return
	}
	p.removeBlacklist(entry.Host, entry.Port)
}

// RecordError punishes a proxy after a failed fetch through it: -5 score
// (clamped at 0), error counter bumped, detail stored, and the proxy goes
// on the transient blacklist so rotation skips it immediately.
func (p *Pool) RecordError(ctx context.Context, id, detail string) {
	entry, err := p.store.GetProxy(ctx, id)
	if err != nil || entry == nil {
		p.logger.Warn("pool: record error: unknown proxy", "id", id, "error", err)
		return
	}
	if err := p.store.RecordProxyError(ctx, id, detail); err != nil {
		p.logger.Warn("pool: record error", "id", id, "error", err)
		return
	}
	p.addBlacklist(entry.Host, entry.Port)
	p.logger.Debug("pool: proxy blacklisted", "host", entry.Host, "port", entry.Port, "detail", detail)
}

// Toggle flips a proxy's enabled flag and returns the new state.
func (p *Pool) Toggle(ctx context.Context, id string) (bool, error) {
	return p.store.ToggleProxy(ctx, id)
}

// Remove deletes a proxy from the registry.
func (p *Pool) Remove(ctx context.Context, id string) error {
	return p.store.DeleteProxy(ctx, id)
}

// RemoveAllDead purges dead proxies, sparing the paid origin whose entries
// are billed whether or not they answer probes.
func (p *Pool) RemoveAllDead(ctx context.Context) (int64, error) {
	return p.store.DeleteDeadProxies(ctx, p.cfg.PaidOrigin)
}

// ResetStats restores default score and zeroes counters on every proxy.
func (p *Pool) ResetStats(ctx context.Context) error {
	return p.store.ResetProxyStats(ctx)
}

// List returns all registry entries, highest score first.
func (p *Pool) List(ctx context.Context) ([]*store.ProxyEntry, error) {
	return p.store.ListProxies(ctx)
}
