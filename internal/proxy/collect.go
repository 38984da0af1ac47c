package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CollectResult summarizes one collection sweep.
type CollectResult struct {
	Found int `json:"found"`
	Added int `json:"added"`
}

// Collect pulls candidate proxies from every configured directory URL
// concurrently and upserts them by (host, port). Collection calls are
// mutually exclusive: a call while one is in flight is a no-op returning
// zero counts, to bound load on the external directories.
func (p *Pool) Collect(ctx context.Context) (CollectResult, error) {
	if !p.collecting.CompareAndSwap(false, true) {
		p.logger.Debug("pool: collect already running, skipping")
		return CollectResult{}, nil
	}
	defer p.collecting.Store(false)

	var (
		mu  sync.Mutex
		res CollectResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, dirURL := range p.cfg.DirectoryURLs {
		g.Go(func() error {
			lines, err := p.fetchDirectory(gctx, dirURL)
			if err != nil {
				// One dead directory must not abort the sweep.
				p.logger.Warn("pool: directory fetch failed", "url", dirURL, "error", err)
				return nil
			}
			origin := originLabel(dirURL)
			for _, line := range lines {
				entry, err := parseLine(line)
				if err != nil {
					continue
				}
				entry.Origin = origin
				inserted, err := p.store.UpsertProxy(gctx, entry)
				if err != nil {
					p.logger.Warn("pool: collect upsert", "host", entry.Host, "error", err)
					continue
				}
				mu.Lock()
				res.Found++
				if inserted {
					res.Added++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	p.logger.Info("pool: collect done", "found", res.Found, "added", res.Added,
		"directories", len(p.cfg.DirectoryURLs))
	return res, nil
}

func (p *Pool) fetchDirectory(ctx context.Context, dirURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dirURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pool: new request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pool: get directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pool: directory status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("pool: read directory: %w", err)
	}
	return strings.Split(string(body), "\n"), nil
}

// originLabel derives a stable source-of-origin label from a directory URL.
func originLabel(dirURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(dirURL, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i > 0 {
		s = s[:i]
	}
	return s
}
