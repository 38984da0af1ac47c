// Package fetch implements the resilient fetch layer: lightweight HTTP GET
// with randomized User-Agent and jitter, exponential backoff, proxy
// escalation through the pool, and full-browser fallback after repeated
// failures.
//
// One Fetcher is instantiated per source adapter so failure state never
// leaks across unrelated providers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/adapter"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// ProxySource is the slice of the proxy pool the fetcher needs.
type ProxySource interface {
	Next(ctx context.Context) *store.ProxyEntry
	HasAlive(ctx context.Context) bool
	RecordSuccess(ctx context.Context, id string)
	RecordError(ctx context.Context, id, detail string)
}

// Renderer is the full-browser fallback path.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Fetcher fetches one provider's pages with escalating resilience.
// Not safe for concurrent use; the scheduler drives each instance from a
// single goroutine.
type Fetcher struct {
	cfg      config.FetchConfig
	pool     ProxySource
	renderer Renderer
	logger   *slog.Logger

	// failureCount is monotonic within a fetch cycle and reset by any
	// success. At cfg.FallbackAfter consecutive failures the instance
	// switches to browser rendering until a success clears it.
	failureCount    int
	browserFallback bool

	// test seams
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a Fetcher. pool and renderer may be nil: the fetcher then
// runs degraded (no escalation, no fallback) and simply retries longer.
func New(cfg config.FetchConfig, pool ProxySource, renderer Renderer, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.FallbackAfter <= 0 {
		cfg.FallbackAfter = 5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Fetcher{
		cfg:      cfg,
		pool:     pool,
		renderer: renderer,
		logger:   logger,
		sleep:    sleepCtx,
		jitter: func() time.Duration {
			return time.Duration(rand.IntN(1500)) * time.Millisecond
		},
	}
}

// Backoff returns the wait before retry attempt n: min(2^n * 1s, cap).
// Monotonically non-decreasing in n up to the cap.
func Backoff(n int, cap time.Duration) time.Duration {
	if n >= 30 {
		return cap
	}
	d := time.Duration(1<<uint(n)) * time.Second
	if d > cap {
		return cap
	}
	return d
}

// Fetch retrieves and parses a URL. It returns (nil, nil) for silent
// conditions (404/403: the source does not carry this data) and after a
// failed browser-fallback render the error is returned for diagnostics
// with a nil document. Retries are otherwise unbounded; callers bound
// latency with the context.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, headers map[string]string) (*adapter.Document, error) {
	useProxy := false

	for attempt := 0; ; attempt++ {
		if f.browserFallback {
			return f.renderFallback(ctx, pageURL)
		}

		if err := f.sleep(ctx, f.jitter()); err != nil {
			return nil, err
		}

		doc, proxyID, err := f.attempt(ctx, pageURL, headers, useProxy)
		if err == nil {
			f.failureCount = 0
			f.browserFallback = false
			if proxyID != "" {
				f.pool.RecordSuccess(ctx, proxyID)
			}
			return doc, nil
		}

		if he, ok := err.(*httpError); ok && silentStatus(he.code) {
			// Source does not apply; not an error, no retries.
			f.logger.Debug("fetch: silent status", "url", pageURL, "status", he.code)
			return nil, nil
		}

		f.failureCount++
		if proxyID != "" {
			f.pool.RecordError(ctx, proxyID, err.Error())
		}
		f.logger.Warn("fetch: attempt failed",
			"url", pageURL, "attempt", attempt+1,
			"failure_count", f.failureCount, "proxy", proxyID != "", "error", err)

		// Escalate to proxies once a failure has happened and alive
		// proxies exist. Proxies are an escalation, never a default.
		if !useProxy && f.pool != nil && f.pool.HasAlive(ctx) {
			useProxy = true
		}

		if f.failureCount >= f.cfg.FallbackAfter {
			f.browserFallback = true
			f.logger.Info("fetch: engaging browser fallback", "url", pageURL,
				"failures", f.failureCount)
			continue
		}

		if err := f.sleep(ctx, Backoff(attempt, f.cfg.MaxBackoff)); err != nil {
			return nil, err
		}
	}
}

// attempt runs one HTTP GET, optionally through the next pool proxy.
// Returns the proxy id used ("" if direct) alongside the outcome.
func (f *Fetcher) attempt(ctx context.Context, pageURL string, headers map[string]string, useProxy bool) (*adapter.Document, string, error) {
	client := &http.Client{Timeout: f.cfg.RequestTimeout}
	var proxyID string

	if useProxy && f.pool != nil {
		if entry := f.pool.Next(ctx); entry != nil {
			proxyID = entry.ID
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL(entry))}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, proxyID, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, proxyID, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, proxyID, &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, proxyID, fmt.Errorf("fetch: read body: %w", err)
	}

	doc, err := adapter.ParseDocument(pageURL, body)
	if err != nil {
		return nil, proxyID, err
	}
	return doc, proxyID, nil
}

// renderFallback drives the full browser path. A failure returns nil with
// the error for diagnostics; the scheduler re-attempts on its next tick.
func (f *Fetcher) renderFallback(ctx context.Context, pageURL string) (*adapter.Document, error) {
	if f.renderer == nil {
		return nil, fmt.Errorf("fetch: browser fallback engaged but no renderer configured")
	}
	html, err := f.renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: browser render: %w", err)
	}
	doc, err := adapter.ParseDocument(pageURL, html)
	if err != nil {
		return nil, err
	}
	// A successful render clears the failure streak and the fallback flag.
	f.failureCount = 0
	f.browserFallback = false
	return doc, nil
}

func proxyURL(e *store.ProxyEntry) *url.URL {
	u := &url.URL{
		Scheme: e.Protocol,
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
