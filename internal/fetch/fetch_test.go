package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

type fakePool struct {
	entries   []*store.ProxyEntry
	idx       int
	alive     bool
	successes []string
	errors    []string
}

func (fp *fakePool) Next(context.Context) *store.ProxyEntry {
	if len(fp.entries) == 0 {
		return nil
	}
	e := fp.entries[fp.idx%len(fp.entries)]
	fp.idx++
	return e
}

func (fp *fakePool) HasAlive(context.Context) bool { return fp.alive }

func (fp *fakePool) RecordSuccess(_ context.Context, id string) {
	fp.successes = append(fp.successes, id)
}

func (fp *fakePool) RecordError(_ context.Context, id, _ string) {
	fp.errors = append(fp.errors, id)
}

type fakeRenderer struct {
	calls int
	html  []byte
	err   error
}

func (fr *fakeRenderer) Render(context.Context, string) ([]byte, error) {
	fr.calls++
	return fr.html, fr.err
}

// newQuietFetcher returns a Fetcher with jitter and backoff sleeps
// neutralized so tests run instantly. Recorded sleeps land in the returned
// slice pointer.
func newQuietFetcher(cfg config.FetchConfig, pool ProxySource, r Renderer) (*Fetcher, *[]time.Duration) {
	f := New(cfg, pool, r, slog.Default())
	var slept []time.Duration
	f.jitter = func() time.Duration { return 0 }
	f.sleep = func(ctx context.Context, d time.Duration) error {
		if d > 0 {
			slept = append(slept, d)
		}
		return ctx.Err()
	}
	return f, &slept
}

func TestBackoff(t *testing.T) {
	// WHAT: Backoff doubles from 1s and saturates at the cap; it never
	// decreases, and absurd attempt counts do not overflow into negatives.
	// WHY: The retry ceiling is what keeps a dead source from hammering
	// itself while still recovering fast from blips.
	cap := 60 * time.Second
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for n, w := range want {
		if got := Backoff(n, cap); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, w)
		}
	}
	prev := time.Duration(0)
	for n := 0; n < 100; n++ {
		d := Backoff(n, cap)
		if d < prev || d > cap {
			t.Fatalf("Backoff(%d) = %v not monotonic within cap", n, d)
		}
		prev = d
	}
}

func TestFetchSuccess(t *testing.T) {
	// WHAT: A 200 response parses into a document and resets failure state.
	// WHY: The success path must clear any leftover streak or the next
	// hiccup would jump straight to the browser.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" {
			t.Error("missing Accept-Language header")
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent header")
		}
		fmt.Fprint(w, "<html><head><title>ok</title></head><body></body></html>")
	}))
	defer srv.Close()

	f, _ := newQuietFetcher(config.FetchConfig{}, nil, nil)
	f.failureCount = 3

	doc, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a document")
	}
	if got := doc.Title(); got != "ok" {
		t.Errorf("title = %q", got)
	}
	if f.failureCount != 0 {
		t.Errorf("failureCount = %d after success, want 0", f.failureCount)
	}
}

func TestFetchSilentStatuses(t *testing.T) {
	// WHAT: 404 and 403 return (nil, nil) with no retries and no failure
	// streak growth.
	// WHY: Those statuses mean "this source does not carry this draw" —
	// treating them as errors would drag every tick into the browser.
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			hits := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits++
				w.WriteHeader(code)
			}))
			defer srv.Close()

			f, _ := newQuietFetcher(config.FetchConfig{}, nil, nil)
			doc, err := f.Fetch(context.Background(), srv.URL, nil)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if doc != nil {
				t.Error("silent status must yield a nil document")
			}
			if hits != 1 {
				t.Errorf("server hit %d times, want 1", hits)
			}
			if f.failureCount != 0 {
				t.Errorf("failureCount = %d, want 0", f.failureCount)
			}
		})
	}
}

func TestBrowserFallbackAfterFiveFailures(t *testing.T) {
	// WHAT: Exactly five consecutive hard failures engage the browser
	// renderer; a successful render clears both the streak and the flag.
	// WHY: The fallback threshold is the contract between cheap HTTP and
	// the expensive browser — off-by-one here either wastes renders or
	// never recovers from bot walls.
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &fakeRenderer{html: []byte("<html><head><title>rendered</title></head><body></body></html>")}
	f, _ := newQuietFetcher(config.FetchConfig{FallbackAfter: 5}, nil, r)

	doc, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc == nil || doc.Title() != "rendered" {
		t.Fatal("expected the rendered document")
	}
	if hits != 5 {
		t.Errorf("HTTP attempts before fallback = %d, want 5", hits)
	}
	if r.calls != 1 {
		t.Errorf("renderer calls = %d, want 1", r.calls)
	}
	if f.failureCount != 0 || f.browserFallback {
		t.Errorf("state not reset: failures=%d fallback=%v", f.failureCount, f.browserFallback)
	}
}

func TestBrowserFallbackRenderFailure(t *testing.T) {
	// WHAT: A failed render surfaces the error with a nil document and
	// keeps the fallback flag set for the next cycle.
	// WHY: The scheduler records the diagnostic and retries next tick;
	// silently retrying HTTP here would loop forever against a bot wall.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &fakeRenderer{err: fmt.Errorf("browser crashed")}
	f, _ := newQuietFetcher(config.FetchConfig{FallbackAfter: 2}, nil, r)

	doc, err := f.Fetch(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected render error")
	}
	if doc != nil {
		t.Error("failed render must yield nil document")
	}
	if !f.browserFallback {
		t.Error("fallback flag must survive a failed render")
	}
}

func TestProxyEscalation(t *testing.T) {
	// WHAT: First failure escalates to the pool; a success through the
	// proxy rewards it and resets the streak.
	// WHY: Proxies are an escalation, never the default — the first
	// attempt must always go direct.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	// A plain-HTTP forward proxy receives the absolute URI; answering 200
	// directly is enough for the client side under test.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><head><title>via-proxy</title></head><body></body></html>")
	}))
	defer proxy.Close()

	pu, _ := url.Parse(proxy.URL)
	port, _ := strconv.Atoi(pu.Port())
	pool := &fakePool{
		alive: true,
		entries: []*store.ProxyEntry{
			{ID: "p1", Protocol: "http", Host: pu.Hostname(), Port: port},
		},
	}

	f, slept := newQuietFetcher(config.FetchConfig{MaxBackoff: 60 * time.Second}, pool, nil)
	doc, err := f.Fetch(context.Background(), target.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc == nil || doc.Title() != "via-proxy" {
		t.Fatal("expected document fetched through the proxy")
	}
	if len(pool.successes) != 1 || pool.successes[0] != "p1" {
		t.Errorf("proxy successes = %v, want [p1]", pool.successes)
	}
	if len(pool.errors) != 0 {
		t.Errorf("proxy errors = %v, want none", pool.errors)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("backoff sleeps = %v, want [1s] between the two attempts", *slept)
	}
}

func TestProxyFailureRecorded(t *testing.T) {
	// WHAT: An error through a proxy is attributed to that proxy.
	// WHY: Attribution feeds the pool's scoring and blacklist.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	pool := &fakePool{
		alive: true,
		entries: []*store.ProxyEntry{
			// Reserved TEST-NET address: dialing it fails fast enough.
			{ID: "dead1", Protocol: "http", Host: "192.0.2.1", Port: 9},
		},
	}
	r := &fakeRenderer{html: []byte("<html><body></body></html>")}
	f, _ := newQuietFetcher(config.FetchConfig{
		FallbackAfter:  3,
		RequestTimeout: 500 * time.Millisecond,
	}, pool, r)

	if _, err := f.Fetch(context.Background(), target.URL, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pool.errors) == 0 {
		t.Error("expected at least one recorded proxy error")
	}
	for _, id := range pool.errors {
		if id != "dead1" {
			t.Errorf("error attributed to %q, want dead1", id)
		}
	}
}

func TestFetchContextCancelled(t *testing.T) {
	// WHAT: Cancelling the context aborts the retry loop with ctx.Err.
	// WHY: The scheduler bounds each tick with a deadline; the fetcher
	// must honor it instead of spinning.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newQuietFetcher(config.FetchConfig{FallbackAfter: 100}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		attempts++
		if attempts > 4 {
			cancel()
		}
		return ctx.Err()
	}

	if _, err := f.Fetch(ctx, srv.URL, nil); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
