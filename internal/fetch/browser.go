package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// NavScript describes how the browser approaches a host before extracting
// the target page: land on the home page, poke the menu like a human would,
// scroll, and let the page settle. Sites that demand realistic interaction
// and JS execution give up their content this way.
type NavScript struct {
	MenuSelector string        // optional element to click on the home page
	Scroll       bool          // scroll to the bottom before extraction
	Settle       time.Duration // wait after the final navigation
}

var defaultScript = NavScript{Scroll: true, Settle: 2 * time.Second}

// Browser renders pages through a real Chrome engine with stealth applied.
// The Chrome process is launched lazily on first render and shared across
// calls; Close shuts it down.
type Browser struct {
	remoteURL string
	scripts   map[string]NavScript // keyed by host
	logger    *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser creates a Browser. remoteURL may point at an external Chrome
// instance; empty launches a local headless one. scripts maps hostnames to
// navigation scripts; hosts without an entry use a default scroll-and-settle
// script.
func NewBrowser(remoteURL string, scripts map[string]NavScript, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	if scripts == nil {
		scripts = map[string]NavScript{}
	}
	return &Browser{remoteURL: remoteURL, scripts: scripts, logger: logger}
}

// Render navigates to pageURL through the host's navigation script and
// returns the final DOM as HTML.
func (b *Browser) Render(ctx context.Context, pageURL string) ([]byte, error) {
	br, err := b.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("browser: parse url: %w", err)
	}
	script, ok := b.scripts[u.Hostname()]
	if !ok {
		script = defaultScript
	}

	navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	p := page.Context(navCtx)

	// Land on the home page first so the site sees a plausible entry.
	home := u.Scheme + "://" + u.Host + "/"
	if err := p.Navigate(home); err != nil {
		return nil, fmt.Errorf("browser: navigate home %s: %w", home, err)
	}
	if err := p.WaitLoad(); err != nil {
		b.logger.Warn("browser: home wait load", "url", home, "error", err)
	}

	if script.MenuSelector != "" {
		if el, err := p.Timeout(5 * time.Second).Element(script.MenuSelector); err == nil {
			if err := el.Click("left", 1); err != nil {
				b.logger.Debug("browser: menu click failed", "selector", script.MenuSelector, "error", err)
			}
		}
	}

	if home != pageURL {
		if err := p.Navigate(pageURL); err != nil {
			return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
		}
		if err := p.WaitLoad(); err != nil {
			b.logger.Warn("browser: wait load", "url", pageURL, "error", err)
		}
	}

	if script.Scroll {
		if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			b.logger.Debug("browser: scroll failed", "error", err)
		}
	}

	settle := script.Settle
	if settle <= 0 {
		settle = defaultScript.Settle
	}
	if err := sleepCtx(navCtx, settle); err != nil {
		return nil, err
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: extract html: %w", err)
	}
	return []byte(html), nil
}

func (b *Browser) ensureBrowser() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	var br *rod.Browser
	if b.remoteURL != "" {
		br = rod.New().ControlURL(b.remoteURL)
	} else {
		b.lnch = launcher.New().Headless(true).NoSandbox(true)
		wsURL, err := b.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch chrome: %w", err)
		}
		br = rod.New().ControlURL(wsURL)
	}

	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br
	b.logger.Info("browser: connected", "remote", b.remoteURL != "")
	return br, nil
}

// Close shuts down the browser and its Chrome process if one was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	b.browser = nil
	return err
}
