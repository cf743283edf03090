package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/ratelimit"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// WaitSelector is awaited after navigation so client-rendered listings
	// are in the DOM before the content is read. Empty disables the wait.
	WaitSelector string
	MaxAttempts  int
}

// DefaultOptions returns headless Chromium settings.
func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "es-419,es;q=0.9,en;q=0.8",
		TimezoneID:     "America/Mexico_City",
		Locale:         "es-MX",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "es-419,es;q=0.9,en;q=0.8",
			"DNT":             "1",
		},
		WaitSelector: ".ui-search-layout__item, .poly-card, .ui-pdp-title",
		MaxAttempts:  3,
	}
}

// New starts playwright and launches the browser.
func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Fetch renders url in a fresh page and returns the resulting DOM, so Browser
// can stand in for the HTTP fetcher on pages that need JavaScript.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	page, err := b.NewPage()
	if err != nil {
		return "", &fetcher.FetchError{URL: url, Kind: fetcher.KindTransient, Err: err}
	}
	defer page.Close()

	status, err := b.navigateWithRetry(ctx, page, url)
	if err != nil {
		return "", err
	}
	if ferr := statusError(url, status); ferr != nil {
		return "", ferr
	}

	if b.opts.WaitSelector != "" {
		err := page.Locator(b.opts.WaitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(float64(b.opts.Timeout.Milliseconds()) / 3),
		})
		if err != nil {
			b.logger.Debug("wait selector not found", "url", url, "selector", b.opts.WaitSelector)
		}
	}

	if err := b.scrollForLazyContent(ctx, page); err != nil {
		return "", err
	}

	content, err := page.Content()
	if err != nil {
		return "", &fetcher.FetchError{URL: url, Kind: fetcher.KindTransient, Err: fmt.Errorf("read content: %w", err)}
	}
	if fetcher.IsBlockedPage(content) {
		title, _ := page.Title()
		b.logger.Warn("bot protection detected", "url", url, "title", title)
		return "", &fetcher.FetchError{URL: url, Kind: fetcher.KindBlocked, StatusCode: status, Err: fetcher.ErrBlocked}
	}
	return content, nil
}

func (b *Browser) navigateWithRetry(ctx context.Context, page playwright.Page, url string) (int, error) {
	var lastErr error

	for i := 0; i < b.opts.MaxAttempts; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := ratelimit.Sleep(ctx, time.Duration(i+1)*time.Second); err != nil {
				return 0, err
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			if resp == nil {
				return http.StatusOK, nil
			}
			if s := resp.Status(); s != http.StatusTooManyRequests && s != http.StatusServiceUnavailable {
				return s, nil
			}
			err = fmt.Errorf("status %d", resp.Status())
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return 0, &fetcher.FetchError{
		URL:      url,
		Kind:     fetcher.KindTransient,
		Attempts: b.opts.MaxAttempts,
		Err:      fmt.Errorf("failed after %d retries: %w", b.opts.MaxAttempts, lastErr),
	}
}

// scrollForLazyContent scrolls the page a few times so lazily rendered
// result cards and images are present in the DOM.
func (b *Browser) scrollForLazyContent(ctx context.Context, page playwright.Page) error {
	for i := 0; i < 3; i++ {
		if _, err := page.Evaluate(`window.scrollBy(0, window.innerHeight)`); err != nil {
			return nil
		}
		if err := ratelimit.Sleep(ctx, time.Duration(300+i*100)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// statusError maps a final navigation status onto the fetcher error kinds.
func statusError(url string, status int) *fetcher.FetchError {
	switch {
	case status == 0 || (status >= 200 && status < 400):
		return nil
	case status == http.StatusNotFound:
		return &fetcher.FetchError{URL: url, Kind: fetcher.KindNotFound, StatusCode: status, Err: fetcher.ErrNotFound}
	case status == http.StatusForbidden:
		return &fetcher.FetchError{URL: url, Kind: fetcher.KindBlocked, StatusCode: status, Err: fetcher.ErrBlocked}
	default:
		return &fetcher.FetchError{URL: url, Kind: fetcher.KindPermanent, StatusCode: status,
			Err: fmt.Errorf("unexpected status %d", status)}
	}
}

var _ fetcher.Fetcher = (*Browser)(nil)
