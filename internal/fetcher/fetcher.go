package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/price-research-scraper/internal/metrics"
	"github.com/maltedev/price-research-scraper/internal/ratelimit"
)

// Fetcher retrieves the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Func adapts a plain function to Fetcher.
type Func func(ctx context.Context, url string) (string, error)

func (f Func) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgents    []string
	Headers       map[string]string
	Timeout       time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffJitter time.Duration
	JitterMin     time.Duration
	JitterMax     time.Duration
	MaxBodyBytes  int64
	ProxyURL      string
	DetectBlocked bool
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultOptions returns the retry, timeout and jitter settings used in production.
func DefaultOptions() Options {
	return Options{
		UserAgents:    []string{defaultUserAgent},
		Headers:       DefaultHeaders(),
		Timeout:       30 * time.Second,
		MaxAttempts:   3,
		BaseDelay:     2 * time.Second,
		BackoffJitter: time.Second,
		JitterMin:     500 * time.Millisecond,
		JitterMax:     1500 * time.Millisecond,
		MaxBodyBytes:  10 * 1024 * 1024,
		DetectBlocked: true,
	}
}

// DefaultHeaders is the header set of a desktop Chrome navigating to a page.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           "es-419,es;q=0.9,en;q=0.8",
		"Accept-Encoding":           "gzip, deflate, br",
		"Cache-Control":             "max-age=0",
		"Sec-Ch-Ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
}

// HTTPFetcher implements Fetcher with a bounded retry budget and exponential
// backoff on throttling responses. It keeps no cookies between requests.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	logger  *slog.Logger
	jitter  *ratelimit.Adaptive
	pacer   ratelimit.RateLimiter
	sleep   ratelimit.SleepFunc
	metrics *metrics.Registry
}

// NewHTTPFetcher creates a fetcher from opts. It fails when the jitter window or proxy URL is invalid.
func NewHTTPFetcher(opts Options, logger *slog.Logger) (*HTTPFetcher, error) {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = def.UserAgents
	}
	if opts.Headers == nil {
		opts.Headers = def.Headers
	}
	if opts.JitterMax < opts.JitterMin {
		return nil, fmt.Errorf("jitter max %s below min %s", opts.JitterMax, opts.JitterMin)
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// bodies are decoded by readBody so brotli works too
		DisableCompression: true,
	}

	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:   opts,
		logger: logger.With("component", "fetcher"),
		jitter: ratelimit.NewAdaptive(opts.JitterMin, opts.JitterMax),
		sleep:  ratelimit.Sleep,
	}, nil
}

// WithSleep replaces every wait (pre-request jitter and backoff).
func (f *HTTPFetcher) WithSleep(s ratelimit.SleepFunc) *HTTPFetcher {
	f.sleep = s
	f.jitter.WithSleep(s)
	return f
}

func (f *HTTPFetcher) WithRand(r *rand.Rand) *HTTPFetcher {
	f.jitter.WithRand(r)
	return f
}

// WithLimiter paces requests through a limiter shared with other fetchers.
func (f *HTTPFetcher) WithLimiter(l ratelimit.RateLimiter) *HTTPFetcher {
	f.pacer = l
	return f
}

func (f *HTTPFetcher) WithMetrics(m *metrics.Registry) *HTTPFetcher {
	f.metrics = m
	return f
}

func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Fetch downloads url, retrying transient failures up to MaxAttempts times.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	var lastErr *FetchError

	for attempt := 0; attempt < f.opts.MaxAttempts; attempt++ {
		if err := f.jitter.Wait(ctx); err != nil {
			return "", err
		}
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx); err != nil {
				return "", err
			}
		}

		body, ferr := f.attempt(ctx, rawURL)
		if ferr == nil {
			f.jitter.RecordSuccess()
			return body, nil
		}
		ferr.Attempts = attempt + 1
		lastErr = ferr

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		switch ferr.Kind {
		case KindNotFound, KindBlocked:
			return "", ferr
		}
		if errors.Is(ferr, ErrRateLimited) || errors.Is(ferr, ErrServerBusy) {
			f.jitter.RecordError()
		}
		if attempt == f.opts.MaxAttempts-1 {
			break
		}

		delay := f.backoff(attempt)
		f.logger.Warn("fetch failed, retrying",
			"url", rawURL,
			"status", ferr.StatusCode,
			"attempt", attempt+1,
			"max_attempts", f.opts.MaxAttempts,
			"delay", delay,
			"error", ferr.Err)

		if err := f.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

// backoff is BaseDelay * 2^attempt plus up to BackoffJitter of noise.
func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	return f.opts.BaseDelay*time.Duration(1<<attempt) + f.jitter.Uniform(0, f.opts.BackoffJitter)
}

func (f *HTTPFetcher) attempt(ctx context.Context, rawURL string) (string, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Kind: KindPermanent, Err: fmt.Errorf("build request: %w", err)}
	}

	for k, v := range f.opts.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", f.userAgent())

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveFetch("network_error", time.Since(start))
		return "", &FetchError{URL: rawURL, Kind: KindTransient, Err: err}
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		body, err := readBody(resp, f.opts.MaxBodyBytes)
		if err != nil {
			f.metrics.ObserveFetch("read_error", time.Since(start))
			return "", &FetchError{URL: rawURL, Kind: KindTransient, StatusCode: status, Err: err}
		}
		html := string(body)
		if f.opts.DetectBlocked && IsBlockedPage(html) {
			f.metrics.ObserveFetch("blocked", time.Since(start))
			return "", &FetchError{URL: rawURL, Kind: KindBlocked, StatusCode: status, Err: ErrBlocked}
		}
		f.metrics.ObserveFetch("ok", time.Since(start))
		return html, nil

	case status == http.StatusTooManyRequests:
		drain(resp)
		f.metrics.ObserveFetch("rate_limited", time.Since(start))
		return "", &FetchError{URL: rawURL, Kind: KindTransient, StatusCode: status, Err: ErrRateLimited}

	case status == http.StatusServiceUnavailable:
		drain(resp)
		f.metrics.ObserveFetch("server_busy", time.Since(start))
		return "", &FetchError{URL: rawURL, Kind: KindTransient, StatusCode: status, Err: ErrServerBusy}

	case status == http.StatusNotFound:
		drain(resp)
		f.metrics.ObserveFetch("not_found", time.Since(start))
		return "", &FetchError{URL: rawURL, Kind: KindNotFound, StatusCode: status, Err: ErrNotFound}

	default:
		drain(resp)
		f.metrics.ObserveFetch("http_error", time.Since(start))
		return "", &FetchError{URL: rawURL, Kind: KindPermanent, StatusCode: status,
			Err: fmt.Errorf("unexpected status %s", http.StatusText(status))}
	}
}

func (f *HTTPFetcher) userAgent() string {
	uas := f.opts.UserAgents
	if len(uas) == 1 {
		return uas[0]
	}
	return uas[int(f.jitter.Uniform(0, time.Duration(len(uas)-1)))]
}
