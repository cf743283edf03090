package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.JitterMin = 0
	opts.JitterMax = 0
	opts.Timeout = 5 * time.Second
	return opts
}

func newTestFetcher(t *testing.T, opts Options) (*HTTPFetcher, *sleepRecorder) {
	t.Helper()
	f, err := NewHTTPFetcher(opts, nil)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	f.WithSleep(rec.sleep).WithRand(rand.New(rand.NewSource(7)))
	return f, rec
}

// sequenceServer answers with the given statuses in order, repeating the last.
func sequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		if statuses[n] == http.StatusOK {
			_, _ = w.Write([]byte("<html><title>Resultados</title><body>ok</body></html>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPFetcher_RetriesOnRateLimit(t *testing.T) {
	srv, hits := sequenceServer(t, 429, 429, 200)
	f, rec := newTestFetcher(t, testOptions())

	html, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "ok")
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))

	require.Len(t, rec.calls, 2)
	assert.GreaterOrEqual(t, rec.calls[0], 2*time.Second)
	assert.LessOrEqual(t, rec.calls[0], 3*time.Second)
	assert.GreaterOrEqual(t, rec.calls[1], 4*time.Second)
	assert.LessOrEqual(t, rec.calls[1], 5*time.Second)
}

func TestHTTPFetcher_Failures(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		hits     int32
		sleeps   int
		kind     Kind
		sentinel error
	}{
		{"not found fails immediately", []int{404}, 1, 0, KindNotFound, ErrNotFound},
		{"rate limit exhausts budget", []int{429}, 3, 2, KindTransient, ErrRateLimited},
		{"server busy exhausts budget", []int{503}, 3, 2, KindTransient, ErrServerBusy},
		{"other status retried then permanent", []int{500}, 3, 2, KindPermanent, nil},
		{"404 after a 429", []int{429, 404}, 2, 1, KindNotFound, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := sequenceServer(t, tt.statuses...)
			f, rec := newTestFetcher(t, testOptions())

			_, err := f.Fetch(context.Background(), srv.URL)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, int(tt.hits), fe.Attempts)
			assert.Equal(t, tt.hits, atomic.LoadInt32(hits))
			assert.Len(t, rec.calls, tt.sleeps)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestHTTPFetcher_JitterBeforeEveryRequest(t *testing.T) {
	srv, _ := sequenceServer(t, 503, 200)
	opts := testOptions()
	opts.JitterMin = 500 * time.Millisecond
	opts.JitterMax = 1500 * time.Millisecond
	f, rec := newTestFetcher(t, opts)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	// jitter, backoff, jitter
	require.Len(t, rec.calls, 3)
	for _, i := range []int{0, 2} {
		assert.GreaterOrEqual(t, rec.calls[i], 500*time.Millisecond)
		assert.LessOrEqual(t, rec.calls[i], 1500*time.Millisecond)
	}
	assert.GreaterOrEqual(t, rec.calls[1], 2*time.Second)
}

func TestHTTPFetcher_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Verificación de seguridad - captcha</title></head></html>`))
	}))
	defer srv.Close()

	f, rec := newTestFetcher(t, testOptions())
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.ErrorIs(t, err, ErrBlocked)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindBlocked, kind)
	assert.Empty(t, rec.calls)
}

func TestHTTPFetcher_DecodesBodies(t *testing.T) {
	const page = "<html><body>hola mundo</body></html>"

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(page))
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(page))
	require.NoError(t, bw.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"", []byte(page)},
		{"gzip", gz.Bytes()},
		{"br", br.Bytes()},
	}

	for _, tt := range tests {
		t.Run("encoding="+tt.encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			f, _ := newTestFetcher(t, testOptions())
			html, err := f.Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, page, html)
		})
	}
}

func TestHTTPFetcher_SendsBrowserHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.UserAgents = []string{"ua-one", "ua-two"}
	f, _ := newTestFetcher(t, opts)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, []string{"ua-one", "ua-two"}, got.Get("User-Agent"))
	assert.Equal(t, "es-419,es;q=0.9,en;q=0.8", got.Get("Accept-Language"))
	assert.Equal(t, "navigate", got.Get("Sec-Fetch-Mode"))
	assert.Empty(t, got.Get("Cookie"))
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBodyBytes = 1024
	opts.MaxAttempts = 1
	f, _ := newTestFetcher(t, opts)

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestHTTPFetcher_Cancelled(t *testing.T) {
	srv, hits := sequenceServer(t, 200)
	f, err := NewHTTPFetcher(testOptions(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestNewHTTPFetcher_InvalidJitter(t *testing.T) {
	opts := DefaultOptions()
	opts.JitterMin = 2 * time.Second
	opts.JitterMax = time.Second

	_, err := NewHTTPFetcher(opts, nil)
	assert.Error(t, err)
}

func TestIsBlockedPage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"captcha title", `<title>Captcha</title>`, true},
		{"recaptcha widget", `<html><body><div class="g-recaptcha"></div></body></html>`, true},
		{"challenge form", `<form action="/gz/account-verification/challenge"></form>`, true},
		{"normal listing", `<title>Sony WH-1000XM5 | MercadoLibre</title><p>Compra protegida y security tips</p>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBlockedPage(tt.html))
		})
	}

	assert.True(t, MentionsChallenge("<p>Security</p>"))
	assert.False(t, MentionsChallenge("<p>hola</p>"))
}
