package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
)

func readBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", maxBytes)
	}
	return body, nil
}

// drain discards what is left of a response we are not going to use so the
// connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

var (
	blockedTitleMarkers = []string{"captcha", "security check", "verificación de seguridad", "are you a robot", "access denied"}
	blockedSelectors    = `.g-recaptcha, #captcha, iframe[src*="captcha"], form[action*="captcha"], form[action*="challenge"]`
)

// IsBlockedPage reports whether html is an anti-bot challenge rather than the
// page that was asked for.
func IsBlockedPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, m := range blockedTitleMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return doc.Find(blockedSelectors).Length() > 0
}

// MentionsChallenge is the looser check applied only after a page yielded
// nothing: any mention of a captcha or security screen counts.
func MentionsChallenge(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "captcha") || strings.Contains(lower, "security")
}
