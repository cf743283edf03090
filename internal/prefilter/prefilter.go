// Package prefilter holds the deterministic rules that reject obviously
// incomparable candidates before any classifier is consulted.
package prefilter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

type Rule string

const (
	RuleNone         Rule = ""
	RuleSpecMismatch Rule = "spec_mismatch"
	RuleBundle       Rule = "bundle"
	RuleDigits       Rule = "digit_consistency"
)

const (
	specMismatchConfidence = 0.99
	bundleConfidence       = 0.90
	digitsConfidence       = 0.80
)

var (
	// any of these in the target means the user is pricing a bundle
	bundleHintRe = regexp.MustCompile(`\b(?:kit|pack|lote|lot|set|juego|par|duo)\b`)
	// "par" and "duo" are too common in single-item titles to reject on
	strictBundleRe = regexp.MustCompile(`\b(?:kit|lot|lote|pack|set|juego)\b`)
)

// Verdict is the outcome of checking one candidate. Overlap is informational
// and never causes a rejection by itself.
type Verdict struct {
	Rejected   bool    `json:"rejected"`
	Rule       Rule    `json:"rule,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
	IsBundle   bool    `json:"is_bundle"`
	Overlap    float64 `json:"overlap"`
}

// Check applies the spec-conflict, bundle and digit-consistency rules, in
// that order, and reports the first one that rejects.
func Check(target, candidate string) Verdict {
	v := Verdict{Overlap: Jaccard(target, candidate)}

	ts, cs := ExtractSpecs(target), ExtractSpecs(candidate)
	if c, conflict := ts.Conflict(cs); conflict {
		v.Rejected = true
		v.Rule = RuleSpecMismatch
		v.Confidence = specMismatchConfidence
		v.Reason = fmt.Sprintf("spec mismatch (%s): target %v vs offer %v", c, ts.Values(c), cs.Values(c))
		return v
	}

	nt, nc := matcher.NormalizeText(target), matcher.NormalizeText(candidate)
	if !bundleHintRe.MatchString(nt) {
		if kw := strictBundleRe.FindString(nc); kw != "" {
			v.Rejected = true
			v.Rule = RuleBundle
			v.IsBundle = true
			v.Confidence = bundleConfidence
			v.Reason = fmt.Sprintf("bundle mismatch: offer is a %q but target is not", kw)
			return v
		}
	}

	if ok, want := digitsConsistent(nt, nc); !ok {
		v.Rejected = true
		v.Rule = RuleDigits
		v.Confidence = digitsConfidence
		v.Reason = fmt.Sprintf("digit mismatch: none of %s found in offer", strings.Join(want, ","))
		return v
	}

	return v
}

// FilterAll checks every offer title against target with at most
// concurrency checks in flight. Verdicts are index-aligned with offers.
func FilterAll(ctx context.Context, target string, offers []models.Offer, concurrency int) ([]Verdict, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	verdicts := make([]Verdict, len(offers))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range offers {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			verdicts[i] = Check(target, offers[i].Title)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}
