package classifier

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/price-research-scraper/internal/models"
	"github.com/maltedev/price-research-scraper/internal/prefilter"
)

const (
	DefaultConcurrency  = 5
	DefaultFallbackSize = 10
)

type FilterOptions struct {
	Concurrency  int
	FallbackSize int
}

func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		Concurrency:  DefaultConcurrency,
		FallbackSize: DefaultFallbackSize,
	}
}

// FilterResult carries every classification (index-aligned with the input)
// along with the offers judged comparable.
type FilterResult struct {
	Comparable        []models.Offer   `json:"comparable"`
	Classifications   []Classification `json:"classifications"`
	Excluded          int              `json:"excluded"`
	PrefilterRejected int              `json:"prefilter_rejected"`
	HeuristicUsed     int              `json:"heuristic_used"`
	FallbackApplied   bool             `json:"fallback_applied"`
}

// Filter runs the deterministic pre-filter and then asks the classifier about
// whatever survives. A nil classifier means heuristics only.
type Filter struct {
	classifier Classifier
	heuristic  *Heuristic
	opts       FilterOptions
	logger     *slog.Logger
}

// NewFilter creates a filter around c. A nil c classifies with the heuristic only.
func NewFilter(c Classifier, opts FilterOptions, logger *slog.Logger) *Filter {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FallbackSize < 1 {
		opts.FallbackSize = DefaultFallbackSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		classifier: c,
		heuristic:  NewHeuristic(),
		opts:       opts,
		logger:     logger.With("component", "classifier"),
	}
}

func (f *Filter) Run(ctx context.Context, target Target, offers []models.Offer) (*FilterResult, error) {
	res := &FilterResult{Classifications: make([]Classification, len(offers))}
	if len(offers) == 0 {
		return res, nil
	}

	if len(target.Keywords) == 0 {
		target.Keywords = prefilter.EssentialKeywords(target.Description)
	}

	verdicts, err := prefilter.FilterAll(ctx, target.Description, offers, f.opts.Concurrency)
	if err != nil {
		return nil, err
	}

	heuristic := make([]bool, len(offers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	for i, o := range offers {
		i, o := i, o
		if v := verdicts[i]; v.Rejected {
			res.Classifications[i] = Classification{
				ItemID:     o.ItemID,
				Title:      o.Title,
				IsBundle:   v.IsBundle,
				Confidence: v.Confidence,
				Reason:     v.Reason,
				Origin:     OriginPrefilter,
			}
			res.PrefilterRejected++
			f.logger.Debug("offer rejected by prefilter", "item_id", o.ItemID, "reason", v.Reason)
			continue
		}

		g.Go(func() error {
			c, fellBack, err := f.classifyOne(gctx, target, o)
			if err != nil {
				return err
			}
			res.Classifications[i] = c
			heuristic[i] = fellBack
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range res.Classifications {
		if heuristic[i] {
			res.HeuristicUsed++
		}
		if c.IsComparable {
			res.Comparable = append(res.Comparable, offers[i])
		}
	}

	if len(res.Comparable) == 0 {
		res.Comparable = closestByPrice(offers, target.ReferencePrice, f.opts.FallbackSize)
		res.FallbackApplied = true
		f.logger.Warn("no comparable offers after filtering, keeping closest by price",
			"total", len(offers),
			"kept", len(res.Comparable),
			"reference_price", target.ReferencePrice)
	}

	res.Excluded = len(offers) - len(res.Comparable)
	f.logger.Info("classification completed",
		"total", len(offers),
		"comparable", len(res.Comparable),
		"prefilter_rejected", res.PrefilterRejected,
		"heuristic_used", res.HeuristicUsed)

	return res, nil
}

// classifyOne asks the classifier and drops to the heuristic on any failure
// other than cancellation.
func (f *Filter) classifyOne(ctx context.Context, target Target, o models.Offer) (Classification, bool, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, false, err
	}
	if f.classifier == nil {
		return f.heuristic.classify(o), true, nil
	}

	c, err := f.classifier.Classify(ctx, target, o)
	if err == nil {
		if c.Origin == "" {
			c.Origin = OriginClassifier
		}
		if c.ItemID == "" {
			c.ItemID = o.ItemID
		}
		if c.Title == "" {
			c.Title = o.Title
		}
		return c, false, nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return Classification{}, false, ctx.Err()
	}

	f.logger.Warn("classifier failed, using heuristic", "item_id", o.ItemID, "error", err)
	return f.heuristic.classify(o), true, nil
}

// closestByPrice keeps the n offers nearest the reference price, or the first
// n when there is no reference.
func closestByPrice(offers []models.Offer, ref float64, n int) []models.Offer {
	out := make([]models.Offer, len(offers))
	copy(out, offers)

	if ref > 0 {
		dist := func(o models.Offer) float64 {
			return math.Abs(o.PriceFloat()-ref) / ref
		}
		sort.SliceStable(out, func(i, j int) bool {
			return dist(out[i]) < dist(out[j])
		})
	}

	if len(out) > n {
		out = out[:n]
	}
	return out
}
