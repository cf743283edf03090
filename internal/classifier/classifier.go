// Package classifier decides whether a scraped offer is the same product as
// the one being priced. The deciding model is an external collaborator; this
// package defines its contract and the deterministic fallback used whenever
// it is absent or fails.
package classifier

import (
	"context"
	"regexp"

	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/models"
)

const (
	HeuristicConfidence = 0.5
	HeuristicReason     = "heuristic fallback"
)

// Target describes the product being priced.
type Target struct {
	Description    string  `json:"description"`
	ReferencePrice float64 `json:"reference_price,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	// Keywords are the model-like tokens an offer title should repeat.
	// Filter.Run fills them from Description when empty.
	Keywords []string `json:"keywords,omitempty"`
}

type Origin string

const (
	OriginClassifier Origin = "classifier"
	OriginPrefilter  Origin = "prefilter"
	OriginHeuristic  Origin = "heuristic"
)

type Classification struct {
	ItemID       string  `json:"item_id"`
	Title        string  `json:"title"`
	IsComparable bool    `json:"is_comparable"`
	IsAccessory  bool    `json:"is_accessory"`
	IsBundle     bool    `json:"is_bundle"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Origin       Origin  `json:"origin"`
}

type Classifier interface {
	Classify(ctx context.Context, target Target, offer models.Offer) (Classification, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, target Target, offer models.Offer) (Classification, error)

func (f Func) Classify(ctx context.Context, target Target, offer models.Offer) (Classification, error) {
	return f(ctx, target, offer)
}

var (
	accessoryRe = regexp.MustCompile(`\b(?:funda|case|cable|cargador|protector|mica|glass|adaptador|base|soporte|estuche)`)
	bundleRe    = regexp.MustCompile(`\b(?:paquete|combo|kit|incluye)\b|\s\+\s`)
)

// Heuristic flags accessories and bundles by keyword. It never fails.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Classify(_ context.Context, _ Target, offer models.Offer) (Classification, error) {
	return h.classify(offer), nil
}

func (h *Heuristic) classify(offer models.Offer) Classification {
	title := matcher.NormalizeText(offer.Title)
	accessory := accessoryRe.MatchString(title)
	bundle := bundleRe.MatchString(title)

	return Classification{
		ItemID:       offer.ItemID,
		Title:        offer.Title,
		IsComparable: !accessory && !bundle,
		IsAccessory:  accessory,
		IsBundle:     bundle,
		Confidence:   HeuristicConfidence,
		Reason:       HeuristicReason,
		Origin:       OriginHeuristic,
	}
}
