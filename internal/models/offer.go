package models

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidPrice = errors.New("price must be a finite non-negative number")

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionUsed    Condition = "used"
	ConditionUnknown Condition = "unknown"
)

// Conditions lists the groups statistics are broken down by, in report order.
var Conditions = []Condition{ConditionNew, ConditionUsed, ConditionUnknown}

var conditionMap = map[string]Condition{
	"new":                  ConditionNew,
	"nuevo":                ConditionNew,
	"brand new":            ConditionNew,
	"newcondition":         ConditionNew,
	"used":                 ConditionUsed,
	"usado":                ConditionUsed,
	"refurbished":          ConditionUsed,
	"reacondicionado":      ConditionUsed,
	"usedcondition":        ConditionUsed,
	"refurbishedcondition": ConditionUsed,
}

// ParseCondition maps the free-form condition labels seen on listing pages
// (including schema.org URLs like https://schema.org/NewCondition) onto a Condition.
func ParseCondition(raw string) Condition {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if c, ok := conditionMap[s]; ok {
		return c
	}
	return ConditionUnknown
}

type Source string

const (
	SourceStructuredState Source = "structured_state"
	SourceMicrodata       Source = "microdata"
	SourceDOMParsing      Source = "dom_parsing"
)

type Offer struct {
	Title                 string          `json:"title"`
	Price                 decimal.Decimal `json:"price"`
	Condition             Condition       `json:"condition"`
	URL                   string          `json:"url"`
	ItemID                string          `json:"item_id"`
	Source                Source          `json:"source"`
	ImageURL              string          `json:"image_url,omitempty"`
	SellerName            string          `json:"seller_name,omitempty"`
	IsFulfilledByPlatform bool            `json:"is_fulfilled_by_platform"`
	StarRating            *float64        `json:"star_rating,omitempty"`
	ReviewCount           int             `json:"review_count"`
}

// NewOffer is the only way extractors create offers. Offers with an unusable
// price are discarded here so nothing downstream has to re-check.
func NewOffer(title string, price decimal.Decimal, source Source) (Offer, error) {
	if err := ValidatePrice(price); err != nil {
		return Offer{}, err
	}
	return Offer{
		Title:     strings.TrimSpace(title),
		Price:     price,
		Condition: ConditionUnknown,
		Source:    source,
	}, nil
}

// ValidatePrice rejects negative prices and those too large to survive the
// float64 conversion statistics run on, like "1e400".
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	if f := price.InexactFloat64(); math.IsInf(f, 0) || math.IsNaN(f) {
		return ErrInvalidPrice
	}
	return nil
}

// SetRating clamps r into [0,5]. NaN and infinities leave the rating unset.
func (o *Offer) SetRating(r float64) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		o.StarRating = nil
		return
	}
	r = min(max(r, 0), 5)
	o.StarRating = &r
}

func (o *Offer) SetReviewCount(n int) {
	if n < 0 {
		n = 0
	}
	o.ReviewCount = n
}

func (o Offer) PriceFloat() float64 {
	return o.Price.InexactFloat64()
}

// ProductDetails is what a single product page yields.
type ProductDetails struct {
	ItemID     string            `json:"item_id"`
	Title      string            `json:"title"`
	Price      *decimal.Decimal  `json:"price,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Condition  Condition         `json:"condition"`
	ImageURL   string            `json:"image_url,omitempty"`
	URL        string            `json:"url"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Source     Source            `json:"source,omitempty"`
	ScrapedAt  time.Time         `json:"scraped_at"`
}
