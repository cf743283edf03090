package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultListingBaseURL = "https://listado.mercadolibre.com.mx"

// PriceFilter is an inclusive price range; an invalid bound is open.
type PriceFilter struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

// ToleranceFilter builds the window [ref*(1-tol), ref*(1+tol)].
func ToleranceFilter(reference decimal.Decimal, tolerance float64) PriceFilter {
	tol := decimal.NewFromFloat(tolerance)
	return PriceFilter{
		Min: decimal.NewNullDecimal(reference.Mul(decimal.NewFromInt(1).Sub(tol))),
		Max: decimal.NewNullDecimal(reference.Mul(decimal.NewFromInt(1).Add(tol))),
	}
}

func (f PriceFilter) IsOpen() bool {
	return !f.Min.Valid && !f.Max.Valid
}

// Contains reports whether price lies inside the window, bounds included.
func (f PriceFilter) Contains(price decimal.Decimal) bool {
	if f.Min.Valid && price.LessThan(f.Min.Decimal) {
		return false
	}
	if f.Max.Valid && price.GreaterThan(f.Max.Decimal) {
		return false
	}
	return true
}

// Fragment renders the filter in the listing query syntax, e.g. "#D[A:700-1300]".
func (f PriceFilter) Fragment() string {
	if f.IsOpen() {
		return ""
	}
	return fmt.Sprintf("#D[A:%s-%s]", bound(f.Min), bound(f.Max))
}

func bound(b decimal.NullDecimal) string {
	if !b.Valid {
		return "*"
	}
	return strconv.FormatInt(b.Decimal.IntPart(), 10)
}

// ListingURL builds the search URL for query with the price filter appended.
func ListingURL(baseURL, query string, filter PriceFilter) string {
	if baseURL == "" {
		baseURL = DefaultListingBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + Slugify(query) + filter.Fragment()
}
