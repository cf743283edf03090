package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maltedev/price-research-scraper/internal/models"
)

var (
	priceDigitsRe = regexp.MustCompile(`[\d.,]+`)
	itemIDRe      = regexp.MustCompile(`ML[A-Z]-?\d+`)
	integerRe     = regexp.MustCompile(`\d+`)
	ratingRe      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// parseFraction parses the integer part of a displayed price. Thousands
// separators ("." and ",") are stripped before parsing, so "12,499" and
// "12.499" both read as 12499.
func parseFraction(text string) (decimal.Decimal, bool) {
	m := priceDigitsRe.FindString(text)
	if m == "" {
		return decimal.Zero, false
	}
	m = strings.NewReplacer(".", "", ",", "").Replace(m)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseDisplayPrice combines a fraction and an optional cents element.
func parseDisplayPrice(fraction, cents string) (decimal.Decimal, bool) {
	d, ok := parseFraction(fraction)
	if !ok {
		return decimal.Zero, false
	}
	c := integerRe.FindString(cents)
	if c == "" {
		return d, true
	}
	centsVal, err := decimal.NewFromString(c)
	if err != nil {
		return d, true
	}
	return d.Add(centsVal.Shift(int32(-len(c)))), true
}

// coercePrice reads a structured-data price: a number, a numeric string, or an
// object carrying amount or value.
func coercePrice(n Node) (decimal.Decimal, bool) {
	switch v := n.(type) {
	case *Object:
		inner, ok := v.First("amount", "value")
		if !ok {
			return decimal.Zero, false
		}
		if _, nested := inner.(*Object); nested {
			return decimal.Zero, false
		}
		return coercePrice(inner)

	case Scalar:
		var d decimal.Decimal
		var err error
		switch s := v.Value.(type) {
		case json.Number:
			d, err = decimal.NewFromString(s.String())
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(s))
			if err != nil {
				var ok bool
				if d, ok = parseStructuredPriceText(s); !ok {
					return decimal.Zero, false
				}
				err = nil
			}
		default:
			return decimal.Zero, false
		}
		if err != nil || models.ValidatePrice(d) != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// parseStructuredPriceText handles strings like "$ 1,299.00" in structured
// data, where "." is the decimal separator and "," groups thousands.
func parseStructuredPriceText(s string) (decimal.Decimal, bool) {
	m := priceDigitsRe.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseRating(text string) (float64, bool) {
	m := ratingRe.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseCount reads review counts like "(1.234)" or "1,234 opiniones".
func parseCount(text string) (int, bool) {
	text = strings.NewReplacer("(", "", ")", "", ".", "", ",", "").Replace(text)
	m := integerRe.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ItemIDFromURL extracts a listing id such as MLM123456 from a URL, with the
// dash some permalinks carry removed.
func ItemIDFromURL(u string) string {
	return strings.ReplaceAll(itemIDRe.FindString(u), "-", "")
}
