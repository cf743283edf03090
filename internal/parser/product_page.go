package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/maltedev/price-research-scraper/internal/models"
)

var ErrNoDetails = errors.New("product details not found")

// ProductPageParser extracts details from a single product page, trying the
// embedded state, then JSON-LD, then the visible markup.
type ProductPageParser struct {
	maxNodes int
}

// NewProductPageParser creates a parser for single product pages.
func NewProductPageParser() *ProductPageParser {
	return &ProductPageParser{maxNodes: DefaultMaxNodes}
}

// Parse reads details from state, then JSON-LD, then the page markup.
func (p *ProductPageParser) Parse(html, pageURL string) (*models.ProductDetails, error) {
	itemID := ItemIDFromURL(pageURL)

	details := p.fromState(html, itemID)
	if details == nil {
		details = p.fromJSONLD(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if details == nil {
		details = p.fromHTML(doc)
	}
	if details == nil || details.Title == "" {
		return nil, ErrNoDetails
	}

	// spec tables are only rendered in markup
	for k, v := range specTable(doc) {
		if _, exists := details.Attributes[k]; !exists {
			details.Attributes[k] = v
		}
	}

	if details.ItemID == "" {
		details.ItemID = itemID
	}
	if details.URL == "" {
		details.URL = pageURL
	}
	if details.Condition == "" {
		details.Condition = models.ConditionUnknown
	}
	details.ScrapedAt = time.Now()
	return details, nil
}

func (p *ProductPageParser) fromState(html, itemID string) *models.ProductDetails {
	root, err := ParseState(html)
	if err != nil {
		return nil
	}

	var found *models.ProductDetails
	Walk(root, p.maxNodes, func(n Node) bool {
		obj, ok := n.(*Object)
		if !ok {
			return true
		}
		title := titleOf(obj)
		priceNode, hasPrice := obj.First("price")
		if title == "" || !hasPrice {
			return true
		}
		id := normalizeItemID(obj.String("id", "item_id"), obj.String("permalink", "url"))
		if itemID != "" && id != "" && id != itemID {
			return true
		}

		d := newDetails(title, models.SourceStructuredState)
		if price, ok := coercePrice(priceNode); ok {
			d.Price = &price
		}
		if po, ok := priceNode.(*Object); ok {
			d.Currency = po.String("currency_id", "currency")
		}
		if d.Currency == "" {
			d.Currency = obj.String("currency_id", "currency")
		}
		d.ItemID = id
		d.URL = obj.String("permalink", "url")
		d.Condition = models.ParseCondition(obj.String("condition"))
		d.ImageURL = obj.String("thumbnail", "picture", "image")
		collectStateAttributes(obj, d.Attributes)

		found = d
		return false
	})
	return found
}

// collectStateAttributes reads [{"name": ..., "value_name": ...}] attribute lists.
func collectStateAttributes(obj *Object, into map[string]string) {
	v, ok := obj.First("attributes")
	if !ok {
		return
	}
	list, ok := v.(Array)
	if !ok {
		return
	}
	for _, item := range list {
		attr, ok := item.(*Object)
		if !ok {
			continue
		}
		name := attr.String("name", "id")
		value := attr.String("value_name", "value")
		if name != "" && value != "" {
			into[name] = value
		}
	}
}

func (p *ProductPageParser) fromJSONLD(html string) *models.ProductDetails {
	blocks, err := JSONLDBlocks(html)
	if err != nil {
		return nil
	}

	for _, block := range blocks {
		var found *models.ProductDetails
		Walk(block, p.maxNodes, func(n Node) bool {
			obj, ok := n.(*Object)
			if !ok || !strings.EqualFold(obj.String("@type"), "Product") {
				return true
			}
			title := titleOf(obj)
			if title == "" {
				return true
			}

			d := newDetails(title, models.SourceMicrodata)
			d.ImageURL = imageOf(obj)
			d.ItemID = normalizeItemID(obj.String("sku", "productID"), obj.String("url"))
			d.URL = obj.String("url")
			if brand, ok := obj.First("brand"); ok {
				if bo, ok := brand.(*Object); ok {
					d.Attributes["brand"] = bo.String("name")
				} else if s, ok := AsString(brand); ok {
					d.Attributes["brand"] = s
				}
			}

			if offers, ok := obj.First("offers"); ok {
				offer, _ := offers.(*Object)
				if arr, isArr := offers.(Array); isArr && len(arr) > 0 {
					offer, _ = arr[0].(*Object)
				}
				if offer != nil {
					if pn, ok := offer.First("price", "lowPrice"); ok {
						if price, ok := coercePrice(pn); ok {
							d.Price = &price
						}
					}
					d.Currency = offer.String("priceCurrency")
					d.Condition = models.ParseCondition(offer.String("itemCondition"))
					if d.URL == "" {
						d.URL = offer.String("url")
					}
				}
			}

			found = d
			return false
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (p *ProductPageParser) fromHTML(doc *goquery.Document) *models.ProductDetails {
	title := strings.TrimSpace(doc.Find(".ui-pdp-title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		return nil
	}

	d := newDetails(title, models.SourceDOMParsing)

	if content, ok := doc.Find(`meta[itemprop="price"]`).First().Attr("content"); ok {
		if price, err := decimal.NewFromString(strings.TrimSpace(content)); err == nil && !price.IsNegative() {
			d.Price = &price
		}
	}
	if d.Price == nil {
		fraction := strings.TrimSpace(doc.Find(".ui-pdp-price__second-line .andes-money-amount__fraction").First().Text())
		cents := strings.TrimSpace(doc.Find(".ui-pdp-price__second-line .andes-money-amount__cents").First().Text())
		if price, ok := parseDisplayPrice(fraction, cents); ok {
			d.Price = &price
		}
	}

	d.Currency, _ = doc.Find(`meta[itemprop="priceCurrency"]`).First().Attr("content")
	d.ImageURL, _ = doc.Find(`meta[property="og:image"]`).First().Attr("content")

	// subtitle reads like "Nuevo | +1000 vendidos"
	subtitle := strings.TrimSpace(doc.Find(".ui-pdp-subtitle").First().Text())
	if i := strings.Index(subtitle, "|"); i >= 0 {
		subtitle = subtitle[:i]
	}
	d.Condition = models.ParseCondition(subtitle)

	return d
}

func specTable(doc *goquery.Document) map[string]string {
	attrs := make(map[string]string)
	doc.Find(".ui-pdp-specs__table tr, .andes-table__row").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key != "" && value != "" {
			attrs[key] = value
		}
	})
	return attrs
}

func newDetails(title string, source models.Source) *models.ProductDetails {
	return &models.ProductDetails{
		Title:      title,
		Source:     source,
		Attributes: make(map[string]string),
	}
}
