package foodpanda

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

var priceNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// vendorFlags are the storefront-level switches carried in the page state.
// Flags on products, schedules or other vendors never reach this struct.
type vendorFlags struct {
	IsActive            *bool        `json:"is_active"`
	IsActiveCamel       *bool        `json:"isActive"`
	IsTemporarilyClosed *bool        `json:"is_temporarily_closed"`
	IsTemporaryClosed   *bool        `json:"isTemporaryClosed"`
	IsClosed            *bool        `json:"is_closed"`
	IsClosedCamel       *bool        `json:"isClosed"`
	Data                *vendorFlags `json:"data"`
}

// pageState covers the two places the storefront embeds its vendor: a
// window state assignment and the Next.js data script.
type pageState struct {
	Vendor *vendorFlags `json:"vendor"`
	Props  *struct {
		PageProps *struct {
			Vendor *vendorFlags `json:"vendor"`
		} `json:"pageProps"`
	} `json:"props"`
}

func (p pageState) vendor() *vendorFlags {
	v := p.Vendor
	if v == nil && p.Props != nil && p.Props.PageProps != nil {
		v = p.Props.PageProps.Vendor
	}
	if v != nil && v.Data != nil && v.active() == nil {
		v = v.Data
	}
	return v
}

func (v *vendorFlags) active() *bool {
	if v.IsActive != nil {
		return v.IsActive
	}
	return v.IsActiveCamel
}

func (v *vendorFlags) closed() bool {
	for _, f := range []*bool{v.IsTemporarilyClosed, v.IsTemporaryClosed, v.IsClosed, v.IsClosedCamel} {
		if f != nil && *f {
			return true
		}
	}
	return false
}

// Product row selectors, most specific first.
var productSelectors = []struct {
	row, name, price string
}{
	{`[data-testid="menu-product"]`, `[data-testid="menu-product-name"]`, `[data-testid="menu-product-price"]`},
	{`.dish-card`, `.dish-name`, `.price`},
}

// Parse extracts PlatformData from a storefront document. Fields the page
// does not expose are left unset.
func Parse(body []byte) (*monitor.PlatformData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &monitor.ParseError{Platform: monitor.PlatformFoodpanda, Err: err}
	}
	data := &monitor.PlatformData{}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var ld struct {
			Name            string `json:"name"`
			AggregateRating *struct {
				RatingCount json.Number `json:"ratingCount"`
				RatingValue json.Number `json:"ratingValue"`
			} `json:"aggregateRating"`
		}
		if json.Unmarshal([]byte(s.Text()), &ld) != nil {
			return
		}
		if data.Name == "" {
			data.Name = strings.TrimSpace(ld.Name)
		}
		if ld.AggregateRating != nil && (ld.AggregateRating.RatingCount != "" || ld.AggregateRating.RatingValue != "") {
			data.HasRating = true
		}
	})

	if v := embeddedVendor(doc); v != nil {
		if active := v.active(); active != nil {
			data.State = monitor.MerchantStateInactive
			if *active {
				data.State = monitor.MerchantStateActive
			}
		}
		if v.closed() {
			closed := true
			data.Closed = &closed
		}
	}
	data.Products = products(doc)
	return data, nil
}

// embeddedVendor decodes the first script whose JSON payload carries a vendor
// object. Scripts that are not JSON, or carry no vendor, are skipped.
func embeddedVendor(doc *goquery.Document) *vendorFlags {
	var found *vendorFlags
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t, _ := s.Attr("type"); t == "application/ld+json" {
			return true
		}
		text := s.Text()
		start := strings.IndexByte(text, '{')
		if start < 0 {
			return true
		}
		var st pageState
		if json.NewDecoder(strings.NewReader(text[start:])).Decode(&st) != nil {
			return true
		}
		found = st.vendor()
		return found == nil
	})
	return found
}

func products(doc *goquery.Document) []monitor.ProductObservation {
	for _, sel := range productSelectors {
		rows := doc.Find(sel.row)
		if rows.Length() == 0 {
			continue
		}
		var out []monitor.ProductObservation
		rows.Each(func(_ int, row *goquery.Selection) {
			name := strings.TrimSpace(row.Find(sel.name).First().Text())
			if name == "" {
				return
			}
			obs := monitor.ProductObservation{
				ScrapedName:     name,
				Available:       !soldOut(row),
				DetectionMethod: "dom",
				Confidence:      0.8,
			}
			if price, ok := parsePrice(row.Find(sel.price).First().Text()); ok {
				obs.Price = &price
			}
			out = append(out, obs)
		})
		return out
	}
	return nil
}

func soldOut(row *goquery.Selection) bool {
	if v, _ := row.Attr("aria-disabled"); v == "true" {
		return true
	}
	class, _ := row.Attr("class")
	if strings.Contains(class, "sold-out") || strings.Contains(class, "unavailable") {
		return true
	}
	if row.Find(`[data-testid="menu-product-sold-out"]`).Length() > 0 {
		return true
	}
	text := strings.ToLower(row.Text())
	return strings.Contains(text, "sold out") || strings.Contains(text, "out of stock")
}

func parsePrice(raw string) (float64, bool) {
	m := priceNumber.FindString(raw)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
