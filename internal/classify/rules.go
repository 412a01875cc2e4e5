package classify

import "strings"

// Rules holds the phrase lists and thresholds the classifier matches against.
// All phrases are compared lower-cased against normalized page text.
type Rules struct {
	ClosedPhrases  []string `mapstructure:"closed_phrases"`
	OpenPhrases    []string `mapstructure:"open_phrases"`
	MenuTokens     []string `mapstructure:"menu_tokens"`
	EvidenceTokens []string `mapstructure:"evidence_tokens"`
	CommerceTokens []string `mapstructure:"commerce_tokens"`
	LargePageBytes int      `mapstructure:"large_page_bytes"`
	MinCommerce    int      `mapstructure:"min_commerce_tokens"`
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		ClosedPhrases: []string{
			"temporarily closed",
			"temporarily unavailable",
			"restaurant is closed",
			"store is closed",
			"shop is closed",
			"currently closed",
			"closed for today",
			"closed now",
			"not accepting orders",
			"permanently closed",
		},
		OpenPhrases: []string{
			"add to cart",
			"add to basket",
			"add to order",
			"go to checkout",
			"proceed to checkout",
			"place order",
			"order now",
		},
		MenuTokens:     []string{"menu"},
		EvidenceTokens: []string{"delivery time", "min delivery", "ratings", "reviews"},
		CommerceTokens: []string{"price", "cart", "delivery", "order", "pickup", "promo", "discount", "voucher"},
		LargePageBytes: 50_000,
		MinCommerce:    2,
	}
}

// withDefaults fills zero fields from DefaultRules.
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if len(r.ClosedPhrases) == 0 {
		r.ClosedPhrases = d.ClosedPhrases
	}
	if len(r.OpenPhrases) == 0 {
		r.OpenPhrases = d.OpenPhrases
	}
	if len(r.MenuTokens) == 0 {
		r.MenuTokens = d.MenuTokens
	}
	if len(r.EvidenceTokens) == 0 {
		r.EvidenceTokens = d.EvidenceTokens
	}
	if len(r.CommerceTokens) == 0 {
		r.CommerceTokens = d.CommerceTokens
	}
	if r.LargePageBytes <= 0 {
		r.LargePageBytes = d.LargePageBytes
	}
	if r.MinCommerce <= 0 {
		r.MinCommerce = d.MinCommerce
	}
	r.ClosedPhrases = lower(r.ClosedPhrases)
	r.OpenPhrases = lower(r.OpenPhrases)
	r.MenuTokens = lower(r.MenuTokens)
	r.EvidenceTokens = lower(r.EvidenceTokens)
	r.CommerceTokens = lower(r.CommerceTokens)
	return r
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstMatch(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

func countMatches(text string, tokens []string) int {
	n := 0
	for _, t := range tokens {
		if strings.Contains(text, t) {
			n++
		}
	}
	return n
}
