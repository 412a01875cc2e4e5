package sku

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// DefaultThreshold is the Jaccard similarity a match must exceed.
const DefaultThreshold = 0.45

// DefaultStripTokens are platform and marketing words that never identify a product.
var DefaultStripTokens = []string{"grabfood", "grab", "foodpanda", "pandamart", "panda", "new", "bestseller", "best seller"}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	packaging     = regexp.MustCompile(`\b\d+\s*-?\s*(?:pcs?|pieces?|pack|pk|x|ml|l|g|kg|oz)\b|\bx\s*\d+\b`)
	nonWord       = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Matcher scores scraped product names against catalog names.
type Matcher struct {
	threshold float64
	strip     []*regexp.Regexp
}

// NewMatcher builds a matcher. A threshold <= 0 uses DefaultThreshold and a
// nil strip list uses DefaultStripTokens.
func NewMatcher(threshold float64, stripTokens []string) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if stripTokens == nil {
		stripTokens = DefaultStripTokens
	}
	m := &Matcher{threshold: threshold}
	for _, tok := range stripTokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		m.strip = append(m.strip, regexp.MustCompile(`\b`+regexp.QuoteMeta(tok)+`\b`))
	}
	return m
}

// Normalize lower-cases a name and drops brand and platform words, packaging
// counts, and parenthetical text.
func (m *Matcher) Normalize(name string) string {
	s := strings.ToLower(name)
	s = parenthetical.ReplaceAllString(s, " ")
	for _, re := range m.strip {
		s = re.ReplaceAllString(s, " ")
	}
	s = packaging.ReplaceAllString(s, " ")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Similarity is the Jaccard overlap of the two normalized token sets.
func (m *Matcher) Similarity(a, b string) float64 {
	return jaccard(tokenSet(m.Normalize(a)), tokenSet(m.Normalize(b)))
}

type candidate struct {
	entry  monitor.ProductCatalogEntry
	tokens map[string]struct{}
}

// Match computes the compliance record for one storefront. A SKU counts as
// in stock when any product matched to it is available.
func (m *Matcher) Match(
	targetID string,
	observed []monitor.ProductObservation,
	catalog []monitor.ProductCatalogEntry,
	checkedAt time.Time,
) monitor.ComplianceRecord {
	candidates := make([]candidate, len(catalog))
	for i, e := range catalog {
		candidates[i] = candidate{entry: e, tokens: tokenSet(m.Normalize(e.CanonicalName))}
	}

	matched := make(map[string]bool) // sku -> any row available
	unmatched := make(map[string]struct{})
	for _, p := range observed {
		best, ok := m.best(candidates, tokenSet(m.Normalize(p.ScrapedName)))
		if !ok {
			if name := strings.TrimSpace(p.ScrapedName); name != "" {
				unmatched[name] = struct{}{}
			}
			continue
		}
		matched[best] = matched[best] || p.Available
	}

	var outOfStock, missing []string
	for sku, available := range matched {
		if !available {
			outOfStock = append(outOfStock, sku)
		}
	}
	seenMissing := make(map[string]bool)
	for _, e := range catalog {
		if _, ok := matched[e.SKUCode]; !ok && !seenMissing[e.SKUCode] {
			seenMissing[e.SKUCode] = true
			missing = append(missing, e.SKUCode)
		}
	}
	sort.Strings(outOfStock)
	sort.Strings(missing)

	rec := monitor.ComplianceRecord{
		TargetID:             targetID,
		CheckDate:            checkedAt.UTC().Truncate(24 * time.Hour),
		TotalProductsChecked: len(matched),
		OutOfStockSKUCodes:   outOfStock,
		UnmatchedProducts:    sortedKeys(unmatched),
		MissingSKUCodes:      missing,
	}
	rec.CompliancePercentage = CompliancePercentage(rec.TotalProductsChecked, rec.UniqueOutOfStockCount())
	return rec
}

// CompliancePercentage is (total - outOfStock) / max(total, 1) * 100.
func CompliancePercentage(total, outOfStock int) float64 {
	denom := total
	if denom < 1 {
		denom = 1
	}
	return float64(total-outOfStock) / float64(denom) * 100
}

// best returns the SKU with the highest similarity strictly above the
// threshold. Exact ties keep the first catalog entry.
func (m *Matcher) best(candidates []candidate, tokens map[string]struct{}) (string, bool) {
	bestScore := 0.0
	bestSKU := ""
	for _, c := range candidates {
		score := jaccard(tokens, c.tokens)
		if score > bestScore {
			bestScore = score
			bestSKU = c.entry.SKUCode
		}
	}
	if bestSKU == "" || bestScore <= m.threshold {
		return "", false
	}
	return bestSKU, true
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
