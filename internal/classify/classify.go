// Package classify turns a probe outcome into a storefront status. The
// classifier is a pure function: identical inputs give identical output.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storewatch/internal/detect"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Confidence levels per tier.
const (
	ConfidenceBlocked     = 0.95
	ConfidenceNotFound    = 0.9
	ConfidenceStructured  = 0.95
	ConfidencePhrase      = 0.9
	ConfidenceMenu        = 0.8
	ConfidenceMenuOnly    = 0.35
	ConfidenceLargePage   = 0.7
	ConfidenceUnknown     = 0.3
	ConfidenceTransport   = 0.25
	maxEvidenceSnippetLen = 120
)

var (
	currencyPattern    = regexp.MustCompile(`₱|฿|\$\s?\d|\b(?:php|rm|sgd|myr|thb|hkd|twd|nt)\s?\$?\d`)
	ratingCountPattern = regexp.MustCompile(`\d[\d,.]*k?\+?\s*(?:ratings|reviews)`)
	whitespace         = regexp.MustCompile(`\s+`)
)

// Classifier applies Rules to probe outcomes.
type Classifier struct {
	rules Rules
}

// New builds a classifier; zero fields of rules take their defaults.
func New(rules Rules) *Classifier {
	return &Classifier{rules: rules.withDefaults()}
}

// Classify resolves the status for one probe. probeErr is the error the
// prober returned, if any; verdict is the block detector output for res.
func (c *Classifier) Classify(
	target monitor.Target,
	res monitor.ProbeResult,
	probeErr error,
	verdict detect.Verdict,
) monitor.Classification {
	status, confidence, evidence := c.decide(res, probeErr, verdict)
	return monitor.Classification{
		TargetID:   target.ID,
		URL:        target.URL,
		Platform:   target.Platform,
		Status:     status,
		Confidence: confidence,
		Evidence:   evidence,
		LatencyMs:  res.LatencyMs(),
		CheckedAt:  res.FetchedAt,
	}
}

func (c *Classifier) decide(
	res monitor.ProbeResult,
	probeErr error,
	verdict detect.Verdict,
) (monitor.Status, float64, string) {
	if verdict.Blocked {
		return monitor.StatusBlocked, ConfidenceBlocked, blockEvidence(verdict.Reason)
	}
	if probeErr != nil {
		return monitor.StatusError, ConfidenceTransport, errorEvidence(probeErr)
	}
	if res.HTTPStatus == http.StatusNotFound || res.HTTPStatus == http.StatusGone {
		return monitor.StatusOffline, ConfidenceNotFound, fmt.Sprintf("http %d: page not found", res.HTTPStatus)
	}

	if data := res.Data; data != nil {
		switch data.State {
		case monitor.MerchantStateInactive, monitor.MerchantStateTerminated:
			return monitor.StatusTerminated, ConfidenceStructured, "structured data: merchant " + strings.ToLower(string(data.State))
		}
		if data.Closed != nil && *data.Closed {
			return monitor.StatusClosed, ConfidenceStructured, "structured data: closed flag set"
		}
		if data.Available != nil && !*data.Available {
			return monitor.StatusClosed, ConfidenceStructured, "structured data: not available"
		}
	}

	text := NormalizeText(res.Body)
	if phrase, ok := firstMatch(text, c.rules.ClosedPhrases); ok {
		return monitor.StatusOffline, ConfidencePhrase, fmt.Sprintf("closed phrase %q", phrase)
	}

	if data := res.Data; data != nil {
		if data.Available != nil && *data.Available {
			return monitor.StatusOnline, ConfidenceStructured, "structured data: available"
		}
		if data.State == monitor.MerchantStateActive && data.Closed != nil && !*data.Closed {
			return monitor.StatusOnline, ConfidenceStructured, "structured data: active and open"
		}
	}
	if phrase, ok := firstMatch(text, c.rules.OpenPhrases); ok {
		return monitor.StatusOnline, ConfidencePhrase, fmt.Sprintf("open signal %q", phrase)
	}

	if menu, ok := firstMatch(text, c.rules.MenuTokens); ok {
		if ev, ok := c.pricingEvidence(text, res.Data); ok {
			return monitor.StatusOnline, ConfidenceMenu, fmt.Sprintf("%q with %s", menu, ev)
		}
		return monitor.StatusUnknown, ConfidenceMenuOnly, fmt.Sprintf("%q without pricing evidence", menu)
	}

	if len(res.Body) > c.rules.LargePageBytes {
		if n := countMatches(text, c.rules.CommerceTokens); n >= c.rules.MinCommerce {
			return monitor.StatusOnline, ConfidenceLargePage,
				fmt.Sprintf("large page (%d bytes) with %d commerce tokens", len(res.Body), n)
		}
	}
	return monitor.StatusUnknown, ConfidenceUnknown, unknownEvidence(res, text)
}

func (c *Classifier) pricingEvidence(text string, data *monitor.PlatformData) (string, bool) {
	if m := currencyPattern.FindString(text); m != "" {
		return fmt.Sprintf("currency %q", strings.TrimSpace(m)), true
	}
	if m := ratingCountPattern.FindString(text); m != "" {
		return fmt.Sprintf("rating count %q", m), true
	}
	if data != nil && data.HasRating {
		return "rating data", true
	}
	if tok, ok := firstMatch(text, c.rules.EvidenceTokens); ok {
		return fmt.Sprintf("%q", tok), true
	}
	return "", false
}

// NormalizeText returns lower-cased visible text with collapsed whitespace.
// Script and style contents are dropped.
func NormalizeText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	text := string(body)
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("script, style, noscript, template").Remove()
		text = doc.Text()
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(text), " "))
}

func blockEvidence(reason string) string {
	switch {
	case reason == detect.ReasonHTTP429, reason == detect.ReasonRateLimit:
		return "rate limited: " + reason
	default:
		return "blocked: " + reason
	}
}

func errorEvidence(err error) string {
	var te *monitor.TransportError
	if errors.As(err, &te) {
		if te.StatusCode != 0 {
			return fmt.Sprintf("transport %s %d", te.Reason, te.StatusCode)
		}
		return "transport " + string(te.Reason)
	}
	var pe *monitor.ParseError
	if errors.As(err, &pe) {
		return "parse error: " + pe.Err.Error()
	}
	return "error: " + err.Error()
}

func unknownEvidence(res monitor.ProbeResult, text string) string {
	snippet := text
	if r := []rune(snippet); len(r) > maxEvidenceSnippetLen {
		snippet = string(r[:maxEvidenceSnippetLen])
	}
	return fmt.Sprintf("no decisive signal (http %d, %d bytes): %q", res.HTTPStatus, len(res.Body), snippet)
}
