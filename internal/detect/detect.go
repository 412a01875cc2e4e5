// Package detect recognises block pages, rate-limit responses and CAPTCHA
// challenges before any availability text is interpreted.
package detect

import (
	"bytes"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Block reasons reported in a Verdict.
const (
	ReasonHTTP429    = "http 429"
	ReasonRateLimit  = "rate limit text"
	ReasonChallenge  = "captcha/challenge marker"
	ReasonRepetition = "repeated identical short body"
)

// Defaults for the repetition heuristic.
const (
	DefaultShortBody   = 1000
	DefaultRepeatLimit = 3
)

var rateLimitPhrases = []string{"too many requests", "rate limit", "rate-limited", "ratelimited"}

var challengeMarkers = []string{
	"captcha",
	"g-recaptcha",
	"hcaptcha",
	"cf-challenge",
	"challenge-platform",
	"checking your browser",
	"px-captcha",
	"are you a robot",
	"verify you are human",
	"access denied",
}

// Verdict is the detector outcome.
type Verdict struct {
	Blocked bool
	Reason  string
}

type streak struct {
	hash  string
	count int
}

// Detector is safe for concurrent use. Repetition memory is kept per target
// and covers every attempt body of a probe; the scheduler calls Reset at the
// start of each cycle so streaks never span cycles.
type Detector struct {
	hasher      monitor.Hasher
	shortBody   int
	repeatLimit int

	mu      sync.Mutex
	streaks map[string]streak
}

// New builds a detector. hasher digests short bodies for the repetition check.
func New(hasher monitor.Hasher) *Detector {
	return &Detector{
		hasher:      hasher,
		shortBody:   DefaultShortBody,
		repeatLimit: DefaultRepeatLimit,
		streaks:     make(map[string]streak),
	}
}

// Reset clears per-target repetition memory.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.streaks = make(map[string]streak)
	d.mu.Unlock()
}

// Detect inspects a probe result. Rules are applied in order and the first
// match wins.
func (d *Detector) Detect(res monitor.ProbeResult) Verdict {
	if res.HTTPStatus == http.StatusTooManyRequests {
		return Verdict{Blocked: true, Reason: ReasonHTTP429}
	}
	body := strings.ToLower(string(res.Body))
	title := strings.ToLower(Title(res.Body))
	if strings.Contains(title, "429") {
		return Verdict{Blocked: true, Reason: ReasonRateLimit}
	}
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(title, phrase) || strings.Contains(body, phrase) {
			return Verdict{Blocked: true, Reason: ReasonRateLimit}
		}
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return Verdict{Blocked: true, Reason: ReasonChallenge + ": " + marker}
		}
	}
	if d.repeated(res) {
		return Verdict{Blocked: true, Reason: ReasonRepetition}
	}
	return Verdict{}
}

// repeated tracks consecutive identical short bodies per target, feeding the
// earlier attempt bodies before the final one. Any other body, long or
// different, breaks the streak. Bodies that parsed into a named storefront
// are genuine and never count.
func (d *Detector) repeated(res monitor.ProbeResult) bool {
	if res.TargetID == "" || d.hasher == nil {
		return false
	}
	if res.Data != nil && res.Data.Name != "" {
		d.forget(res.TargetID)
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, body := range res.PriorBodies {
		d.observe(res.TargetID, body)
	}
	return d.observe(res.TargetID, res.Body) >= d.repeatLimit
}

// observe folds one body into the target's streak and returns its length.
// Callers hold d.mu.
func (d *Detector) observe(targetID string, body []byte) int {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || len(trimmed) >= d.shortBody {
		delete(d.streaks, targetID)
		return 0
	}
	sum, err := d.hasher.Hash(trimmed)
	if err != nil {
		return 0
	}
	s := d.streaks[targetID]
	if s.hash == sum {
		s.count++
	} else {
		s = streak{hash: sum, count: 1}
	}
	d.streaks[targetID] = s
	return s.count
}

func (d *Detector) forget(targetID string) {
	d.mu.Lock()
	delete(d.streaks, targetID)
	d.mu.Unlock()
}

// Title returns the document title, or "" when the body is not HTML.
func Title(body []byte) string {
	if !bytes.Contains(bytes.ToLower(body), []byte("<title")) {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
