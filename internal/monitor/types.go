// Package monitor defines the core types shared across the availability subsystems.
package monitor

import (
	"net/http"
	"time"
)

// Platform identifies which delivery platform hosts a storefront.
type Platform string

// Supported platforms. GrabFood exposes structured merchant data; Foodpanda
// storefronts are rendered documents.
const (
	PlatformGrabFood  Platform = "grabfood"
	PlatformFoodpanda Platform = "foodpanda"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p == PlatformGrabFood || p == PlatformFoodpanda
}

// Target is one monitored storefront. Targets are immutable once loaded.
type Target struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	URL         string   `json:"url"`
	Platform    Platform `json:"platform"`
}

// Status is the operational state assigned to a storefront by the classifier.
type Status string

// Classification outcomes.
const (
	StatusOnline     Status = "ONLINE"
	StatusOffline    Status = "OFFLINE"
	StatusTerminated Status = "TERMINATED"
	StatusClosed     Status = "CLOSED"
	StatusBlocked    Status = "BLOCKED"
	StatusError      Status = "ERROR"
	StatusUnknown    Status = "UNKNOWN"
)

// AllStatuses lists every status in reporting order.
var AllStatuses = []Status{
	StatusOnline,
	StatusOffline,
	StatusClosed,
	StatusTerminated,
	StatusBlocked,
	StatusUnknown,
	StatusError,
}

// NeedsReview reports whether a human has to confirm the status.
func (s Status) NeedsReview() bool {
	return s == StatusBlocked || s == StatusUnknown || s == StatusError
}

// IsProblem reports whether the status is worth notifying about.
func (s Status) IsProblem() bool {
	return s != StatusOnline
}

// MerchantState is the lifecycle state reported by structured platform data.
type MerchantState string

// Merchant lifecycle values understood by the classifier.
const (
	MerchantStateUnknown    MerchantState = ""
	MerchantStateActive     MerchantState = "ACTIVE"
	MerchantStateInactive   MerchantState = "INACTIVE"
	MerchantStateTerminated MerchantState = "TERMINATED"
)

// PlatformData is the typed view over whatever structured data a platform
// exposed for a storefront. Nil pointer fields mean the platform did not say.
type PlatformData struct {
	Name      string
	HasRating bool
	Closed    *bool
	Available *bool
	State     MerchantState
	Products  []ProductObservation
}

// ProbeResult is the raw outcome of one probe. It is never persisted.
type ProbeResult struct {
	TargetID   string
	URL        string
	HTTPStatus int
	Latency    time.Duration
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Attempts   int
	Rendered   bool
	Data       *PlatformData
	// PriorBodies holds the bodies of earlier attempts, oldest first.
	PriorBodies [][]byte
}

// LatencyMs returns the probe latency in milliseconds.
func (r ProbeResult) LatencyMs() int64 {
	return r.Latency.Milliseconds()
}

// Classification is the resolved status for one target in one cycle.
type Classification struct {
	TargetID    string    `json:"target_id"`
	URL         string    `json:"url,omitempty"`
	Platform    Platform  `json:"platform,omitempty"`
	Status      Status    `json:"status"`
	Confidence  float64   `json:"confidence"`
	Evidence    string    `json:"evidence"`
	LatencyMs   int64     `json:"latency_ms"`
	CheckedAt   time.Time `json:"checked_at"`
	EvidenceURI string    `json:"evidence_uri,omitempty"`
}

// Observation is a persisted status row.
type Observation struct {
	TargetID   string    `json:"target_id"`
	Status     Status    `json:"status"`
	LatencyMs  int64     `json:"latency_ms"`
	Evidence   string    `json:"evidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// ReviewCandidate is a target whose latest observation needs human review.
type ReviewCandidate struct {
	TargetID        string      `json:"target_id"`
	URL             string      `json:"url"`
	Platform        Platform    `json:"platform"`
	LastObservation Observation `json:"last_observation"`
}

// CycleSummary aggregates the outcome of one check cycle.
type CycleSummary struct {
	CycleID    string         `json:"cycle_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Checked    int            `json:"checked"`
	Skipped    int            `json:"skipped"`
	Abandoned  int            `json:"abandoned"`
	Counts     map[Status]int `json:"counts"`
}

// Online returns the number of ONLINE classifications in the cycle.
func (s CycleSummary) Online() int {
	return s.Counts[StatusOnline]
}

// Offline returns the number of classifications that place a store out of
// service: OFFLINE, CLOSED and TERMINATED.
func (s CycleSummary) Offline() int {
	return s.Counts[StatusOffline] + s.Counts[StatusClosed] + s.Counts[StatusTerminated]
}

// Duration returns the wall time the cycle took.
func (s CycleSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// ProductCatalogEntry is one master-catalog product expected on a platform.
type ProductCatalogEntry struct {
	SKUCode       string   `json:"sku_code" yaml:"sku"`
	CanonicalName string   `json:"canonical_name" yaml:"name"`
	Platform      Platform `json:"platform" yaml:"platform"`
}

// ProductObservation is one product row parsed from a storefront fetch.
type ProductObservation struct {
	ScrapedName     string   `json:"scraped_name"`
	Price           *float64 `json:"price,omitempty"`
	Available       bool     `json:"available"`
	DetectionMethod string   `json:"detection_method"`
	Confidence      float64  `json:"confidence"`
}

// ComplianceRecord is the SKU availability outcome for one target and day.
type ComplianceRecord struct {
	TargetID             string    `json:"target_id"`
	CheckDate            time.Time `json:"check_date"`
	TotalProductsChecked int       `json:"total_products_checked"`
	OutOfStockSKUCodes   []string  `json:"out_of_stock_sku_codes"`
	UnmatchedProducts    []string  `json:"unmatched_product_names"`
	MissingSKUCodes      []string  `json:"missing_sku_codes,omitempty"`
	CompliancePercentage float64   `json:"compliance_percentage"`
}

// UniqueOutOfStockCount returns the number of distinct out-of-stock SKUs.
func (r ComplianceRecord) UniqueOutOfStockCount() int {
	return len(r.OutOfStockSKUCodes)
}
