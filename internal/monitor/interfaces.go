package monitor

import (
	"context"
	"io"
	"time"
)

// Store is the persistence contract the engine writes through.
type Store interface {
	GetOrCreateTarget(ctx context.Context, displayName, url string, platform Platform) (string, error)
	RecordObservation(ctx context.Context, targetID string, status Status, latencyMs int64, evidence string) error
	RecordCycleSummary(ctx context.Context, total, onlineCount, offlineCount int) error
	ListTargetsNeedingReview(ctx context.Context) ([]ReviewCandidate, error)
	ApplyManualOverride(ctx context.Context, targetID string, isOnline bool) error
	RecordCompliance(ctx context.Context, record ComplianceRecord) error
}

// Notifier delivers problem and health notifications.
type Notifier interface {
	NotifyProblemTargets(ctx context.Context, problems []Classification) error
	NotifyCycleHealth(ctx context.Context, summary CycleSummary) error
}

// Prober fetches a storefront and returns raw content plus transport metadata.
type Prober interface {
	Probe(ctx context.Context, target Target) (ProbeResult, error)
}

// Document is the final state of a rendered page.
type Document struct {
	URL        string
	StatusCode int
	HTML       string
}

// Renderer renders a page in a real browser and returns the final DOM.
type Renderer interface {
	Render(ctx context.Context, url string, userAgent string) (Document, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher produces content digests for repetition checks and evidence paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}
