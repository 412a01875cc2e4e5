// Package review projects classifications the engine could not resolve with
// confidence into items a human verifies.
package review

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

const snapshotMarker = " snapshot="

// Item is one entry in the manual review queue.
type Item struct {
	TargetID    string           `json:"target_id"`
	URL         string           `json:"url"`
	Platform    monitor.Platform `json:"platform"`
	Status      monitor.Status   `json:"status"`
	Reason      string           `json:"reason"`
	Evidence    string           `json:"evidence"`
	EvidenceURI string           `json:"evidence_uri,omitempty"`
	LatencyMs   int64            `json:"latency_ms"`
	ObservedAt  time.Time        `json:"observed_at"`
}

// Reason describes what the reviewer is asked to confirm.
func Reason(status monitor.Status) string {
	switch status {
	case monitor.StatusBlocked:
		return "platform blocked the probe; check the storefront manually"
	case monitor.StatusUnknown:
		return "no decisive open or closed signal; confirm the storefront state"
	case monitor.StatusError:
		return "probe failed; confirm the storefront is reachable"
	default:
		return ""
	}
}

var statusOrder = map[monitor.Status]int{
	monitor.StatusBlocked: 0,
	monitor.StatusError:   1,
	monitor.StatusUnknown: 2,
}

// Project maps one cycle's classifications to review items. Only BLOCKED,
// UNKNOWN and ERROR produce items; they are ordered by status then target.
func Project(classifications []monitor.Classification) []Item {
	var items []Item
	for _, c := range classifications {
		if !c.Status.NeedsReview() {
			continue
		}
		items = append(items, Item{
			TargetID:    c.TargetID,
			URL:         c.URL,
			Platform:    c.Platform,
			Status:      c.Status,
			Reason:      Reason(c.Status),
			Evidence:    c.Evidence,
			EvidenceURI: c.EvidenceURI,
			LatencyMs:   c.LatencyMs,
			ObservedAt:  c.CheckedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Status != items[j].Status {
			return statusOrder[items[i].Status] < statusOrder[items[j].Status]
		}
		return items[i].TargetID < items[j].TargetID
	})
	return items
}

// FormatEvidence renders the evidence string persisted with an observation.
func FormatEvidence(c monitor.Classification) string {
	ev := fmt.Sprintf("%s (confidence %.2f)", c.Evidence, c.Confidence)
	if c.EvidenceURI != "" {
		ev += snapshotMarker + c.EvidenceURI
	}
	return ev
}

// SplitEvidence separates a persisted evidence string from its snapshot URI.
func SplitEvidence(evidence string) (string, string) {
	i := strings.LastIndex(evidence, snapshotMarker)
	if i < 0 {
		return evidence, ""
	}
	return evidence[:i], evidence[i+len(snapshotMarker):]
}

// StatusObserver is told about every reviewer verdict once it is stored.
type StatusObserver interface {
	ObserveOverride(targetID string, status monitor.Status)
}

// Queue serves the persisted review queue and applies reviewer decisions.
type Queue struct {
	store     monitor.Store
	observers []StatusObserver
	logger    *zap.Logger
}

// NewQueue builds a queue over store.
func NewQueue(store monitor.Store, logger *zap.Logger, observers ...StatusObserver) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: store, observers: observers, logger: logger.Named("review")}
}

// Pending lists the targets whose latest observation needs review.
func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	candidates, err := q.store.ListTargetsNeedingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("list review targets: %w", err)
	}
	items := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		evidence, uri := SplitEvidence(c.LastObservation.Evidence)
		items = append(items, Item{
			TargetID:    c.TargetID,
			URL:         c.URL,
			Platform:    c.Platform,
			Status:      c.LastObservation.Status,
			Reason:      Reason(c.LastObservation.Status),
			Evidence:    evidence,
			EvidenceURI: uri,
			LatencyMs:   c.LastObservation.LatencyMs,
			ObservedAt:  c.LastObservation.ObservedAt,
		})
	}
	return items, nil
}

// Resolve records the reviewer's verdict for a target.
func (q *Queue) Resolve(ctx context.Context, targetID string, online bool) error {
	if err := q.store.ApplyManualOverride(ctx, targetID, online); err != nil {
		return fmt.Errorf("apply override for %s: %w", targetID, err)
	}
	status := monitor.StatusOffline
	if online {
		status = monitor.StatusOnline
	}
	for _, o := range q.observers {
		o.ObserveOverride(targetID, status)
	}
	q.logger.Info("manual override applied", zap.String("target_id", targetID), zap.Bool("online", online))
	return nil
}
