// Package memory provides an in-memory monitor.Store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/storewatch/internal/id/uuid"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

type targetRow struct {
	id          string
	displayName string
	url         string
	platform    monitor.Platform
}

// CycleRow is one recorded cycle summary.
type CycleRow struct {
	Total      int
	Online     int
	Offline    int
	RecordedAt time.Time
}

// Store keeps everything in maps guarded by a single RWMutex.
type Store struct {
	mu           sync.RWMutex
	now          func() time.Time
	targets      map[string]targetRow
	byURL        map[string]string
	observations map[string][]monitor.Observation
	cycles       []CycleRow
	compliance   map[string]monitor.ComplianceRecord
}

// NewStore constructs an empty store. A nil now uses UTC wall time.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		now:          now,
		targets:      make(map[string]targetRow),
		byURL:        make(map[string]string),
		observations: make(map[string][]monitor.Observation),
		compliance:   make(map[string]monitor.ComplianceRecord),
	}
}

// GetOrCreateTarget returns the id for url, creating the target if needed.
func (s *Store) GetOrCreateTarget(
	_ context.Context,
	displayName, url string,
	platform monitor.Platform,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURL[url]; ok {
		row := s.targets[id]
		row.displayName = displayName
		s.targets[id] = row
		return id, nil
	}
	id := uuid.TargetID(url)
	s.targets[id] = targetRow{id: id, displayName: displayName, url: url, platform: platform}
	s.byURL[url] = id
	return id, nil
}

// RecordObservation appends an observation.
func (s *Store) RecordObservation(
	_ context.Context,
	targetID string,
	status monitor.Status,
	latencyMs int64,
	evidence string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[targetID]; !ok {
		return fmt.Errorf("target %s: %w", targetID, monitor.ErrNotFound)
	}
	s.observations[targetID] = append(s.observations[targetID], monitor.Observation{
		TargetID:   targetID,
		Status:     status,
		LatencyMs:  latencyMs,
		Evidence:   evidence,
		ObservedAt: s.now(),
	})
	return nil
}

// RecordCycleSummary appends a cycle row.
func (s *Store) RecordCycleSummary(_ context.Context, total, onlineCount, offlineCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, CycleRow{Total: total, Online: onlineCount, Offline: offlineCount, RecordedAt: s.now()})
	return nil
}

// ListTargetsNeedingReview returns targets whose latest observation is
// BLOCKED, UNKNOWN or ERROR, newest first.
func (s *Store) ListTargetsNeedingReview(_ context.Context) ([]monitor.ReviewCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.ReviewCandidate
	for id, obs := range s.observations {
		if len(obs) == 0 {
			continue
		}
		last := obs[len(obs)-1]
		if !last.Status.NeedsReview() {
			continue
		}
		row := s.targets[id]
		out = append(out, monitor.ReviewCandidate{
			TargetID:        id,
			URL:             row.url,
			Platform:        row.platform,
			LastObservation: last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastObservation.ObservedAt, out[j].LastObservation.ObservedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

// ApplyManualOverride records a reviewer decision as an ordinary observation.
func (s *Store) ApplyManualOverride(ctx context.Context, targetID string, isOnline bool) error {
	status := monitor.StatusOffline
	if isOnline {
		status = monitor.StatusOnline
	}
	return s.RecordObservation(ctx, targetID, status, 0, "manual override")
}

// RecordCompliance upserts the record for the target and day.
func (s *Store) RecordCompliance(_ context.Context, rec monitor.ComplianceRecord) error {
	if rec.TargetID == "" {
		return fmt.Errorf("compliance target id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance[rec.TargetID+"|"+rec.CheckDate.Format(time.DateOnly)] = rec
	return nil
}

// Observations returns a copy of a target's observation history.
func (s *Store) Observations(targetID string) []monitor.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.Observation(nil), s.observations[targetID]...)
}

// Cycles returns a copy of the recorded cycle rows.
func (s *Store) Cycles() []CycleRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CycleRow(nil), s.cycles...)
}

// Compliance returns the record for a target and day.
func (s *Store) Compliance(targetID string, day time.Time) (monitor.ComplianceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.compliance[targetID+"|"+day.Format(time.DateOnly)]
	return rec, ok
}
