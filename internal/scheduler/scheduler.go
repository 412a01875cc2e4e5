// Package scheduler runs check cycles: every target that is not circuit-open
// is probed, classified and recorded by a bounded pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storewatch/internal/breaker"
	"github.com/JakeFAU/storewatch/internal/classify"
	"github.com/JakeFAU/storewatch/internal/detect"
	"github.com/JakeFAU/storewatch/internal/evidence"
	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/review"
	"github.com/JakeFAU/storewatch/internal/sku"
)

// Config controls cycle execution.
type Config struct {
	Concurrency  int
	ProbeTimeout time.Duration
	MaxAttempts  int
	Slack        time.Duration
	CycleTimeout time.Duration
}

// IDGenerator returns unique cycle ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Probers    map[monitor.Platform]monitor.Prober
	Detector   *detect.Detector
	Classifier *classify.Classifier
	Breaker    *breaker.Breaker
	Store      monitor.Store
	Notifier   monitor.Notifier
	Archive    *evidence.Archive
	Catalog    *sku.Catalog
	Matcher    *sku.Matcher
	IDs        IDGenerator
	Clock      monitor.Clock
	Logger     *zap.Logger
}

// Scheduler runs availability and SKU cycles.
type Scheduler struct {
	cfg Config
	Deps

	mu         sync.RWMutex
	last       *monitor.CycleSummary
	lastReview []review.Item
	lastStatus map[string]monitor.Status
}

type outcomeKind int

const (
	outcomeAbandoned outcomeKind = iota
	outcomeSkipped
	outcomeChecked
)

type outcome struct {
	kind outcomeKind
	cls  monitor.Classification
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case len(deps.Probers) == 0:
		return nil, errors.New("at least one prober is required")
	case deps.Detector == nil:
		return nil, errors.New("detector is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Breaker == nil:
		return nil, errors.New("breaker is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Slack < 0 {
		cfg.Slack = 0
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("scheduler")
	return &Scheduler{cfg: cfg, Deps: deps, lastStatus: make(map[string]monitor.Status)}, nil
}

// TargetDeadline is the overall budget for one target: every attempt may use
// the full probe timeout, plus slack for pacing and backoff.
func (s *Scheduler) TargetDeadline() time.Duration {
	return s.cfg.ProbeTimeout*time.Duration(s.cfg.MaxAttempts) + s.cfg.Slack
}

// RegisterTargets records every target with the store and adopts the ids the
// store hands back.
func (s *Scheduler) RegisterTargets(ctx context.Context, targets []monitor.Target) ([]monitor.Target, error) {
	out := make([]monitor.Target, len(targets))
	for i, t := range targets {
		id, err := s.Store.GetOrCreateTarget(ctx, t.DisplayName, t.URL, t.Platform)
		if err != nil {
			return nil, fmt.Errorf("register target %s: %w", t.URL, err)
		}
		t.ID = id
		out[i] = t
	}
	return out, nil
}

// RunCycle checks every target once and returns the cycle summary. Per-target
// failures never abort the cycle; they surface as ERROR or BLOCKED results.
func (s *Scheduler) RunCycle(ctx context.Context, targets []monitor.Target) monitor.CycleSummary {
	summary := monitor.CycleSummary{
		CycleID:   s.newCycleID(),
		StartedAt: s.Clock.Now(),
		Total:     len(targets),
		Counts:    make(map[monitor.Status]int),
	}
	logger := s.Logger.With(zap.String("cycle_id", summary.CycleID))
	logger.Info("cycle started", zap.Int("targets", len(targets)))
	s.Detector.Reset()

	cycleCtx := ctx
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, target := range targets {
		if !s.Breaker.IsAvailable(target.ID) {
			outcomes[i] = outcome{kind: outcomeSkipped}
			logger.Info("circuit open, skipping target",
				zap.String("target_id", target.ID),
				zap.String("url", target.URL))
			continue
		}
		if cycleCtx.Err() != nil {
			outcomes[i] = outcome{kind: outcomeAbandoned}
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.checkSafely(cycleCtx, logger, target)
			return nil
		})
	}
	_ = g.Wait()

	var problems, checked []monitor.Classification
	for i, o := range outcomes {
		switch o.kind {
		case outcomeSkipped:
			summary.Skipped++
		case outcomeAbandoned:
			summary.Abandoned++
			logger.Warn("target abandoned", zap.String("target_id", targets[i].ID))
		case outcomeChecked:
			summary.Checked++
			summary.Counts[o.cls.Status]++
			s.record(ctx, logger, o.cls)
			checked = append(checked, o.cls)
			if o.cls.Status.IsProblem() {
				problems = append(problems, o.cls)
			}
		}
	}
	summary.FinishedAt = s.Clock.Now()

	if err := s.Store.RecordCycleSummary(ctx, summary.Total, summary.Online(), summary.Offline()); err != nil {
		logger.Error("record cycle summary failed", zap.Error(err))
	}
	s.notify(ctx, logger, problems, summary)
	items := review.Project(checked)
	s.observe(summary, items)

	logger.Info("cycle finished",
		zap.Int("checked", summary.Checked),
		zap.Int("skipped", summary.Skipped),
		zap.Int("abandoned", summary.Abandoned),
		zap.Int("online", summary.Online()),
		zap.Int("offline", summary.Offline()),
		zap.Int("needs_review", len(items)),
		zap.Duration("duration", summary.Duration()))
	return summary
}

// LastSummary returns the most recent finished cycle.
func (s *Scheduler) LastSummary() (monitor.CycleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return monitor.CycleSummary{}, false
	}
	return *s.last, true
}

// LastReview returns the review items projected from the latest cycle.
func (s *Scheduler) LastReview() []review.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]review.Item(nil), s.lastReview...)
}

// ObserveOverride adopts a reviewer verdict as the target's latest status so
// SKU cycles treat a confirmed ONLINE store as online straight away.
func (s *Scheduler) ObserveOverride(targetID string, status monitor.Status) {
	s.mu.Lock()
	s.lastStatus[targetID] = status
	s.mu.Unlock()
}

// LastStatus returns the status a target received in the latest cycle that
// checked it.
func (s *Scheduler) LastStatus(targetID string) (monitor.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.lastStatus[targetID]
	return st, ok
}

func (s *Scheduler) record(ctx context.Context, logger *zap.Logger, cls monitor.Classification) {
	s.mu.Lock()
	s.lastStatus[cls.TargetID] = cls.Status
	s.mu.Unlock()

	if err := s.Store.RecordObservation(ctx, cls.TargetID, cls.Status, cls.LatencyMs, review.FormatEvidence(cls)); err != nil {
		logger.Error("record observation failed",
			zap.String("target_id", cls.TargetID),
			zap.String("status", string(cls.Status)),
			zap.Error(err))
	}
}

func (s *Scheduler) notify(
	ctx context.Context,
	logger *zap.Logger,
	problems []monitor.Classification,
	summary monitor.CycleSummary,
) {
	if s.Notifier == nil {
		return
	}
	if len(problems) > 0 {
		if err := s.Notifier.NotifyProblemTargets(ctx, problems); err != nil {
			logger.Error("notify problem targets failed", zap.Error(err))
		}
	}
	if err := s.Notifier.NotifyCycleHealth(ctx, summary); err != nil {
		logger.Error("notify cycle health failed", zap.Error(err))
	}
}

func (s *Scheduler) observe(summary monitor.CycleSummary, items []review.Item) {
	counts := make(map[string]int, len(monitor.AllStatuses)+1)
	for _, st := range monitor.AllStatuses {
		counts[string(st)] = summary.Counts[st]
	}
	counts["SKIPPED"] = summary.Skipped
	metrics.ObserveCycle(summary.Duration(), counts)

	s.mu.Lock()
	s.last = &summary
	s.lastReview = items
	s.mu.Unlock()
}

func (s *Scheduler) newCycleID() string {
	if s.IDs != nil {
		if id, err := s.IDs.NewID(); err == nil {
			return id
		}
	}
	return s.Clock.Now().Format("20060102T150405.000000000Z")
}
