// Package notify delivers problem-target and cycle-health notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Event kinds carried in published envelopes.
const (
	KindProblemTargets = "problem_targets"
	KindCycleHealth    = "cycle_health"
)

// Publisher sends a payload to a named topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Envelope is the published message body.
type Envelope struct {
	Kind     string                   `json:"kind"`
	SentAt   time.Time                `json:"sent_at"`
	Problems []monitor.Classification `json:"problems,omitempty"`
	Summary  *CycleHealth             `json:"summary,omitempty"`
}

// EventKind names the envelope for transport attributes.
func (e Envelope) EventKind() string { return e.Kind }

// CycleHealth is the wire form of a cycle summary.
type CycleHealth struct {
	CycleID    string         `json:"cycle_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Total      int            `json:"total"`
	Checked    int            `json:"checked"`
	Skipped    int            `json:"skipped"`
	Abandoned  int            `json:"abandoned"`
	Online     int            `json:"online"`
	Offline    int            `json:"offline"`
	Counts     map[string]int `json:"counts"`
}

// HealthFromSummary flattens a summary for transport.
func HealthFromSummary(s monitor.CycleSummary) CycleHealth {
	counts := make(map[string]int, len(s.Counts))
	for st, n := range s.Counts {
		counts[string(st)] = n
	}
	return CycleHealth{
		CycleID:    s.CycleID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		DurationMs: s.Duration().Milliseconds(),
		Total:      s.Total,
		Checked:    s.Checked,
		Skipped:    s.Skipped,
		Abandoned:  s.Abandoned,
		Online:     s.Online(),
		Offline:    s.Offline(),
		Counts:     counts,
	}
}

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a log-backed notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// NotifyProblemTargets logs one line per problem target.
func (l *Log) NotifyProblemTargets(_ context.Context, problems []monitor.Classification) error {
	for _, p := range problems {
		l.logger.Warn("problem target",
			zap.String("target_id", p.TargetID),
			zap.String("url", p.URL),
			zap.String("platform", string(p.Platform)),
			zap.String("status", string(p.Status)),
			zap.Float64("confidence", p.Confidence),
			zap.String("evidence", p.Evidence),
			zap.String("evidence_uri", p.EvidenceURI))
	}
	return nil
}

// NotifyCycleHealth logs the cycle summary.
func (l *Log) NotifyCycleHealth(_ context.Context, summary monitor.CycleSummary) error {
	h := HealthFromSummary(summary)
	l.logger.Info("cycle health",
		zap.String("cycle_id", h.CycleID),
		zap.Int("total", h.Total),
		zap.Int("checked", h.Checked),
		zap.Int("skipped", h.Skipped),
		zap.Int("abandoned", h.Abandoned),
		zap.Int("online", h.Online),
		zap.Int("offline", h.Offline),
		zap.Int64("duration_ms", h.DurationMs),
		zap.Any("counts", h.Counts))
	return nil
}

// Publishing sends notifications through a Publisher.
type Publishing struct {
	publisher Publisher
	topic     string
	clock     monitor.Clock
	logger    *zap.Logger
}

// NewPublishing returns a notifier that publishes envelopes to topic.
func NewPublishing(publisher Publisher, topic string, clock monitor.Clock, logger *zap.Logger) (*Publishing, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publishing{publisher: publisher, topic: topic, clock: clock, logger: logger.Named("notify")}, nil
}

// NotifyProblemTargets publishes one envelope listing every problem target.
func (p *Publishing) NotifyProblemTargets(ctx context.Context, problems []monitor.Classification) error {
	if len(problems) == 0 {
		return nil
	}
	return p.publish(ctx, Envelope{Kind: KindProblemTargets, SentAt: p.clock.Now(), Problems: problems})
}

// NotifyCycleHealth publishes the cycle summary.
func (p *Publishing) NotifyCycleHealth(ctx context.Context, summary monitor.CycleSummary) error {
	h := HealthFromSummary(summary)
	return p.publish(ctx, Envelope{Kind: KindCycleHealth, SentAt: p.clock.Now(), Summary: &h})
}

func (p *Publishing) publish(ctx context.Context, env Envelope) error {
	id, err := p.publisher.Publish(ctx, p.topic, env)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Kind, err)
	}
	p.logger.Debug("notification published", zap.String("kind", env.Kind), zap.String("message_id", id))
	return nil
}

// Multi fans notifications out to several notifiers and joins their errors.
type Multi []monitor.Notifier

// NotifyProblemTargets forwards to every notifier.
func (m Multi) NotifyProblemTargets(ctx context.Context, problems []monitor.Classification) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyProblemTargets(ctx, problems); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyCycleHealth forwards to every notifier.
func (m Multi) NotifyCycleHealth(ctx context.Context, summary monitor.CycleSummary) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyCycleHealth(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
