package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/telemetry"
)

var tracer = telemetry.Tracer("scheduler")

type probeOutcome struct {
	res monitor.ProbeResult
	err error
}

// checkSafely converts a panic anywhere in the check into an ERROR result.
func (s *Scheduler) checkSafely(ctx context.Context, logger *zap.Logger, target monitor.Target) (out outcome) {
	ctx, span := tracer.Start(ctx, "scheduler.check")
	span.SetAttributes(
		attribute.String("target.id", target.ID),
		attribute.String("target.platform", string(target.Platform)),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check panicked", zap.String("target_id", target.ID), zap.Any("panic", r))
			s.Breaker.RecordFailure(target.ID)
			out = outcome{kind: outcomeChecked, cls: s.errorClassification(target, fmt.Errorf("check panic: %v", r))}
		}
		switch out.kind {
		case outcomeAbandoned:
			span.SetStatus(codes.Error, "abandoned")
		case outcomeChecked:
			span.SetAttributes(attribute.String("target.status", string(out.cls.Status)))
			if out.cls.Status == monitor.StatusError {
				span.SetStatus(codes.Error, out.cls.Evidence)
			}
		}
		span.End()
	}()
	return s.check(ctx, logger, target)
}

func (s *Scheduler) check(ctx context.Context, logger *zap.Logger, target monitor.Target) outcome {
	if ctx.Err() != nil {
		return outcome{kind: outcomeAbandoned}
	}
	prober, ok := s.Probers[target.Platform]
	if !ok {
		s.Breaker.RecordFailure(target.ID)
		return outcome{
			kind: outcomeChecked,
			cls:  s.errorClassification(target, fmt.Errorf("no prober for platform %q", target.Platform)),
		}
	}

	po, abandoned := s.runProbe(ctx, prober, target)
	if abandoned {
		// The probe was cut off by the cycle; it still counts against the target.
		s.Breaker.RecordFailure(target.ID)
		logger.Warn("probe abandoned by cycle deadline", zap.String("target_id", target.ID))
		return outcome{kind: outcomeAbandoned}
	}

	verdict := s.Detector.Detect(po.res)
	cls := s.Classifier.Classify(target, po.res, po.err, verdict)
	if cls.CheckedAt.IsZero() {
		cls.CheckedAt = s.Clock.Now()
	}

	switch cls.Status {
	case monitor.StatusError, monitor.StatusBlocked:
		s.Breaker.RecordFailure(target.ID)
	default:
		s.Breaker.RecordSuccess(target.ID)
	}
	metrics.ObserveProbe(string(target.Platform), outcomeLabel(po.err), po.res.Latency)
	metrics.ObserveClassification(string(target.Platform), string(cls.Status))

	if cls.Status.NeedsReview() {
		uri, err := s.Archive.Save(ctx, cls, po.res.Body)
		if err != nil {
			logger.Warn("archive evidence failed", zap.String("target_id", target.ID), zap.Error(err))
		}
		cls.EvidenceURI = uri
	}

	logger.Debug("target classified",
		zap.String("target_id", target.ID),
		zap.String("platform", string(target.Platform)),
		zap.String("status", string(cls.Status)),
		zap.Float64("confidence", cls.Confidence),
		zap.Int("attempt", po.res.Attempts),
		zap.String("evidence", cls.Evidence))
	return outcome{kind: outcomeChecked, cls: cls}
}

// runProbe runs the prober under the per-target deadline. A probe that
// overruns is left behind so it cannot hold a worker. abandoned is true when
// the cycle itself ended first.
func (s *Scheduler) runProbe(ctx context.Context, prober monitor.Prober, target monitor.Target) (probeOutcome, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, s.TargetDeadline())
	defer cancel()

	metrics.IncInflightProbes()
	defer metrics.DecInflightProbes()

	started := s.Clock.Now()
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panic: %v", r)}
			}
		}()
		res, err := prober.Probe(probeCtx, target)
		done <- probeOutcome{res: res, err: err}
	}()

	var po probeOutcome
	select {
	case po = <-done:
	case <-probeCtx.Done():
		po = probeOutcome{err: &monitor.TransportError{
			Reason: monitor.ReasonTimeout,
			URL:    target.URL,
			Err:    fmt.Errorf("target deadline %s exceeded: %w", s.TargetDeadline(), probeCtx.Err()),
		}}
	}
	if ctx.Err() != nil && po.err != nil {
		return po, true
	}
	if po.res.TargetID == "" {
		po.res.TargetID = target.ID
	}
	if po.res.URL == "" {
		po.res.URL = target.URL
	}
	if po.res.FetchedAt.IsZero() {
		po.res.FetchedAt = started
	}
	if po.res.Latency == 0 {
		po.res.Latency = s.Clock.Now().Sub(started)
	}
	return po, false
}

func (s *Scheduler) errorClassification(target monitor.Target, err error) monitor.Classification {
	return monitor.Classification{
		TargetID:   target.ID,
		URL:        target.URL,
		Platform:   target.Platform,
		Status:     monitor.StatusError,
		Confidence: 0.2,
		Evidence:   "error: " + err.Error(),
		CheckedAt:  s.Clock.Now(),
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var te *monitor.TransportError
	if errors.As(err, &te) {
		return strings.ToLower(string(te.Reason))
	}
	var pe *monitor.ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	return "error"
}
