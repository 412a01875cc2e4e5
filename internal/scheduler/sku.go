package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

// RunSKUCycle probes the storefronts that were ONLINE in the latest cycle and
// records how much of the platform catalog each one has in stock. Targets
// with an open circuit, no catalog entries, or no parsed products are skipped.
func (s *Scheduler) RunSKUCycle(ctx context.Context, targets []monitor.Target) []monitor.ComplianceRecord {
	if s.Catalog == nil || s.Matcher == nil {
		return nil
	}
	logger := s.Logger.With(zap.String("cycle", "sku"))

	var (
		mu      sync.Mutex
		records []monitor.ComplianceRecord
		g       errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, target := range targets {
		if st, ok := s.LastStatus(target.ID); !ok || st != monitor.StatusOnline {
			continue
		}
		if !s.Breaker.IsAvailable(target.ID) {
			continue
		}
		catalog := s.Catalog.ForPlatform(target.Platform)
		prober, ok := s.Probers[target.Platform]
		if len(catalog) == 0 || !ok {
			continue
		}
		g.Go(func() error {
			po, abandoned := s.runProbe(ctx, prober, target)
			if abandoned || po.err != nil || po.res.Data == nil || len(po.res.Data.Products) == 0 {
				logger.Info("no products observed",
					zap.String("target_id", target.ID),
					zap.Bool("abandoned", abandoned),
					zap.Error(po.err))
				return nil
			}
			rec := s.Matcher.Match(target.ID, po.res.Data.Products, catalog, s.Clock.Now())
			if err := s.Store.RecordCompliance(ctx, rec); err != nil {
				logger.Error("record compliance failed", zap.String("target_id", target.ID), zap.Error(err))
			}
			metrics.SetCompliance(target.ID, rec.CompliancePercentage)
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("sku cycle finished", zap.Int("records", len(records)))
	return records
}
