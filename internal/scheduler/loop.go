package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Run executes a cycle immediately and then every interval until ctx ends.
// SKU cycles run every skuInterval between availability cycles; a zero
// skuInterval disables them. Cycles never overlap.
func (s *Scheduler) Run(ctx context.Context, targets []monitor.Target, interval, skuInterval time.Duration) {
	s.RunCycle(ctx, targets)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var skuC <-chan time.Time
	if skuInterval > 0 && s.Catalog != nil {
		skuTicker := time.NewTicker(skuInterval)
		defer skuTicker.Stop()
		skuC = skuTicker.C
		s.RunSKUCycle(ctx, targets)
	}

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.RunCycle(ctx, targets)
		case <-skuC:
			s.RunSKUCycle(ctx, targets)
		}
	}
}
