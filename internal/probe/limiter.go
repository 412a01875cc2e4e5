package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Limiter paces requests per platform with a token bucket.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[monitor.Platform]*rate.Limiter
	rates        map[monitor.Platform]float64
	defaultRate  rate.Limit
	defaultBurst int
}

// LimiterConfig holds rate limiter configuration. RPS <= 0 disables limiting.
type LimiterConfig struct {
	DefaultRPS   float64
	DefaultBurst int
	PlatformRPS  map[monitor.Platform]float64
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[monitor.Platform]*rate.Limiter),
		rates:        cfg.PlatformRPS,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the platform.
func (l *Limiter) Wait(ctx context.Context, platform monitor.Platform) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[platform]
	if !ok {
		r := l.defaultRate
		if rps, set := l.rates[platform]; set {
			r = rate.Limit(rps)
			if rps <= 0 {
				r = rate.Inf
			}
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[platform] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(platform), waited)
	}
	return nil
}
