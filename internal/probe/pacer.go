package probe

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Pacer sleeps a randomized interval before each request so that requests do
// not leave the process in bursts.
type Pacer struct {
	min time.Duration
	max time.Duration
}

// NewPacer builds a pacer drawing delays uniformly from [min, max].
func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{min: minDelay, max: maxDelay}
}

// Delay returns the next pre-request delay.
func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.min + randomJitter(p.max-p.min)
}

// Wait blocks for one delay or until ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	return sleep(ctx, p.Delay())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
