// Package breaker keeps a circuit per target so that storefronts which keep
// failing are left alone for a cooldown instead of being hammered every cycle.
package breaker

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// State is the circuit state of one target.
type State string

// Circuit states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Defaults.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 5 * time.Minute
	DefaultShards    = 32
)

// Circuit is a point-in-time view of one target's circuit.
type Circuit struct {
	TargetID    string    `json:"target_id"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

type shard struct {
	mu       sync.Mutex
	circuits map[string]*circuit
}

// TransitionHook observes state changes. It is called with the shard lock
// held and must not call back into the breaker.
type TransitionHook func(targetID string, from, to State)

// Breaker tracks circuits for many targets. State is spread over shards keyed
// by a hash of the target id so unrelated targets never share a lock.
type Breaker struct {
	shards    []*shard
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *zap.Logger
	hook      TransitionHook
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive failures that open a circuit.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long a circuit stays open before a trial probe.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.shards = newShards(n)
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// WithLogger sets the logger used for transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger.Named("breaker")
		}
	}
}

// WithTransitionHook registers an observer for state changes.
func WithTransitionHook(hook TransitionHook) Option {
	return func(b *Breaker) { b.hook = hook }
}

// New creates a breaker: 3 failures to open, 5 minute cooldown.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		shards:    newShards(DefaultShards),
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{circuits: make(map[string]*circuit)}
	}
	return shards
}

func (b *Breaker) shardFor(targetID string) *shard {
	return b.shards[xxhash.Sum64String(targetID)%uint64(len(b.shards))]
}

// IsAvailable reports whether the target may be probed. An open circuit whose
// cooldown has elapsed moves to HALF_OPEN and admits a trial probe.
func (b *Breaker) IsAvailable(targetID string) bool {
	s := b.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[targetID]
	if !ok {
		return true
	}
	b.maybeTransition(targetID, c)
	return c.state != StateOpen
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess(targetID string) {
	s := b.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[targetID]
	if !ok {
		return
	}
	if c.state != StateClosed {
		b.transition(targetID, c, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure. A closed circuit opens at the threshold; a
// half-open circuit reopens immediately and its cooldown restarts.
func (b *Breaker) RecordFailure(targetID string) {
	s := b.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[targetID]
	if !ok {
		c = &circuit{state: StateClosed}
		s.circuits[targetID] = c
	}
	b.maybeTransition(targetID, c)
	c.failures++
	c.lastFailure = b.now()
	switch c.state {
	case StateClosed:
		if c.failures >= b.threshold {
			b.transition(targetID, c, StateOpen)
		}
	case StateHalfOpen:
		b.transition(targetID, c, StateOpen)
	case StateOpen:
	}
}

// State returns the current state of a target's circuit.
func (b *Breaker) State(targetID string) State {
	s := b.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[targetID]
	if !ok {
		return StateClosed
	}
	b.maybeTransition(targetID, c)
	return c.state
}

// Snapshot returns every circuit that is not cleanly closed.
func (b *Breaker) Snapshot() []Circuit {
	var out []Circuit
	for _, s := range b.shards {
		s.mu.Lock()
		for id, c := range s.circuits {
			b.maybeTransition(id, c)
			if c.state == StateClosed && c.failures == 0 {
				continue
			}
			out = append(out, Circuit{TargetID: id, State: c.state, Failures: c.failures, LastFailure: c.lastFailure})
		}
		s.mu.Unlock()
	}
	return out
}

// maybeTransition moves an open circuit to half-open once the cooldown has
// elapsed. Must be called with the shard lock held.
func (b *Breaker) maybeTransition(targetID string, c *circuit) {
	if c.state == StateOpen && b.now().Sub(c.lastFailure) >= b.cooldown {
		b.transition(targetID, c, StateHalfOpen)
	}
}

func (b *Breaker) transition(targetID string, c *circuit, to State) {
	from := c.state
	c.state = to
	b.logger.Info("circuit transition",
		zap.String("target_id", targetID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", c.failures))
	if b.hook != nil {
		b.hook(targetID, from, to)
	}
}
