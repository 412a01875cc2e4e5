package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storewatch/internal/breaker"
	"github.com/JakeFAU/storewatch/internal/classify"
	"github.com/JakeFAU/storewatch/internal/clock/system"
	"github.com/JakeFAU/storewatch/internal/detect"
	"github.com/JakeFAU/storewatch/internal/evidence"
	"github.com/JakeFAU/storewatch/internal/hash/sha256"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/sku"
	"github.com/JakeFAU/storewatch/internal/storage/memory"
)

type probeFunc func(ctx context.Context, target monitor.Target) (monitor.ProbeResult, error)

// fakeProber counts calls and tracks how many probes run at once.
type fakeProber struct {
	fn       probeFunc
	calls    atomic.Int64
	inflight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, target monitor.Target) (monitor.ProbeResult, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(ctx, target)
}

type recordingNotifier struct {
	mu        sync.Mutex
	problems  [][]monitor.Classification
	summaries []monitor.CycleSummary
}

func (n *recordingNotifier) NotifyProblemTargets(_ context.Context, problems []monitor.Classification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.problems = append(n.problems, problems)
	return nil
}

func (n *recordingNotifier) NotifyCycleHealth(_ context.Context, summary monitor.CycleSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func onlineResult(products ...monitor.ProductObservation) monitor.ProbeResult {
	return monitor.ProbeResult{
		HTTPStatus: 200,
		Body:       []byte(`{"merchant":{"ID":"x"}}`),
		Data: &monitor.PlatformData{
			Name:     "Jollibee",
			State:    monitor.MerchantStateActive,
			Closed:   boolPtr(false),
			Products: products,
		},
	}
}

func closedResult() monitor.ProbeResult {
	return monitor.ProbeResult{
		HTTPStatus: 200,
		Body:       []byte(`{"merchant":{"ID":"x","isClosed":true}}`),
		Data:       &monitor.PlatformData{Name: "Jollibee", Closed: boolPtr(true)},
	}
}

func alwaysOnline(context.Context, monitor.Target) (monitor.ProbeResult, error) {
	return onlineResult(), nil
}

func grabTargets(n int) []monitor.Target {
	out := make([]monitor.Target, n)
	for i := range out {
		out[i] = monitor.Target{
			DisplayName: fmt.Sprintf("store-%d", i),
			URL:         fmt.Sprintf("https://food.grab.com/ph/en/restaurant/store-%d/2-ID%d", i, i),
			Platform:    monitor.PlatformGrabFood,
		}
	}
	return out
}

type fixture struct {
	sched    *Scheduler
	store    *memory.Store
	notifier *recordingNotifier
	breaker  *breaker.Breaker
	blobs    *evidence.MemoryStore
	targets  []monitor.Target
}

func newFixture(t *testing.T, cfg Config, prober monitor.Prober, n int) *fixture {
	t.Helper()

	store := memory.NewStore(nil)
	notifier := &recordingNotifier{}
	b := breaker.New()
	blobs := evidence.NewMemoryStore()
	hasher := sha256.New()
	s, err := New(cfg, Deps{
		Probers:    map[monitor.Platform]monitor.Prober{monitor.PlatformGrabFood: prober},
		Detector:   detect.New(hasher),
		Classifier: classify.New(classify.DefaultRules()),
		Breaker:    b,
		Store:      store,
		Notifier:   notifier,
		Archive:    evidence.NewArchive(blobs, hasher, "snapshots"),
		Clock:      system.New(),
	})
	require.NoError(t, err)
	targets, err := s.RegisterTargets(context.Background(), grabTargets(n))
	require.NoError(t, err)
	return &fixture{sched: s, store: store, notifier: notifier, breaker: b, blobs: blobs, targets: targets}
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.ErrorContains(t, err, "prober")

	s, err := New(Config{}, Deps{
		Probers:    map[monitor.Platform]monitor.Prober{monitor.PlatformGrabFood: &fakeProber{fn: alwaysOnline}},
		Detector:   detect.New(nil),
		Classifier: classify.New(classify.Rules{}),
		Breaker:    breaker.New(),
		Store:      memory.NewStore(nil),
		Clock:      system.New(),
	})
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, s.TargetDeadline())
}

func TestRegisterTargetsAdoptsStoreIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeProber{fn: alwaysOnline}, 2)
	for _, target := range f.targets {
		require.NotEmpty(t, target.ID)
	}
	require.NotEqual(t, f.targets[0].ID, f.targets[1].ID)
}

func TestRunCycleBoundsConcurrency(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: alwaysOnline, delay: 15 * time.Millisecond}
	f := newFixture(t, Config{Concurrency: 3}, prober, 20)

	summary := f.sched.RunCycle(context.Background(), f.targets)

	require.LessOrEqual(t, prober.maxSeen.Load(), int64(3))
	require.GreaterOrEqual(t, prober.maxSeen.Load(), int64(1))
	require.Equal(t, int64(20), prober.calls.Load())
	require.Equal(t, 20, summary.Checked)
	require.Equal(t, 20, summary.Online())
	require.NotEmpty(t, summary.CycleID)
}

func TestRunCycleRecordsAndNotifies(t *testing.T) {
	t.Parallel()

	var byURL sync.Map
	prober := &fakeProber{fn: func(_ context.Context, target monitor.Target) (monitor.ProbeResult, error) {
		v, _ := byURL.Load(target.URL)
		return v.(func() (monitor.ProbeResult, error))()
	}}
	f := newFixture(t, Config{Concurrency: 2}, prober, 4)
	byURL.Store(f.targets[0].URL, func() (monitor.ProbeResult, error) { return onlineResult(), nil })
	byURL.Store(f.targets[1].URL, func() (monitor.ProbeResult, error) { return closedResult(), nil })
	byURL.Store(f.targets[2].URL, func() (monitor.ProbeResult, error) {
		return monitor.ProbeResult{HTTPStatus: 429, Body: []byte("Too Many Requests")}, nil
	})
	byURL.Store(f.targets[3].URL, func() (monitor.ProbeResult, error) {
		return monitor.ProbeResult{HTTPStatus: 404, Body: []byte("not here")}, nil
	})

	summary := f.sched.RunCycle(context.Background(), f.targets)

	require.Equal(t, 4, summary.Total)
	require.Equal(t, 4, summary.Checked)
	require.Equal(t, 1, summary.Online())
	require.Equal(t, 2, summary.Offline())
	require.Equal(t, 1, summary.Counts[monitor.StatusBlocked])

	cycles := f.store.Cycles()
	require.Len(t, cycles, 1)
	require.Equal(t, 4, cycles[0].Total)
	require.Equal(t, 1, cycles[0].Online)
	require.Equal(t, 2, cycles[0].Offline)

	blocked := f.store.Observations(f.targets[2].ID)
	require.Len(t, blocked, 1)
	require.Equal(t, monitor.StatusBlocked, blocked[0].Status)
	require.Contains(t, blocked[0].Evidence, "rate limited")
	require.Contains(t, blocked[0].Evidence, "snapshot=memory://snapshots/")
	require.Equal(t, 1, f.blobs.Len())

	require.Len(t, f.notifier.problems, 1)
	require.Len(t, f.notifier.problems[0], 3)
	require.Len(t, f.notifier.summaries, 1)
	require.Equal(t, summary.CycleID, f.notifier.summaries[0].CycleID)

	last, ok := f.sched.LastSummary()
	require.True(t, ok)
	require.Equal(t, summary.CycleID, last.CycleID)
	st, ok := f.sched.LastStatus(f.targets[1].ID)
	require.True(t, ok)
	require.Equal(t, monitor.StatusClosed, st)
}

func TestRunCycleNoProblemsSkipsProblemNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeProber{fn: alwaysOnline}, 3)
	f.sched.RunCycle(context.Background(), f.targets)

	require.Empty(t, f.notifier.problems)
	require.Len(t, f.notifier.summaries, 1)
}

func TestCircuitOpensAfterRepeatedTimeouts(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: func(_ context.Context, target monitor.Target) (monitor.ProbeResult, error) {
		return monitor.ProbeResult{}, &monitor.TransportError{Reason: monitor.ReasonTimeout, URL: target.URL}
	}}
	f := newFixture(t, Config{}, prober, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		summary := f.sched.RunCycle(ctx, f.targets)
		require.Equal(t, 1, summary.Counts[monitor.StatusError], "cycle %d", i+1)
	}
	require.Equal(t, breaker.StateOpen, f.breaker.State(f.targets[0].ID))

	summary := f.sched.RunCycle(ctx, f.targets)
	require.Equal(t, int64(3), prober.calls.Load())
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Checked)
	require.Len(t, f.store.Observations(f.targets[0].ID), 3)
}

func TestTargetDeadlineIsolatesHungProbe(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var hungURL atomic.Value
	prober := &fakeProber{fn: func(_ context.Context, target monitor.Target) (monitor.ProbeResult, error) {
		if target.URL == hungURL.Load() {
			<-release
		}
		return onlineResult(), nil
	}}
	f := newFixture(t, Config{Concurrency: 2, ProbeTimeout: 50 * time.Millisecond, MaxAttempts: 1}, prober, 5)
	hungURL.Store(f.targets[0].URL)

	started := time.Now()
	summary := f.sched.RunCycle(context.Background(), f.targets)

	require.Less(t, time.Since(started), 2*time.Second)
	require.Equal(t, 5, summary.Checked)
	require.Equal(t, 4, summary.Online())
	require.Equal(t, 1, summary.Counts[monitor.StatusError])
	obs := f.store.Observations(f.targets[0].ID)
	require.Len(t, obs, 1)
	require.True(t, strings.Contains(obs[0].Evidence, "TIMEOUT"), obs[0].Evidence)
}

func TestProbePanicBecomesError(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: func(context.Context, monitor.Target) (monitor.ProbeResult, error) {
		panic("parser exploded")
	}}
	f := newFixture(t, Config{}, prober, 2)

	summary := f.sched.RunCycle(context.Background(), f.targets)

	require.Equal(t, 2, summary.Counts[monitor.StatusError])
	obs := f.store.Observations(f.targets[1].ID)
	require.Len(t, obs, 1)
	require.Contains(t, obs[0].Evidence, "parser exploded")
}

func TestMissingProberIsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeProber{fn: alwaysOnline}, 1)
	panda, err := f.sched.RegisterTargets(context.Background(), []monitor.Target{{
		DisplayName: "panda",
		URL:         "https://www.foodpanda.ph/restaurant/a1b2/panda",
		Platform:    monitor.PlatformFoodpanda,
	}})
	require.NoError(t, err)

	summary := f.sched.RunCycle(context.Background(), append(f.targets, panda...))
	require.Equal(t, 1, summary.Online())
	require.Equal(t, 1, summary.Counts[monitor.StatusError])
}

func TestCanceledCycleAbandonsTargets(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: alwaysOnline}
	f := newFixture(t, Config{}, prober, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := f.sched.RunCycle(ctx, f.targets)

	require.Equal(t, 3, summary.Abandoned)
	require.Equal(t, 0, summary.Checked)
	require.Equal(t, int64(0), prober.calls.Load())
	require.Equal(t, breaker.StateClosed, f.breaker.State(f.targets[0].ID))
	require.Empty(t, f.store.Observations(f.targets[0].ID))
}

func TestCycleTimeoutAbandonsInFlightProbe(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: func(ctx context.Context, _ monitor.Target) (monitor.ProbeResult, error) {
		<-ctx.Done()
		return monitor.ProbeResult{}, ctx.Err()
	}}
	f := newFixture(t, Config{CycleTimeout: 30 * time.Millisecond, ProbeTimeout: 5 * time.Second}, prober, 1)

	summary := f.sched.RunCycle(context.Background(), f.targets)

	require.Equal(t, 1, summary.Abandoned)
	require.Empty(t, f.store.Observations(f.targets[0].ID))
	require.Len(t, f.store.Cycles(), 1)
}

func TestRunSKUCycle(t *testing.T) {
	t.Parallel()

	price := 99.0
	prober := &fakeProber{fn: func(_ context.Context, target monitor.Target) (monitor.ProbeResult, error) {
		if strings.Contains(target.URL, "store-1") {
			return closedResult(), nil
		}
		return onlineResult(
			monitor.ProductObservation{ScrapedName: "Chickenjoy 1pc", Price: &price, Available: true},
			monitor.ProductObservation{ScrapedName: "Jolly Spaghetti", Available: false},
			monitor.ProductObservation{ScrapedName: "Mystery Box", Available: true},
		), nil
	}}
	f := newFixture(t, Config{}, prober, 2)
	catalog, err := sku.NewCatalog([]monitor.ProductCatalogEntry{
		{SKUCode: "JB-001", CanonicalName: "Chickenjoy 1pc", Platform: monitor.PlatformGrabFood},
		{SKUCode: "JB-002", CanonicalName: "Jolly Spaghetti", Platform: monitor.PlatformGrabFood},
		{SKUCode: "JB-003", CanonicalName: "Peach Mango Pie", Platform: monitor.PlatformGrabFood},
	})
	require.NoError(t, err)
	f.sched.Catalog = catalog
	f.sched.Matcher = sku.NewMatcher(sku.DefaultThreshold, nil)
	ctx := context.Background()

	require.Empty(t, f.sched.RunSKUCycle(ctx, f.targets), "no cycle has run yet")

	f.sched.RunCycle(ctx, f.targets)
	records := f.sched.RunSKUCycle(ctx, f.targets)
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, f.targets[0].ID, rec.TargetID)
	require.Equal(t, []string{"JB-002"}, rec.OutOfStockSKUCodes)
	require.Equal(t, []string{"mystery box"}, lowerAll(rec.UnmatchedProducts))
	require.Equal(t, []string{"JB-003"}, rec.MissingSKUCodes)

	stored, ok := f.store.Compliance(rec.TargetID, rec.CheckDate)
	require.True(t, ok)
	require.Equal(t, rec.CompliancePercentage, stored.CompliancePercentage)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, &fakeProber{fn: alwaysOnline}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sched.Run(ctx, f.targets, 10*time.Millisecond, 0)
	}()

	require.Eventually(t, func() bool { return len(f.store.Cycles()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestStableNotFoundStaysOfflineAcrossCycles(t *testing.T) {
	t.Parallel()

	notFound := func(context.Context, monitor.Target) (monitor.ProbeResult, error) {
		return monitor.ProbeResult{HTTPStatus: 404, Body: []byte(`{"error":"merchant not found"}`)}, nil
	}
	f := newFixture(t, Config{}, &fakeProber{fn: notFound}, 1)
	id := f.targets[0].ID

	for cycle := 1; cycle <= 5; cycle++ {
		summary := f.sched.RunCycle(context.Background(), f.targets)
		require.Equal(t, 1, summary.Offline(), "cycle %d", cycle)
		st, ok := f.sched.LastStatus(id)
		require.True(t, ok)
		require.Equal(t, monitor.StatusOffline, st, "cycle %d", cycle)
		require.Empty(t, f.sched.LastReview(), "cycle %d", cycle)
	}
	require.True(t, f.breaker.IsAvailable(id))
	for _, obs := range f.store.Observations(id) {
		require.Equal(t, monitor.StatusOffline, obs.Status)
	}
}

func TestRepeatedBodiesWithinOneProbeAreBlocked(t *testing.T) {
	t.Parallel()

	busy := []byte("<html><body>please wait</body></html>")
	prober := &fakeProber{fn: func(context.Context, monitor.Target) (monitor.ProbeResult, error) {
		return monitor.ProbeResult{HTTPStatus: 200, Body: busy, Attempts: 3, PriorBodies: [][]byte{busy, busy}}, nil
	}}
	f := newFixture(t, Config{}, prober, 1)

	summary := f.sched.RunCycle(context.Background(), f.targets)
	require.Equal(t, 1, summary.Counts[monitor.StatusBlocked])

	items := f.sched.LastReview()
	require.Len(t, items, 1)
	require.Equal(t, f.targets[0].ID, items[0].TargetID)
	require.Equal(t, monitor.StatusBlocked, items[0].Status)
	require.Contains(t, items[0].Evidence, detect.ReasonRepetition)
	require.NotEmpty(t, items[0].Reason)
	require.NotEmpty(t, items[0].EvidenceURI)
}

func TestLastReviewOrdersCycleProblems(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: func(_ context.Context, target monitor.Target) (monitor.ProbeResult, error) {
		switch {
		case strings.Contains(target.URL, "store-0"):
			return monitor.ProbeResult{HTTPStatus: 429}, nil
		case strings.Contains(target.URL, "store-1"):
			return monitor.ProbeResult{}, &monitor.TransportError{Reason: monitor.ReasonConnection, URL: target.URL}
		default:
			return onlineResult(), nil
		}
	}}
	f := newFixture(t, Config{}, prober, 3)
	f.sched.RunCycle(context.Background(), f.targets)

	items := f.sched.LastReview()
	require.Len(t, items, 2)
	require.Equal(t, monitor.StatusBlocked, items[0].Status)
	require.Equal(t, monitor.StatusError, items[1].Status)
}

func TestOverrideMakesTargetEligibleForSKUCycle(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{fn: func(context.Context, monitor.Target) (monitor.ProbeResult, error) {
		return onlineResult(monitor.ProductObservation{ScrapedName: "Chickenjoy 1pc", Available: true}), nil
	}}
	f := newFixture(t, Config{}, prober, 1)
	catalog, err := sku.NewCatalog([]monitor.ProductCatalogEntry{
		{SKUCode: "JB-001", CanonicalName: "Chickenjoy 1pc", Platform: monitor.PlatformGrabFood},
	})
	require.NoError(t, err)
	f.sched.Catalog = catalog
	f.sched.Matcher = sku.NewMatcher(sku.DefaultThreshold, nil)
	ctx := context.Background()

	require.Empty(t, f.sched.RunSKUCycle(ctx, f.targets))

	f.sched.ObserveOverride(f.targets[0].ID, monitor.StatusOnline)
	records := f.sched.RunSKUCycle(ctx, f.targets)
	require.Len(t, records, 1)
	require.InDelta(t, 100.0, records[0].CompliancePercentage, 0.001)

	f.sched.ObserveOverride(f.targets[0].ID, monitor.StatusOffline)
	require.Empty(t, f.sched.RunSKUCycle(ctx, f.targets))
}
