package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	"github.com/smallbiznis/lantern/internal/lock"
	obsmetrics "github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/internal/testutil"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUsage struct {
	usagedomain.Service

	mu         sync.Mutex
	flushes    int
	aggregates int
	flushErr   error
	entered    chan struct{}
	block      chan struct{}
}

func (f *fakeUsage) FlushAll(context.Context) []usagedomain.FlushResult {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	if f.flushErr != nil {
		return []usagedomain.FlushResult{{TenantID: 1, Err: f.flushErr, Message: f.flushErr.Error()}}
	}
	return []usagedomain.FlushResult{{Success: true, TenantID: 1, ResourcesProcessed: 2}}
}

func (f *fakeUsage) Aggregate(context.Context, usagedomain.AggregateOptions) usagedomain.AggregateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregates++
	return usagedomain.AggregateResult{Success: true}
}

func (f *fakeUsage) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes, f.aggregates
}

type fakeInventory struct {
	scans atomic.Int32
}

func (f *fakeInventory) Scan(_ context.Context, tenantID int64) inventorydomain.ScanResult {
	f.scans.Add(1)
	return inventorydomain.ScanResult{Success: true, TenantID: tenantID, Found: 1}
}

func (f *fakeInventory) ListKnownResources(context.Context, int64) ([]inventorydomain.KnownResource, error) {
	return nil, nil
}

type harness struct {
	sched     *Scheduler
	usage     *fakeUsage
	inventory *fakeInventory
	locker    lock.Locker
	clock     *clock.FakeClock
	settings  *config.TrackingSettingsHolder
}

func newHarness(t *testing.T, flags Flags, clk *clock.FakeClock, mutate func(*config.TrackingSettings)) *harness {
	t.Helper()
	if clk == nil {
		clk = clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	}
	if flags == nil {
		flags = NewMemoryFlags(clk)
	}
	s := config.DefaultTrackingSettings()
	if mutate != nil {
		mutate(&s)
	}
	settings := config.NewStaticTrackingSettings(s)
	usage := &fakeUsage{}
	inventory := &fakeInventory{}
	locker := lock.NewMemoryLocker(clk)

	sched, err := New(Params{
		Log:       zap.NewNop(),
		Usage:     usage,
		Inventory: inventory,
		Locker:    locker,
		Flags:     flags,
		Settings:  settings,
		AppConfig: config.Config{DefaultTenantID: 1, InventoryRoot: "templates"},
		GenID:     testutil.Node(t),
		Clock:     clk,
		Config:    Config{QueueSize: 4, Concurrency: 1},
	})
	require.NoError(t, err)
	return &harness{sched: sched, usage: usage, inventory: inventory, locker: locker, clock: clk, settings: settings}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFlushAggregateJobSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx := context.Background()

	token, ok, err := h.locker.TryLock(ctx, FlushAggregateLock, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	flushes, aggregates := h.usage.counts()
	assert.Zero(t, flushes)
	assert.Zero(t, aggregates)

	require.NoError(t, h.locker.Release(ctx, FlushAggregateLock, token))
	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	flushes, _ = h.usage.counts()
	assert.Equal(t, 1, flushes)
}

func TestFlushAggregateJobThrottlesAggregation(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AggregateIntervalSeconds = 3600
	})
	ctx := context.Background()

	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	flushes, aggregates := h.usage.counts()
	assert.Equal(t, 2, flushes)
	assert.Equal(t, 1, aggregates)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	_, aggregates = h.usage.counts()
	assert.Equal(t, 2, aggregates)
}

func TestFlushAggregateJobHonoursDisabledAggregation(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.EnableAggregation = false
	})
	require.NoError(t, h.sched.FlushAggregateJob(context.Background()))
	flushes, aggregates := h.usage.counts()
	assert.Equal(t, 1, flushes)
	assert.Zero(t, aggregates)
}

func TestFlushAggregateJobReleasesLockOnFailure(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.usage.flushErr = errors.New("disk full")
	ctx := context.Background()

	err := h.sched.FlushAggregateJob(ctx)
	require.Error(t, err)

	_, ok, err := h.locker.TryLock(ctx, FlushAggregateLock, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOnIncrementDebouncesFlush(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoScanEnabled = false
		s.AutoFlushIntervalSeconds = 300
	})
	ctx := context.Background()

	assert.Equal(t, obsmetrics.DebounceEnqueued, h.sched.OnIncrement(ctx, 1, "site").Flush)
	assert.Equal(t, obsmetrics.DebounceQueued, h.sched.OnIncrement(ctx, 1, "site").Flush)
	assert.Equal(t, 1, h.sched.queue.Len())

	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, obsmetrics.DebounceEnqueued, h.sched.OnIncrement(ctx, 1, "site").Flush)
	assert.Equal(t, obsmetrics.DebounceDisabled, h.sched.OnIncrement(ctx, 1, "site").Scan)
}

func TestOnIncrementFiltersRequestClass(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoFlushOnlyForRequestClass = "site"
	})
	ctx := context.Background()

	assert.Equal(t, obsmetrics.DebounceRequestClass, h.sched.OnIncrement(ctx, 1, "console").Flush)
	assert.Equal(t, obsmetrics.DebounceEnqueued, h.sched.OnIncrement(ctx, 1, "SITE").Flush)
}

func TestOnIncrementDisabled(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoFlushEnabled = false
		s.AutoScanEnabled = false
	})
	got := h.sched.OnIncrement(context.Background(), 1, "")
	assert.Equal(t, Decisions{Flush: obsmetrics.DebounceDisabled, Scan: obsmetrics.DebounceDisabled}, got)
	assert.Zero(t, h.sched.queue.Len())
}

func TestOnIncrementReportsFullQueue(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.True(t, h.sched.queue.Enqueue(Job{Name: "noop", Run: func(context.Context) error { return nil }}))
	}
	assert.Equal(t, obsmetrics.DebounceQueueFull, h.sched.OnIncrement(ctx, 1, "").Flush)
}

func TestScanTriggerIsPerTenant(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoFlushEnabled = false
	})
	ctx := context.Background()

	assert.Equal(t, obsmetrics.DebounceEnqueued, h.sched.OnIncrement(ctx, 1, "").Scan)
	assert.Equal(t, obsmetrics.DebounceEnqueued, h.sched.OnIncrement(ctx, 2, "").Scan)
	assert.Equal(t, obsmetrics.DebounceQueued, h.sched.OnIncrement(ctx, 1, "").Scan)
}

func TestMarkScannedDelaysAutomaticScan(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoFlushEnabled = false
	})
	ctx := context.Background()

	require.NoError(t, h.sched.MarkScanned(ctx, 1))
	assert.Equal(t, obsmetrics.DebounceTooSoon, h.sched.OnIncrement(ctx, 1, "").Scan)
}

func TestQueueRunsJobsAndStops(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.AutoScanEnabled = false
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sched.Start(ctx)
	}()

	h.sched.OnIncrement(ctx, 1, "")
	require.Eventually(t, func() bool {
		flushes, _ := h.usage.counts()
		return flushes == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunOnceRunsDueScan(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.sched.RunOnce(ctx))
	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, int32(1), h.inventory.scans.Load())
	flushes, _ := h.usage.counts()
	assert.Equal(t, 2, flushes)
}

func TestConcurrentJobsOnlyOneHoldsLock(t *testing.T) {
	h := newHarness(t, nil, nil, func(s *config.TrackingSettings) {
		s.EnableAggregation = false
	})
	h.usage.entered = make(chan struct{})
	h.usage.block = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = h.sched.FlushAggregateJob(ctx)
	}()

	select {
	case <-h.usage.entered:
	case <-time.After(time.Second):
		t.Fatal("first job never started flushing")
	}

	require.NoError(t, h.sched.FlushAggregateJob(ctx))
	close(h.usage.block)
	wg.Wait()

	flushes, _ := h.usage.counts()
	assert.Equal(t, 1, flushes)
}

func TestRedisFlagsClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	flags, err := NewRedisFlags(client, "lantern")
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	decision, err := flags.Claim(ctx, flagFlush, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, obsmetrics.DebounceEnqueued, decision)
	assert.True(t, mr.Exists("lantern:flush:queued"))

	decision, err = flags.Claim(ctx, flagFlush, now.Add(10*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, obsmetrics.DebounceQueued, decision)

	mr.FastForward(time.Minute)
	decision, err = flags.Claim(ctx, flagFlush, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, obsmetrics.DebounceTooSoon, decision)

	decision, err = flags.Claim(ctx, flagFlush, now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, obsmetrics.DebounceEnqueued, decision)

	last, ok, err := flags.Last(ctx, flagFlush)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(now.Add(time.Minute)))

	_, ok, err = flags.Last(ctx, flagAggregate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFlagsRequireClient(t *testing.T) {
	_, err := NewRedisFlags(nil, "lantern")
	assert.Error(t, err)
}
