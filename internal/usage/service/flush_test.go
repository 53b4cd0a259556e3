package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/lantern/internal/testutil"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/smallbiznis/lantern/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushRoundTrip(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.increment(t, 1, "blog/post", 1)
		f.clock.Advance(time.Minute)
	}
	lastIncrement := f.clock.Now().Add(-time.Minute)

	res := f.svc.Flush(ctx, 1)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.ResourcesProcessed)
	assert.Equal(t, int64(5), res.TotalHitsProcessed)

	total, err := f.svc.GetTotal(ctx, 1, "blog/post")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total.TotalHits)
	require.NotNil(t, total.LastUsedAt)
	assert.True(t, lastIncrement.Equal(*total.LastUsedAt))
	assert.NotNil(t, total.FirstSeenAt)

	pending, err := f.acc.TotalHits(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, pending)

	for _, tenantID := range []int64{1, usagedomain.GlobalTenantID} {
		started, err := f.svc.TrackingStartedAt(ctx, tenantID)
		require.NoError(t, err)
		assert.NotNil(t, started, "tenant %d", tenantID)
	}
}

func TestFlushIsAllOrNothing(t *testing.T) {
	repo := &failingRepo{Repository: repository.Provide(), failDailyFor: "zzz"}
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), repo)
	ctx := context.Background()

	f.increment(t, 1, "aaa", 2)
	f.increment(t, 1, "zzz", 3)

	res := f.svc.Flush(ctx, 1)
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Message, "disk full")

	assert.Zero(t, testutil.Count(t, f.db, &usagedomain.UsageTotal{}))
	assert.Zero(t, testutil.Count(t, f.db, &usagedomain.UsageDaily{}))
	assert.Zero(t, testutil.Count(t, f.db, &usagedomain.TrackingMeta{}))

	pending, err := f.acc.TotalHits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pending)
}

func TestFlushEmptyIsNoop(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)

	res := f.svc.Flush(context.Background(), 1)
	assert.True(t, res.Success)
	assert.Zero(t, res.ResourcesProcessed)
	assert.Zero(t, testutil.Count(t, f.db, &usagedomain.TrackingMeta{}))
}

func TestFlushAccumulatesAcrossRuns(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	f.increment(t, 1, "home", 2)
	require.True(t, f.svc.Flush(ctx, 1).Success)
	first, err := f.svc.GetTotal(ctx, 1, "home")
	require.NoError(t, err)
	started, err := f.svc.TrackingStartedAt(ctx, 1)
	require.NoError(t, err)

	f.clock.Advance(26 * time.Hour)
	f.increment(t, 1, "home.twig", 3)
	require.True(t, f.svc.Flush(ctx, 1).Success)

	second, err := f.svc.GetTotal(ctx, 1, "home")
	require.NoError(t, err)
	assert.Equal(t, int64(5), second.TotalHits)
	assert.True(t, first.FirstSeenAt.Equal(*second.FirstSeenAt))
	assert.True(t, f.clock.Now().Equal(*second.LastUsedAt))

	restarted, err := f.svc.TrackingStartedAt(ctx, 1)
	require.NoError(t, err)
	assert.True(t, started.Equal(*restarted), "tracking start is set once")

	assert.Equal(t, map[string]int64{"home@2024-06-01": 2, "home@2024-06-02": 3}, dailyHits(t, f.db, 1))
}

func TestFlushAllCoversEveryTenant(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	f.increment(t, 1, "home", 1)
	f.increment(t, 2, "home", 4)

	results := f.svc.FlushAll(context.Background())
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Success)
	}
	assert.Equal(t, map[string]int64{"home@2024-06-01": 4}, dailyHits(t, f.db, 2))
}

func TestFlushSkipsWhenTenantLocked(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	f.increment(t, 1, "home", 1)

	_, ok, err := f.svc.locker.TryLock(ctx, "flush:tenant:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res := f.svc.Flush(ctx, 1)
	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Zero(t, testutil.Count(t, f.db, &usagedomain.UsageTotal{}))
}

func TestResetTrackingRestampsOnNextFlush(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	f.increment(t, 1, "home", 1)
	require.True(t, f.svc.Flush(ctx, 1).Success)

	n, err := f.svc.ResetTracking(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	f.clock.Advance(time.Hour)
	f.increment(t, 1, "home", 1)
	require.True(t, f.svc.Flush(ctx, 1).Success)

	started, err := f.svc.TrackingStartedAt(ctx, usagedomain.GlobalTenantID)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Equal(*started))
}

func TestUpsertTotalKeepsLatestLastUsed(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	repo := repository.Provide()
	node := testutil.Node(t)

	upsert := func(hits int64, lastUsed time.Time) {
		now := f.clock.Now()
		row := &usagedomain.UsageTotal{
			ID:          node.Generate(),
			ResourceKey: "home",
			TenantID:    1,
			LastUsedAt:  &lastUsed,
			FirstSeenAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, repo.UpsertTotal(ctx, f.db, row, hits))
	}

	late := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	upsert(3, late)
	// a re-flushed snapshot carries an older hit time
	upsert(2, late.Add(-time.Hour))

	total, err := f.svc.GetTotal(ctx, 1, "home")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total.TotalHits)
	require.NotNil(t, total.LastUsedAt)
	assert.True(t, late.Equal(*total.LastUsedAt), total.LastUsedAt.String())

	upsert(1, late.Add(time.Minute))
	total, err = f.svc.GetTotal(ctx, 1, "home")
	require.NoError(t, err)
	assert.True(t, late.Add(time.Minute).Equal(*total.LastUsedAt))
}
