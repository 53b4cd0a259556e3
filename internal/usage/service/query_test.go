package service

import (
	"context"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueriesValidateBeforeStorage(t *testing.T) {
	f := newFixture(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	_, err := f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1, From: "2024-13-01"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidDate)

	_, err = f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1, From: "2024-07-10", To: "2024-07-01"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRange)

	_, err = f.svc.ListMonthly(ctx, usagedomain.MonthlyQuery{TenantID: 1, From: "July"})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidMonth)

	_, err = f.svc.ListTotals(ctx, usagedomain.TotalsFilter{})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidTenant)

	_, err = f.svc.ListUnused(ctx, 1, -3)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRange)

	_, err = f.svc.GetTotal(ctx, 1, "missing")
	assert.ErrorIs(t, err, usagedomain.ErrNotFound)
}

func TestListDailyDefaultsToLastThirtyDays(t *testing.T) {
	f := newFixture(t, time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	require.NoError(t, f.seed.Daily(ctx, 1, "home", utc(2024, 5, 1), 1))
	require.NoError(t, f.seed.Daily(ctx, 1, "home", utc(2024, 7, 1), 2))
	require.NoError(t, f.seed.Daily(ctx, 1, "about", utc(2024, 7, 15), 3))

	rows, err := f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "about", rows[0].ResourceKey)

	rows, err = f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1, ResourceKey: "/home.twig", From: "2024-01-01"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestListMonthlyWindow(t *testing.T) {
	f := newFixture(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	require.NoError(t, f.seed.Monthly(ctx, 1, "home", utc(2023, 1, 1), 1))
	require.NoError(t, f.seed.Monthly(ctx, 1, "home", utc(2024, 6, 1), 2))

	rows, err := f.svc.ListMonthly(ctx, usagedomain.MonthlyQuery{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Hits)

	rows, err = f.svc.ListMonthly(ctx, usagedomain.MonthlyQuery{TenantID: 1, From: "2023-01", To: "2023-12"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Hits)
}

func TestLastNWindows(t *testing.T) {
	f := newFixture(t, time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	require.NoError(t, f.seed.Daily(ctx, 1, "home", utc(2024, 7, 1), 2))
	require.NoError(t, f.seed.Daily(ctx, 1, "home", utc(2024, 7, 14), 1))
	require.NoError(t, f.seed.Monthly(ctx, 1, "home", utc(2024, 1, 1), 5))
	require.NoError(t, f.seed.Monthly(ctx, 1, "home", utc(2024, 6, 1), 2))

	rows, err := f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1, LastDays: 7})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Hits)

	rows2, err := f.svc.ListMonthly(ctx, usagedomain.MonthlyQuery{TenantID: 1, LastMonths: 3})
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, int64(2), rows2[0].Hits)

	_, err = f.svc.ListDaily(ctx, usagedomain.DailyQuery{TenantID: 1, LastDays: -1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRange)
	_, err = f.svc.ListMonthly(ctx, usagedomain.MonthlyQuery{TenantID: 1, LastMonths: -1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRange)
}

func TestListUnused(t *testing.T) {
	now := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	ctx := context.Background()

	recent := now.AddDate(0, 0, -2)
	old := now.AddDate(0, 0, -45)
	require.NoError(t, f.seed.Total(ctx, 1, "recent", 5, &recent))
	require.NoError(t, f.seed.Total(ctx, 1, "old", 2, &old))
	require.NoError(t, f.seed.Total(ctx, 1, "never", 0, nil))

	unused, err := f.svc.ListUnused(ctx, 1, 30)
	require.NoError(t, err)
	require.Len(t, unused, 2)

	byKey := map[string]usagedomain.UnusedResource{}
	for _, u := range unused {
		byKey[u.ResourceKey] = u
	}
	require.NotNil(t, byKey["old"].DaysSinceLastUse)
	assert.Equal(t, 45, *byKey["old"].DaysSinceLastUse)
	assert.Nil(t, byKey["never"].DaysSinceLastUse)

	totals, err := f.svc.ListTotals(ctx, usagedomain.TotalsFilter{TenantID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "recent", totals[0].ResourceKey)
}
