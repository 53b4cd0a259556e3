package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/lock"
	"github.com/smallbiznis/lantern/internal/testutil"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	"github.com/smallbiznis/lantern/internal/usage/canonical"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/smallbiznis/lantern/internal/usage/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	acc      *accumulator.Accumulator
	db       *gorm.DB
	clock    *clock.FakeClock
	settings *config.TrackingSettingsHolder
	seed     *testutil.Seeder
}

func newFixture(t *testing.T, now time.Time, repo usagedomain.Repository) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(now)
	settings := config.NewStaticTrackingSettings(config.DefaultTrackingSettings())
	if repo == nil {
		repo = repository.Provide()
	}

	acc := accumulator.New(accumulator.Params{
		Store: accumulator.NewMemoryStore(clk, 24*time.Hour),
		Canon: canonical.New(zap.NewNop(), []string{"twig", "html"}, nil),
		Clock: clk,
		Log:   zap.NewNop(),
	})
	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        repo,
		Accumulator: acc,
		Settings:    settings,
		Clock:       clk,
		Locker:      lock.NewMemoryLocker(clk),
	})
	return &fixture{svc: svc, acc: acc, db: db, clock: clk, settings: settings, seed: testutil.NewSeeder(db, node)}
}

func (f *fixture) increment(t *testing.T, tenantID int64, raw string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_, err := f.acc.Increment(context.Background(), tenantID, raw)
		require.NoError(t, err)
	}
}

func (f *fixture) updateSettings(t *testing.T, mutate func(*config.TrackingSettings)) {
	t.Helper()
	s := f.settings.Get()
	mutate(&s)
	require.NoError(t, f.settings.Set(s))
}

func monthPtr(t *testing.T, raw string) *usagedomain.Month {
	t.Helper()
	m, err := usagedomain.ParseMonth(raw)
	require.NoError(t, err)
	return &m
}

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyHits(t *testing.T, db *gorm.DB, tenantID int64) map[string]int64 {
	t.Helper()
	var rows []usagedomain.UsageDaily
	require.NoError(t, db.Where("tenant_id = ?", tenantID).Find(&rows).Error)
	out := map[string]int64{}
	for _, row := range rows {
		out[row.ResourceKey+"@"+time.Time(row.Day).UTC().Format("2006-01-02")] = row.Hits
	}
	return out
}

func monthlyHits(t *testing.T, db *gorm.DB, tenantID int64) map[string]int64 {
	t.Helper()
	var rows []usagedomain.UsageMonthly
	require.NoError(t, db.Where("tenant_id = ?", tenantID).Find(&rows).Error)
	out := map[string]int64{}
	for _, row := range rows {
		out[row.ResourceKey+"@"+time.Time(row.Month).UTC().Format("2006-01")] = row.Hits
	}
	return out
}

// failingRepo injects storage failures into selected operations.
type failingRepo struct {
	usagedomain.Repository
	failDailyFor   string
	failMonth      string
	failDailyPrune bool
	staleLogRead   bool
}

func (r *failingRepo) UpsertDaily(ctx context.Context, db *gorm.DB, row *usagedomain.UsageDaily) error {
	if row.ResourceKey == r.failDailyFor {
		return errors.New("disk full")
	}
	return r.Repository.UpsertDaily(ctx, db, row)
}

func (r *failingRepo) ListLoggedMonths(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) ([]usagedomain.TenantMonth, error) {
	if r.staleLogRead {
		return nil, nil
	}
	return r.Repository.ListLoggedMonths(ctx, db, tenantIDs, before)
}

func (r *failingRepo) UpsertMonthly(ctx context.Context, db *gorm.DB, row *usagedomain.UsageMonthly) error {
	if r.failMonth != "" && time.Time(row.Month).UTC().Format("2006-01") == r.failMonth {
		return errors.New("deadlock detected")
	}
	return r.Repository.UpsertMonthly(ctx, db, row)
}

func (r *failingRepo) DeleteDailyRange(ctx context.Context, db *gorm.DB, tenantID int64, from, to time.Time) (int64, error) {
	if r.failDailyPrune {
		return 0, errors.New("lock wait timeout")
	}
	return r.Repository.DeleteDailyRange(ctx, db, tenantID, from, to)
}
