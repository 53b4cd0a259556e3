package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TenantMonth identifies a tenant's calendar month.
type TenantMonth struct {
	TenantID int64
	Month    Month
}

// ResourceHits is a per-resource hit sum.
type ResourceHits struct {
	ResourceKey string
	Hits        int64
}

// DailyMonthFilter bounds the Daily scan used to discover candidate months.
// Zero times leave a side open.
type DailyMonthFilter struct {
	TenantIDs []int64
	From      time.Time
	Before    time.Time
}

// TotalsFilter lists totals by hits descending then key ascending. After
// resumes strictly past the given position.
type TotalsFilter struct {
	TenantID int64
	Prefix   string
	Limit    int
	After    *TotalsCursor
}

type TotalsCursor struct {
	TotalHits   int64
	ResourceKey string
}

type DailyFilter struct {
	TenantID    int64
	ResourceKey string
	From        time.Time
	To          time.Time
}

type MonthlyFilter struct {
	TenantID    int64
	ResourceKey string
	From        Month
	To          Month
}

type Repository interface {
	UpsertTotal(ctx context.Context, db *gorm.DB, row *UsageTotal, hits int64) error
	UpsertDaily(ctx context.Context, db *gorm.DB, row *UsageDaily) error
	InitTrackingStart(ctx context.Context, db *gorm.DB, tenantID int64, startedAt time.Time) error
	GetTrackingMeta(ctx context.Context, db *gorm.DB, tenantID int64) (*TrackingMeta, error)
	DeleteTrackingMeta(ctx context.Context, db *gorm.DB) (int64, error)

	ListDailyMonths(ctx context.Context, db *gorm.DB, filter DailyMonthFilter) ([]TenantMonth, error)
	ListLoggedMonths(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) ([]TenantMonth, error)
	SumDaily(ctx context.Context, db *gorm.DB, tenantID int64, month Month) ([]ResourceHits, error)
	UpsertMonthly(ctx context.Context, db *gorm.DB, row *UsageMonthly) error
	InsertAggregationLog(ctx context.Context, db *gorm.DB, entry *AggregationLog) error

	DeleteDailyRange(ctx context.Context, db *gorm.DB, tenantID int64, from, to time.Time) (int64, error)
	DeleteDailyBefore(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) (int64, error)
	DeleteMonthlyBefore(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) (int64, error)

	GetTotal(ctx context.Context, db *gorm.DB, tenantID int64, resourceKey string) (*UsageTotal, error)
	ListTotals(ctx context.Context, db *gorm.DB, filter TotalsFilter) ([]UsageTotal, error)
	ListDaily(ctx context.Context, db *gorm.DB, filter DailyFilter) ([]UsageDaily, error)
	ListMonthly(ctx context.Context, db *gorm.DB, filter MonthlyFilter) ([]UsageMonthly, error)
	ListUnused(ctx context.Context, db *gorm.DB, tenantID int64, cutoff time.Time) ([]UsageTotal, error)
}
