package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidMonth    = errors.New("invalid_month")
	ErrInvalidDate     = errors.New("invalid_date")
	ErrInvalidRange    = errors.New("invalid_range")
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidResource = errors.New("invalid_resource")
	ErrNotFound        = errors.New("not_found")
)

// AccumulatorEntry is the pending count for one resource since the last flush.
type AccumulatorEntry struct {
	Hits      int64      `json:"hits"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`
}

// FlushResult reports one flush of a tenant's accumulator.
type FlushResult struct {
	Success            bool   `json:"success"`
	TenantID           int64  `json:"tenant_id"`
	ResourcesProcessed int    `json:"resources_processed"`
	TotalHitsProcessed int64  `json:"total_hits_processed"`
	Skipped            bool   `json:"skipped,omitempty"`
	Message            string `json:"message,omitempty"`
	Err                error  `json:"-"`
}

// AggregateOptions overrides tracking settings for one aggregation pass.
// Nil fields fall back to the configured defaults.
type AggregateOptions struct {
	TenantIDs                   []int64
	SinceMonth                  *Month
	UntilMonth                  *Month
	DailyRetentionDays          *int
	MonthlyRetentionMonths      *int
	Prune                       *bool
	AllowUnaggregatedDailyPrune *bool
	DryRun                      bool
}

// AggregatedMonth identifies one rolled-up tenant month.
type AggregatedMonth struct {
	TenantID  int64 `json:"tenant_id"`
	Month     Month `json:"month"`
	Resources int   `json:"resources"`
	Hits      int64 `json:"hits"`
}

// AggregateResult reports one aggregation pass including retention pruning.
type AggregateResult struct {
	Success             bool              `json:"success"`
	Message             string            `json:"message,omitempty"`
	MonthsProcessed     int               `json:"months_processed"`
	ResourcesAggregated int               `json:"resources_aggregated"`
	TotalHitsRolled     int64             `json:"total_hits_rolled"`
	DailyRowsPruned     int64             `json:"daily_rows_pruned"`
	MonthlyRowsPruned   int64             `json:"monthly_rows_pruned"`
	DryRun              bool              `json:"dry_run"`
	Months              []AggregatedMonth `json:"months"`
	PruneError          string            `json:"prune_error,omitempty"`
	Err                 error             `json:"-"`
}

// PruneResult reports rows removed by retention.
type PruneResult struct {
	DailyRowsPruned   int64
	MonthlyRowsPruned int64
}

// DailyQuery filters daily statistics. Dates are "YYYY-MM-DD"; blank From
// means the last LastDays days (30 when unset) and blank To means today.
type DailyQuery struct {
	TenantID    int64
	ResourceKey string
	From        string
	To          string
	LastDays    int
}

// MonthlyQuery filters monthly statistics. Months are "YYYY-MM"; blank From
// means the last LastMonths months (12 when unset).
type MonthlyQuery struct {
	TenantID    int64
	ResourceKey string
	From        string
	To          string
	LastMonths  int
}

// UnusedResource is a total whose last use is older than the cutoff, or unknown.
type UnusedResource struct {
	ResourceKey      string     `json:"resource_key"`
	TotalHits        int64      `json:"total_hits"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	DaysSinceLastUse *int       `json:"days_since_last_use,omitempty"`
}

// Service is the durable side of the pipeline.
type Service interface {
	Flush(ctx context.Context, tenantID int64) FlushResult
	FlushAll(ctx context.Context) []FlushResult
	Aggregate(ctx context.Context, opts AggregateOptions) AggregateResult
	ResetTracking(ctx context.Context) (int64, error)

	GetTotal(ctx context.Context, tenantID int64, resourceKey string) (*UsageTotal, error)
	ListTotals(ctx context.Context, filter TotalsFilter) ([]UsageTotal, error)
	ListDaily(ctx context.Context, query DailyQuery) ([]UsageDaily, error)
	ListMonthly(ctx context.Context, query MonthlyQuery) ([]UsageMonthly, error)
	ListUnused(ctx context.Context, tenantID int64, days int) ([]UnusedResource, error)
	TrackingStartedAt(ctx context.Context, tenantID int64) (*time.Time, error)
}
