// Package domain contains persistence models and contracts for resource usage tracking.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// GlobalTenantID is reserved for cluster-wide tracking metadata.
const GlobalTenantID int64 = 0

// UsageTotal stores the lifetime hit count of a resource per tenant.
type UsageTotal struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ResourceKey string       `gorm:"type:varchar(500);not null;uniqueIndex:ux_usage_totals_key_tenant,priority:1" json:"resource_key"`
	TenantID    int64        `gorm:"not null;uniqueIndex:ux_usage_totals_key_tenant,priority:2;index" json:"tenant_id"`
	TotalHits   int64        `gorm:"not null;default:0" json:"total_hits"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty"`
	FirstSeenAt *time.Time   `json:"first_seen_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageTotal) TableName() string { return "usage_totals" }

// UsageDaily stores hits per resource, tenant and UTC day.
type UsageDaily struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	ResourceKey string         `gorm:"type:varchar(500);not null;uniqueIndex:ux_usage_daily_key_tenant_day,priority:1" json:"resource_key"`
	TenantID    int64          `gorm:"not null;uniqueIndex:ux_usage_daily_key_tenant_day,priority:2;index:ix_usage_daily_tenant_day,priority:1" json:"tenant_id"`
	Day         datatypes.Date `gorm:"not null;uniqueIndex:ux_usage_daily_key_tenant_day,priority:3;index:ix_usage_daily_tenant_day,priority:2" json:"day"`
	Hits        int64          `gorm:"not null;default:0" json:"hits"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageDaily) TableName() string { return "usage_daily" }

// UsageMonthly stores the rolled-up hits of a completed month.
type UsageMonthly struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	ResourceKey string         `gorm:"type:varchar(500);not null;uniqueIndex:ux_usage_monthly_key_tenant_month,priority:1" json:"resource_key"`
	TenantID    int64          `gorm:"not null;uniqueIndex:ux_usage_monthly_key_tenant_month,priority:2" json:"tenant_id"`
	Month       datatypes.Date `gorm:"not null;uniqueIndex:ux_usage_monthly_key_tenant_month,priority:3;index" json:"month"`
	Hits        int64          `gorm:"not null;default:0" json:"hits"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageMonthly) TableName() string { return "usage_monthly" }

// AggregationLog marks a tenant month as rolled up.
type AggregationLog struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID     int64          `gorm:"not null;uniqueIndex:ux_aggregation_logs_tenant_month,priority:1" json:"tenant_id"`
	Month        datatypes.Date `gorm:"not null;uniqueIndex:ux_aggregation_logs_tenant_month,priority:2" json:"month"`
	AggregatedAt time.Time      `gorm:"not null" json:"aggregated_at"`
}

// TableName sets the database table name.
func (AggregationLog) TableName() string { return "aggregation_logs" }

// TrackingMeta records when tracking started for a tenant, or cluster-wide for GlobalTenantID.
type TrackingMeta struct {
	TenantID          int64      `gorm:"primaryKey;autoIncrement:false" json:"tenant_id"`
	TrackingStartedAt *time.Time `json:"tracking_started_at,omitempty"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (TrackingMeta) TableName() string { return "tracking_meta" }

// Models lists every table owned by the usage pipeline.
func Models() []any {
	return []any{
		&UsageTotal{},
		&UsageDaily{},
		&UsageMonthly{},
		&AggregationLog{},
		&TrackingMeta{},
	}
}
