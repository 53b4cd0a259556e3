package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) UpsertTotal(ctx context.Context, db *gorm.DB, row *usagedomain.UsageTotal, hits int64) error {
	row.TotalHits = hits
	assignments := map[string]any{
		"total_hits":    gorm.Expr("usage_totals.total_hits + ?", hits),
		"first_seen_at": gorm.Expr("COALESCE(usage_totals.first_seen_at, ?)", row.FirstSeenAt),
		"updated_at":    row.UpdatedAt,
	}
	if row.LastUsedAt != nil {
		assignments["last_used_at"] = gorm.Expr(
			"CASE WHEN usage_totals.last_used_at IS NULL OR usage_totals.last_used_at < ? THEN ? ELSE usage_totals.last_used_at END",
			*row.LastUsedAt, *row.LastUsedAt,
		)
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_key"}, {Name: "tenant_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

func (r *repo) UpsertDaily(ctx context.Context, db *gorm.DB, row *usagedomain.UsageDaily) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_key"}, {Name: "tenant_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"hits":       gorm.Expr("usage_daily.hits + ?", row.Hits),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(row).Error
}

func (r *repo) InitTrackingStart(ctx context.Context, db *gorm.DB, tenantID int64, startedAt time.Time) error {
	meta := &usagedomain.TrackingMeta{
		TenantID:          tenantID,
		TrackingStartedAt: &startedAt,
		UpdatedAt:         startedAt,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"tracking_started_at": gorm.Expr("COALESCE(tracking_meta.tracking_started_at, ?)", startedAt),
			"updated_at":          startedAt,
		}),
	}).Create(meta).Error
}

func (r *repo) GetTrackingMeta(ctx context.Context, db *gorm.DB, tenantID int64) (*usagedomain.TrackingMeta, error) {
	var meta usagedomain.TrackingMeta
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *repo) DeleteTrackingMeta(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM tracking_meta`)
	return res.RowsAffected, res.Error
}

type tenantDay struct {
	TenantID int64
	Day      time.Time
}

func (r *repo) ListDailyMonths(ctx context.Context, db *gorm.DB, filter usagedomain.DailyMonthFilter) ([]usagedomain.TenantMonth, error) {
	query := db.WithContext(ctx).
		Model(&usagedomain.UsageDaily{}).
		Distinct("tenant_id", "day")
	if len(filter.TenantIDs) > 0 {
		query = query.Where("tenant_id IN ?", filter.TenantIDs)
	}
	if !filter.From.IsZero() {
		query = query.Where("day >= ?", filter.From)
	}
	if !filter.Before.IsZero() {
		query = query.Where("day < ?", filter.Before)
	}

	var days []tenantDay
	if err := query.Scan(&days).Error; err != nil {
		return nil, err
	}
	return collapseMonths(days), nil
}

func (r *repo) ListLoggedMonths(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) ([]usagedomain.TenantMonth, error) {
	query := db.WithContext(ctx).Model(&usagedomain.AggregationLog{}).Select("tenant_id, month AS day")
	if len(tenantIDs) > 0 {
		query = query.Where("tenant_id IN ?", tenantIDs)
	}
	if !before.IsZero() {
		query = query.Where("month < ?", before)
	}

	var rows []tenantDay
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return collapseMonths(rows), nil
}

func (r *repo) SumDaily(ctx context.Context, db *gorm.DB, tenantID int64, month usagedomain.Month) ([]usagedomain.ResourceHits, error) {
	var sums []usagedomain.ResourceHits
	err := db.WithContext(ctx).Raw(
		`SELECT resource_key, SUM(hits) AS hits
		 FROM usage_daily
		 WHERE tenant_id = ? AND day >= ? AND day < ?
		 GROUP BY resource_key
		 ORDER BY resource_key`,
		tenantID,
		month.Start(),
		month.End(),
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *repo) UpsertMonthly(ctx context.Context, db *gorm.DB, row *usagedomain.UsageMonthly) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_key"}, {Name: "tenant_id"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{"hits", "updated_at"}),
	}).Create(row).Error
}

func (r *repo) InsertAggregationLog(ctx context.Context, db *gorm.DB, entry *usagedomain.AggregationLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) DeleteDailyRange(ctx context.Context, db *gorm.DB, tenantID int64, from, to time.Time) (int64, error) {
	query := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if !from.IsZero() {
		query = query.Where("day >= ?", from)
	}
	res := query.Where("day < ?", to).Delete(&usagedomain.UsageDaily{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteDailyBefore(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) (int64, error) {
	query := db.WithContext(ctx).Where("day < ?", before)
	if len(tenantIDs) > 0 {
		query = query.Where("tenant_id IN ?", tenantIDs)
	}
	res := query.Delete(&usagedomain.UsageDaily{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteMonthlyBefore(ctx context.Context, db *gorm.DB, tenantIDs []int64, before time.Time) (int64, error) {
	query := db.WithContext(ctx).Where("month < ?", before)
	if len(tenantIDs) > 0 {
		query = query.Where("tenant_id IN ?", tenantIDs)
	}
	res := query.Delete(&usagedomain.UsageMonthly{})
	return res.RowsAffected, res.Error
}

func (r *repo) GetTotal(ctx context.Context, db *gorm.DB, tenantID int64, resourceKey string) (*usagedomain.UsageTotal, error) {
	var total usagedomain.UsageTotal
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND resource_key = ?", tenantID, resourceKey).
		First(&total).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &total, nil
}

func (r *repo) ListTotals(ctx context.Context, db *gorm.DB, filter usagedomain.TotalsFilter) ([]usagedomain.UsageTotal, error) {
	query := db.WithContext(ctx).Where("tenant_id = ?", filter.TenantID)
	if prefix := strings.TrimSpace(filter.Prefix); prefix != "" {
		query = query.Where("resource_key LIKE ?", prefix+"%")
	}
	if after := filter.After; after != nil {
		query = query.Where("(total_hits < ? OR (total_hits = ? AND resource_key > ?))", after.TotalHits, after.TotalHits, after.ResourceKey)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var totals []usagedomain.UsageTotal
	err := query.Order("total_hits DESC").Order("resource_key ASC").Find(&totals).Error
	return totals, err
}

func (r *repo) ListDaily(ctx context.Context, db *gorm.DB, filter usagedomain.DailyFilter) ([]usagedomain.UsageDaily, error) {
	query := db.WithContext(ctx).Where("tenant_id = ?", filter.TenantID)
	if filter.ResourceKey != "" {
		query = query.Where("resource_key = ?", filter.ResourceKey)
	}
	if !filter.From.IsZero() {
		query = query.Where("day >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("day <= ?", filter.To)
	}

	var rows []usagedomain.UsageDaily
	err := query.Order("day DESC").Order("hits DESC").Order("resource_key ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) ListMonthly(ctx context.Context, db *gorm.DB, filter usagedomain.MonthlyFilter) ([]usagedomain.UsageMonthly, error) {
	query := db.WithContext(ctx).Where("tenant_id = ?", filter.TenantID)
	if filter.ResourceKey != "" {
		query = query.Where("resource_key = ?", filter.ResourceKey)
	}
	if !filter.From.IsZero() {
		query = query.Where("month >= ?", filter.From.Start())
	}
	if !filter.To.IsZero() {
		query = query.Where("month <= ?", filter.To.Start())
	}

	var rows []usagedomain.UsageMonthly
	err := query.Order("month DESC").Order("hits DESC").Order("resource_key ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) ListUnused(ctx context.Context, db *gorm.DB, tenantID int64, cutoff time.Time) ([]usagedomain.UsageTotal, error) {
	var rows []usagedomain.UsageTotal
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("last_used_at IS NULL OR last_used_at < ?", cutoff).
		Order("last_used_at ASC").
		Order("resource_key ASC").
		Find(&rows).Error
	return rows, err
}

func collapseMonths(days []tenantDay) []usagedomain.TenantMonth {
	seen := make(map[usagedomain.TenantMonth]struct{}, len(days))
	out := make([]usagedomain.TenantMonth, 0, len(days))
	for _, d := range days {
		tm := usagedomain.TenantMonth{TenantID: d.TenantID, Month: usagedomain.MonthOf(d.Day)}
		if _, ok := seen[tm]; ok {
			continue
		}
		seen[tm] = struct{}{}
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Month.Before(out[j].Month)
	})
	return out
}
