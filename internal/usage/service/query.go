package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/lantern/internal/clock"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/zap"
)

const (
	defaultDailyWindowDays     = 30
	defaultMonthlyWindowMonths = 12
	defaultUnusedDays          = 30
)

func (s *Service) GetTotal(ctx context.Context, tenantID int64, resourceKey string) (*usagedomain.UsageTotal, error) {
	if tenantID <= usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	key := s.acc.Canonicalize(resourceKey)
	if key == "" {
		return nil, usagedomain.ErrInvalidResource
	}
	total, err := s.repo.GetTotal(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return nil, usagedomain.ErrNotFound
	}
	return total, nil
}

func (s *Service) ListTotals(ctx context.Context, filter usagedomain.TotalsFilter) ([]usagedomain.UsageTotal, error) {
	if filter.TenantID <= usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", filter.Limit, usagedomain.ErrInvalidRange)
	}
	return s.repo.ListTotals(ctx, s.db, filter)
}

func (s *Service) ListDaily(ctx context.Context, query usagedomain.DailyQuery) ([]usagedomain.UsageDaily, error) {
	if query.TenantID <= usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	if query.LastDays < 0 {
		return nil, fmt.Errorf("last days %d: %w", query.LastDays, usagedomain.ErrInvalidRange)
	}
	window := defaultDailyWindowDays
	if query.LastDays > 0 {
		window = query.LastDays
	}
	today := clock.StartOfDay(s.clock.Now())

	filter := usagedomain.DailyFilter{
		TenantID: query.TenantID,
		From:     today.AddDate(0, 0, -window),
		To:       today,
	}
	if key := strings.TrimSpace(query.ResourceKey); key != "" {
		filter.ResourceKey = s.acc.Canonicalize(key)
	}
	if strings.TrimSpace(query.From) != "" {
		from, err := usagedomain.ParseDate(query.From)
		if err != nil {
			return nil, err
		}
		filter.From = from
	}
	if strings.TrimSpace(query.To) != "" {
		to, err := usagedomain.ParseDate(query.To)
		if err != nil {
			return nil, err
		}
		filter.To = to
	}
	if filter.From.After(filter.To) {
		return nil, fmt.Errorf("from %s after to %s: %w", usagedomain.FormatDate(filter.From), usagedomain.FormatDate(filter.To), usagedomain.ErrInvalidRange)
	}
	return s.repo.ListDaily(ctx, s.db, filter)
}

func (s *Service) ListMonthly(ctx context.Context, query usagedomain.MonthlyQuery) ([]usagedomain.UsageMonthly, error) {
	if query.TenantID <= usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	if query.LastMonths < 0 {
		return nil, fmt.Errorf("last months %d: %w", query.LastMonths, usagedomain.ErrInvalidRange)
	}
	window := defaultMonthlyWindowMonths
	if query.LastMonths > 0 {
		window = query.LastMonths
	}
	current := usagedomain.MonthOf(s.clock.Now())

	filter := usagedomain.MonthlyFilter{
		TenantID: query.TenantID,
		From:     current.AddMonths(-window),
		To:       current,
	}
	if key := strings.TrimSpace(query.ResourceKey); key != "" {
		filter.ResourceKey = s.acc.Canonicalize(key)
	}
	if strings.TrimSpace(query.From) != "" {
		from, err := usagedomain.ParseMonth(query.From)
		if err != nil {
			return nil, err
		}
		filter.From = from
	}
	if strings.TrimSpace(query.To) != "" {
		to, err := usagedomain.ParseMonth(query.To)
		if err != nil {
			return nil, err
		}
		filter.To = to
	}
	if filter.From.After(filter.To) {
		return nil, fmt.Errorf("from %s after to %s: %w", filter.From, filter.To, usagedomain.ErrInvalidRange)
	}
	return s.repo.ListMonthly(ctx, s.db, filter)
}

// ListUnused returns totals not used in the last days days, or never.
func (s *Service) ListUnused(ctx context.Context, tenantID int64, days int) ([]usagedomain.UnusedResource, error) {
	if tenantID <= usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	if days < 0 {
		return nil, fmt.Errorf("days %d: %w", days, usagedomain.ErrInvalidRange)
	}
	if days == 0 {
		days = defaultUnusedDays
	}
	now := s.clock.Now()
	rows, err := s.repo.ListUnused(ctx, s.db, tenantID, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	out := make([]usagedomain.UnusedResource, 0, len(rows))
	for _, row := range rows {
		item := usagedomain.UnusedResource{
			ResourceKey: row.ResourceKey,
			TotalHits:   row.TotalHits,
			LastUsedAt:  row.LastUsedAt,
		}
		if row.LastUsedAt != nil {
			since := int(now.Sub(*row.LastUsedAt) / (24 * time.Hour))
			item.DaysSinceLastUse = &since
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) TrackingStartedAt(ctx context.Context, tenantID int64) (*time.Time, error) {
	if tenantID < usagedomain.GlobalTenantID {
		return nil, usagedomain.ErrInvalidTenant
	}
	meta, err := s.repo.GetTrackingMeta(ctx, s.db, tenantID)
	if err != nil || meta == nil {
		return nil, err
	}
	return meta.TrackingStartedAt, nil
}

// ResetTracking clears tracking metadata so the next flush stamps a new start.
func (s *Service) ResetTracking(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteTrackingMeta(ctx, s.db)
	if err != nil {
		s.log.Error("reset tracking failed", zap.Error(err))
		return 0, err
	}
	s.log.Info("tracking metadata reset", zap.Int64("rows", n))
	return n, nil
}
