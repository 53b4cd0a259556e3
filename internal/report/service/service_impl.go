package service

import (
	"context"

	"github.com/smallbiznis/lantern/internal/clock"
	reportdomain "github.com/smallbiznis/lantern/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) reportdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("report.service"),
		clock: p.Clock,
	}
}

func (s *Service) Stale(ctx context.Context, tenantID int64, days int) ([]reportdomain.StaleResource, error) {
	if tenantID <= 0 {
		return nil, reportdomain.ErrInvalidTenant
	}
	if days <= 0 {
		return nil, reportdomain.ErrInvalidDays
	}
	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -days)

	var rows []reportdomain.StaleResource
	err := s.db.WithContext(ctx).Raw(`
		SELECT i.resource_key, i.file_path, i.file_modified_at,
			COALESCE(u.total_hits, 0) AS total_hits, u.last_used_at
		FROM inventory_entries i
		LEFT JOIN usage_totals u ON u.resource_key = i.resource_key AND u.tenant_id = i.tenant_id
		WHERE i.tenant_id = ? AND i.active = ?
			AND (u.id IS NULL OR u.last_used_at IS NULL OR u.last_used_at < ?)
		ORDER BY u.last_used_at DESC, i.resource_key ASC
	`, tenantID, true, cutoff).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].LastUsedAt == nil {
			continue
		}
		d := int(now.Sub(*rows[i].LastUsedAt).Hours() / 24)
		rows[i].DaysSinceLastUse = &d
	}
	return rows, nil
}

func (s *Service) NeverUsed(ctx context.Context, tenantID int64) ([]reportdomain.NeverUsedResource, error) {
	if tenantID <= 0 {
		return nil, reportdomain.ErrInvalidTenant
	}
	var rows []reportdomain.NeverUsedResource
	err := s.db.WithContext(ctx).Raw(`
		SELECT i.resource_key, i.file_path, i.file_modified_at, i.last_scanned_at
		FROM inventory_entries i
		LEFT JOIN usage_totals u ON u.resource_key = i.resource_key AND u.tenant_id = i.tenant_id
		WHERE i.tenant_id = ? AND i.active = ? AND u.id IS NULL
		ORDER BY i.resource_key ASC
	`, tenantID, true).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) Missing(ctx context.Context, tenantID int64) ([]reportdomain.OrphanedTotal, error) {
	if tenantID <= 0 {
		return nil, reportdomain.ErrInvalidTenant
	}
	var rows []reportdomain.OrphanedTotal
	err := s.db.WithContext(ctx).Raw(`
		SELECT u.resource_key, u.total_hits, u.last_used_at
		FROM usage_totals u
		LEFT JOIN inventory_entries i ON i.resource_key = u.resource_key AND i.tenant_id = u.tenant_id
		WHERE u.tenant_id = ? AND (i.id IS NULL OR i.active = ?)
		ORDER BY u.total_hits DESC, u.resource_key ASC
	`, tenantID, false).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) Orphans(ctx context.Context, tenantID int64) (reportdomain.Orphans, error) {
	neverUsed, err := s.NeverUsed(ctx, tenantID)
	if err != nil {
		return reportdomain.Orphans{}, err
	}
	missing, err := s.Missing(ctx, tenantID)
	if err != nil {
		return reportdomain.Orphans{}, err
	}
	return reportdomain.Orphans{NeverUsed: neverUsed, Missing: missing}, nil
}

