package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// prune applies retention after a committed aggregation pass.
//
// Daily rows: with a positive retention window, days older than the window
// are deleted, but only inside months that already have an aggregation log
// entry unless unaggregated pruning is allowed. With a zero window, exactly
// the months aggregated in this pass are deleted.
//
// Monthly rows: with a positive window, months older than that many months
// before the current month are deleted. Zero keeps monthly rows forever.
func (s *Service) prune(ctx context.Context, plan aggregatePlan, aggregated []usagedomain.AggregatedMonth) (usagedomain.PruneResult, error) {
	var (
		res  usagedomain.PruneResult
		errs []error
	)

	daily, err := s.pruneDaily(ctx, plan, aggregated)
	res.DailyRowsPruned = daily
	if err != nil {
		errs = append(errs, fmt.Errorf("prune daily: %w", err))
	}

	if plan.monthlyRetention > 0 {
		before := plan.current.AddMonths(-plan.monthlyRetention).Start()
		monthly, err := s.repo.DeleteMonthlyBefore(ctx, s.db, plan.tenantIDs, before)
		res.MonthlyRowsPruned = monthly
		if err != nil {
			errs = append(errs, fmt.Errorf("prune monthly: %w", err))
		}
	}

	s.pipeline.AddPruned(metrics.PruneTableUsageDaily, res.DailyRowsPruned)
	s.pipeline.AddPruned(metrics.PruneTableUsageMonthly, res.MonthlyRowsPruned)
	if res.DailyRowsPruned > 0 || res.MonthlyRowsPruned > 0 {
		s.log.Info("retention pruned rows",
			zap.Int64("daily", res.DailyRowsPruned),
			zap.Int64("monthly", res.MonthlyRowsPruned),
		)
	}
	return res, errors.Join(errs...)
}

func (s *Service) pruneDaily(ctx context.Context, plan aggregatePlan, aggregated []usagedomain.AggregatedMonth) (int64, error) {
	if plan.dailyRetentionDays <= 0 {
		return s.pruneAggregatedMonths(ctx, aggregated)
	}

	cutoff := clock.StartOfDay(plan.now).AddDate(0, 0, -plan.dailyRetentionDays)
	if plan.allowUnaggregated {
		return s.repo.DeleteDailyBefore(ctx, s.db, plan.tenantIDs, cutoff)
	}

	logged, err := s.repo.ListLoggedMonths(ctx, s.db, plan.tenantIDs, cutoff)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, tm := range logged {
			end := tm.Month.End()
			if cutoff.Before(end) {
				end = cutoff
			}
			n, err := s.repo.DeleteDailyRange(ctx, tx, tm.TenantID, tm.Month.Start(), end)
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Service) pruneAggregatedMonths(ctx context.Context, aggregated []usagedomain.AggregatedMonth) (int64, error) {
	if len(aggregated) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range aggregated {
			n, err := s.repo.DeleteDailyRange(ctx, tx, m.TenantID, m.Month.Start(), m.Month.End())
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

