package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/smallbiznis/lantern/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errAlreadyAggregated = errors.New("month_already_aggregated")

// aggregatePlan is AggregateOptions resolved against settings and the clock.
type aggregatePlan struct {
	tenantIDs          []int64
	since              *usagedomain.Month
	until              usagedomain.Month
	current            usagedomain.Month
	now                time.Time
	dailyRetentionDays int
	monthlyRetention   int
	prune              bool
	allowUnaggregated  bool
	dryRun             bool
}

// Aggregate rolls completed months of daily rows into monthly rows, one
// transaction per tenant month, then applies retention.
func (s *Service) Aggregate(ctx context.Context, opts usagedomain.AggregateOptions) usagedomain.AggregateResult {
	result := usagedomain.AggregateResult{DryRun: opts.DryRun, Months: []usagedomain.AggregatedMonth{}}

	plan, err := s.resolvePlan(opts)
	if err != nil {
		return s.aggregateFailed(ctx, result, err)
	}

	candidates, err := s.candidateMonths(ctx, plan)
	if err != nil {
		return s.aggregateFailed(ctx, result, fmt.Errorf("discover candidate months: %w", err))
	}

	var errs []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		month, err := s.aggregateMonth(ctx, plan, candidate)
		switch {
		case errors.Is(err, errAlreadyAggregated):
			s.log.Info("month aggregated concurrently, skipping",
				zap.Int64("tenant_id", candidate.TenantID),
				zap.String("month", candidate.Month.String()),
			)
			continue
		case err != nil:
			s.log.Error("month aggregation failed",
				zap.Int64("tenant_id", candidate.TenantID),
				zap.String("month", candidate.Month.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("tenant %d month %s: %w", candidate.TenantID, candidate.Month, err))
			continue
		case month == nil:
			continue
		}

		result.Months = append(result.Months, *month)
		result.MonthsProcessed++
		result.ResourcesAggregated += month.Resources
		result.TotalHitsRolled += month.Hits
		if !plan.dryRun {
			s.pipeline.AddAggregated(month.Resources, month.Hits)
		}
	}

	if !plan.dryRun && plan.prune {
		pruned, err := s.prune(ctx, plan, result.Months)
		result.DailyRowsPruned = pruned.DailyRowsPruned
		result.MonthlyRowsPruned = pruned.MonthlyRowsPruned
		if err != nil {
			result.PruneError = err.Error()
			s.log.Error("retention prune failed", zap.Error(err))
		}
	}

	result.Err = errors.Join(errs...)
	result.Success = result.Err == nil
	result.Message = summarizeAggregate(result)
	if s.metrics != nil {
		s.metrics.RecordAggregate(ctx, result.Success, result.DryRun)
	}
	s.log.Info("aggregation finished",
		zap.Bool("success", result.Success),
		zap.Bool("dry_run", result.DryRun),
		zap.Int("months", result.MonthsProcessed),
		zap.Int("resources", result.ResourcesAggregated),
		zap.Int64("hits", result.TotalHitsRolled),
		zap.Int64("daily_pruned", result.DailyRowsPruned),
		zap.Int64("monthly_pruned", result.MonthlyRowsPruned),
	)
	return result
}

func (s *Service) resolvePlan(opts usagedomain.AggregateOptions) (aggregatePlan, error) {
	settings := s.settings.Get()
	now := s.clock.Now()
	current := usagedomain.MonthOf(now)

	for _, id := range opts.TenantIDs {
		if id <= usagedomain.GlobalTenantID {
			return aggregatePlan{}, fmt.Errorf("tenant %d: %w", id, usagedomain.ErrInvalidTenant)
		}
	}

	plan := aggregatePlan{
		tenantIDs:          opts.TenantIDs,
		since:              opts.SinceMonth,
		until:              current.Prev(),
		current:            current,
		now:                now,
		dailyRetentionDays: settings.DailyRetentionDays,
		monthlyRetention:   settings.MonthlyRetentionMonths,
		prune:              settings.Prune,
		allowUnaggregated:  settings.AllowUnaggregatedDailyPrune,
		dryRun:             opts.DryRun,
	}
	if opts.UntilMonth != nil && opts.UntilMonth.Before(plan.until) {
		plan.until = *opts.UntilMonth
	}
	if plan.since != nil && plan.since.After(plan.until) {
		return aggregatePlan{}, fmt.Errorf("since %s after until %s: %w", plan.since, plan.until, usagedomain.ErrInvalidRange)
	}
	if opts.DailyRetentionDays != nil {
		if *opts.DailyRetentionDays < 0 {
			return aggregatePlan{}, fmt.Errorf("daily retention %d: %w", *opts.DailyRetentionDays, usagedomain.ErrInvalidRange)
		}
		plan.dailyRetentionDays = *opts.DailyRetentionDays
	}
	if opts.MonthlyRetentionMonths != nil {
		if *opts.MonthlyRetentionMonths < 0 {
			return aggregatePlan{}, fmt.Errorf("monthly retention %d: %w", *opts.MonthlyRetentionMonths, usagedomain.ErrInvalidRange)
		}
		plan.monthlyRetention = *opts.MonthlyRetentionMonths
	}
	if opts.Prune != nil {
		plan.prune = *opts.Prune
	}
	if opts.AllowUnaggregatedDailyPrune != nil {
		plan.allowUnaggregated = *opts.AllowUnaggregatedDailyPrune
	}
	return plan, nil
}

// candidateMonths lists tenant months with daily rows inside the plan bounds
// and no aggregation log entry, in ascending order.
func (s *Service) candidateMonths(ctx context.Context, plan aggregatePlan) ([]usagedomain.TenantMonth, error) {
	filter := usagedomain.DailyMonthFilter{
		TenantIDs: plan.tenantIDs,
		Before:    plan.until.End(),
	}
	if plan.since != nil {
		filter.From = plan.since.Start()
	}

	months, err := s.repo.ListDailyMonths(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	logged, err := s.repo.ListLoggedMonths(ctx, s.db, plan.tenantIDs, plan.current.Start())
	if err != nil {
		return nil, err
	}

	done := make(map[usagedomain.TenantMonth]struct{}, len(logged))
	for _, tm := range logged {
		done[tm] = struct{}{}
	}
	out := make([]usagedomain.TenantMonth, 0, len(months))
	for _, tm := range months {
		if !tm.Month.Before(plan.current) {
			continue
		}
		if _, ok := done[tm]; ok {
			continue
		}
		out = append(out, tm)
	}
	return out, nil
}

// aggregateMonth returns nil when the month has no daily rows left.
func (s *Service) aggregateMonth(ctx context.Context, plan aggregatePlan, tm usagedomain.TenantMonth) (*usagedomain.AggregatedMonth, error) {
	if plan.dryRun {
		sums, err := s.repo.SumDaily(ctx, s.db, tm.TenantID, tm.Month)
		if err != nil {
			return nil, err
		}
		return summarizeMonth(tm, sums), nil
	}

	var month *usagedomain.AggregatedMonth
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sums, err := s.repo.SumDaily(ctx, tx, tm.TenantID, tm.Month)
		if err != nil {
			return err
		}
		month = summarizeMonth(tm, sums)
		if month == nil {
			return nil
		}

		monthDate := dateOf(tm.Month.Start())
		for _, sum := range sums {
			row := &usagedomain.UsageMonthly{
				ID:          s.genID.Generate(),
				ResourceKey: sum.ResourceKey,
				TenantID:    tm.TenantID,
				Month:       monthDate,
				Hits:        sum.Hits,
				CreatedAt:   plan.now,
				UpdatedAt:   plan.now,
			}
			if err := s.repo.UpsertMonthly(ctx, tx, row); err != nil {
				return fmt.Errorf("upsert monthly %q: %w", sum.ResourceKey, err)
			}
		}

		entry := &usagedomain.AggregationLog{
			ID:           s.genID.Generate(),
			TenantID:     tm.TenantID,
			Month:        monthDate,
			AggregatedAt: plan.now,
		}
		if err := s.repo.InsertAggregationLog(ctx, tx, entry); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errAlreadyAggregated
			}
			return fmt.Errorf("insert aggregation log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return month, nil
}

func (s *Service) aggregateFailed(ctx context.Context, result usagedomain.AggregateResult, err error) usagedomain.AggregateResult {
	result.Success = false
	result.Err = err
	result.Message = err.Error()
	s.log.Error("aggregation failed", zap.Error(err))
	if s.metrics != nil {
		s.metrics.RecordAggregate(ctx, false, result.DryRun)
	}
	return result
}

func summarizeMonth(tm usagedomain.TenantMonth, sums []usagedomain.ResourceHits) *usagedomain.AggregatedMonth {
	if len(sums) == 0 {
		return nil
	}
	month := &usagedomain.AggregatedMonth{TenantID: tm.TenantID, Month: tm.Month, Resources: len(sums)}
	for _, sum := range sums {
		month.Hits += sum.Hits
	}
	return month
}

func summarizeAggregate(r usagedomain.AggregateResult) string {
	prefix := "aggregated"
	if r.DryRun {
		prefix = "dry run: would aggregate"
	}
	msg := fmt.Sprintf("%s %d months, %d resources, %d hits", prefix, r.MonthsProcessed, r.ResourcesAggregated, r.TotalHitsRolled)
	if r.DailyRowsPruned > 0 || r.MonthlyRowsPruned > 0 {
		msg += fmt.Sprintf("; pruned %d daily and %d monthly rows", r.DailyRowsPruned, r.MonthlyRowsPruned)
	}
	if r.Err != nil {
		msg += "; errors: " + r.Err.Error()
	}
	if r.PruneError != "" {
		msg += "; prune error: " + r.PruneError
	}
	return msg
}

func dateOf(t time.Time) datatypes.Date {
	return datatypes.Date(t.UTC())
}
