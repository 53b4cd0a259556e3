package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/observability/logger"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const flushLockTTL = 5 * time.Minute

// Flush merges the tenant's accumulator into totals and today's daily rows in
// one transaction. The accumulator is consumed only after commit.
func (s *Service) Flush(ctx context.Context, tenantID int64) usagedomain.FlushResult {
	result := usagedomain.FlushResult{TenantID: tenantID}
	log := logger.WithTenant(s.log, tenantID)

	if tenantID <= usagedomain.GlobalTenantID {
		return s.flushFailed(log, result, usagedomain.ErrInvalidTenant)
	}

	release, ok, err := s.acquireFlush(ctx, tenantID)
	if err != nil {
		return s.flushFailed(log, result, fmt.Errorf("acquire flush lock: %w", err))
	}
	if !ok {
		log.Debug("flush already running for tenant")
		result.Success = true
		result.Skipped = true
		result.Message = "flush already in progress"
		return result
	}
	defer release()

	snap, err := s.acc.Snapshot(ctx, tenantID)
	if err != nil {
		return s.flushFailed(log, result, fmt.Errorf("read accumulator: %w", err))
	}
	if snap.Empty() {
		result.Success = true
		result.Message = "nothing to flush"
		return result
	}

	now := s.clock.Now()
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.applySnapshot(ctx, tx, snap, now)
	}); err != nil {
		return s.flushFailed(log, result, fmt.Errorf("flush transaction: %w", err))
	}

	result.Success = true
	result.ResourcesProcessed = len(snap.Entries)
	result.TotalHitsProcessed = snap.TotalHits()
	result.Message = fmt.Sprintf("flushed %d resources (%d hits)", result.ResourcesProcessed, result.TotalHitsProcessed)

	if err := s.acc.Consume(ctx, snap); err != nil {
		// committed rows stay; the next flush will count these hits again
		log.Error("accumulator consume failed after commit", zap.Error(err))
		result.Err = err
		result.Message += "; accumulator consume failed"
	}

	s.pipeline.AddFlushed(result.ResourcesProcessed, result.TotalHitsProcessed)
	if s.metrics != nil {
		s.metrics.RecordFlush(ctx, true, result.TotalHitsProcessed)
	}
	log.Info("accumulator flushed",
		zap.Int("resources", result.ResourcesProcessed),
		zap.Int64("hits", result.TotalHitsProcessed),
	)
	return result
}

// FlushAll flushes every tenant that holds pending counts.
func (s *Service) FlushAll(ctx context.Context) []usagedomain.FlushResult {
	tenants, err := s.acc.Tenants(ctx)
	if err != nil {
		s.log.Error("list accumulator tenants failed", zap.Error(err))
		return []usagedomain.FlushResult{{
			Message: "list accumulator tenants: " + err.Error(),
			Err:     err,
		}}
	}
	results := make([]usagedomain.FlushResult, 0, len(tenants))
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			results = append(results, usagedomain.FlushResult{TenantID: tenantID, Message: ctx.Err().Error(), Err: ctx.Err()})
			break
		}
		results = append(results, s.Flush(ctx, tenantID))
	}
	return results
}

func (s *Service) applySnapshot(ctx context.Context, tx *gorm.DB, snap accumulator.Snapshot, now time.Time) error {
	day := clock.StartOfDay(now)
	for _, key := range snap.Keys() {
		entry := snap.Entries[key]
		firstSeen := now
		total := &usagedomain.UsageTotal{
			ID:          s.genID.Generate(),
			ResourceKey: key,
			TenantID:    snap.TenantID,
			LastUsedAt:  entry.LastHitAt,
			FirstSeenAt: &firstSeen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.UpsertTotal(ctx, tx, total, entry.Hits); err != nil {
			return fmt.Errorf("upsert total %q: %w", key, err)
		}

		daily := &usagedomain.UsageDaily{
			ID:          s.genID.Generate(),
			ResourceKey: key,
			TenantID:    snap.TenantID,
			Day:         dateOf(day),
			Hits:        entry.Hits,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.UpsertDaily(ctx, tx, daily); err != nil {
			return fmt.Errorf("upsert daily %q: %w", key, err)
		}
	}

	for _, tenantID := range []int64{snap.TenantID, usagedomain.GlobalTenantID} {
		if err := s.repo.InitTrackingStart(ctx, tx, tenantID, now); err != nil {
			return fmt.Errorf("tracking meta %d: %w", tenantID, err)
		}
	}
	return nil
}

func (s *Service) acquireFlush(ctx context.Context, tenantID int64) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := "flush:tenant:" + strconv.FormatInt(tenantID, 10)
	token, ok, err := s.locker.TryLock(ctx, key, flushLockTTL)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("release flush lock failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
	}, true, nil
}

func (s *Service) flushFailed(log *zap.Logger, result usagedomain.FlushResult, err error) usagedomain.FlushResult {
	result.Success = false
	result.Err = err
	result.Message = err.Error()
	log.Error("flush failed", zap.Error(err))
	if s.metrics != nil {
		s.metrics.RecordFlush(context.Background(), false, 0)
	}
	return result
}
