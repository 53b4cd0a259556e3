package scheduler

import (
	"context"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/lantern/internal/observability/metrics"
	"go.uber.org/zap"
)

// Decisions reports what each trigger did for one increment.
type Decisions struct {
	Flush string `json:"flush"`
	Scan  string `json:"scan"`
}

// OnIncrement evaluates both debounced triggers after a hot-path increment.
// Store failures are logged and counted, never returned.
func (s *Scheduler) OnIncrement(ctx context.Context, tenantID int64, requestClass string) Decisions {
	settings := s.settings.Get()
	now := s.clock.Now()
	var out Decisions

	switch {
	case !settings.AutoFlushEnabled:
		out.Flush = obsmetrics.DebounceDisabled
	case !matchesClass(settings.AutoFlushOnlyForRequestClass, requestClass):
		out.Flush = obsmetrics.DebounceRequestClass
	default:
		out.Flush = s.trigger(ctx, JobFlushAggregate, flagFlush, now, settings.FlushInterval(), s.FlushAggregateJob)
	}
	s.pipeline.IncDebounce(JobFlushAggregate, out.Flush)

	if !settings.AutoScanEnabled || s.scanRoot == "" || s.inventory == nil || tenantID <= 0 {
		out.Scan = obsmetrics.DebounceDisabled
	} else {
		out.Scan = s.trigger(ctx, JobInventoryScan, scanFlag(tenantID), now, settings.ScanInterval(), s.InventoryScanJob(tenantID))
	}
	s.pipeline.IncDebounce(JobInventoryScan, out.Scan)
	return out
}

func (s *Scheduler) trigger(ctx context.Context, job, flag string, now time.Time, interval time.Duration, fn func(context.Context) error) string {
	decision, err := s.flags.Claim(ctx, flag, now, interval)
	if err != nil {
		s.logger(ctx).Warn("scheduler.debounce.failed", zap.String("job", job), zap.Error(err))
		return obsmetrics.DebounceStoreError
	}
	if decision != obsmetrics.DebounceEnqueued {
		return decision
	}
	if !s.Enqueue(job, fn) {
		s.logger(ctx).Warn("scheduler.queue.full", zap.String("job", job), zap.Int("queued", s.queue.Len()))
		return obsmetrics.DebounceQueueFull
	}
	return decision
}

func matchesClass(only, class string) bool {
	only = strings.TrimSpace(only)
	return only == "" || strings.EqualFold(only, strings.TrimSpace(class))
}
