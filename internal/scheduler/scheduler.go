package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	"github.com/smallbiznis/lantern/internal/lock"
	obsmetrics "github.com/smallbiznis/lantern/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobFlushAggregate = obsmetrics.TriggerFlushAggregate
	JobInventoryScan  = obsmetrics.TriggerInventoryScan

	// FlushAggregateLock serializes the flush and aggregate job cluster-wide.
	FlushAggregateLock = "flush-aggregate"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Usage     usagedomain.Service
	Inventory inventorydomain.Service `optional:"true"`
	Locker    lock.Locker
	Flags     Flags
	Settings  *config.TrackingSettingsHolder
	AppConfig config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Pipeline  *obsmetrics.PipelineMetrics `optional:"true"`
	Config    Config                      `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	usage     usagedomain.Service
	inventory inventorydomain.Service
	locker    lock.Locker
	flags     Flags
	settings  *config.TrackingSettingsHolder
	tenantID  int64
	scanRoot  string
	pipeline  *obsmetrics.PipelineMetrics
	queue     *Queue
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Usage == nil || p.Locker == nil || p.Flags == nil || p.Settings == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		log:       log,
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		usage:     p.Usage,
		inventory: p.Inventory,
		locker:    p.Locker,
		flags:     p.Flags,
		settings:  p.Settings,
		tenantID:  p.AppConfig.DefaultTenantID,
		scanRoot:  strings.TrimSpace(p.AppConfig.InventoryRoot),
		pipeline:  p.Pipeline,
		queue:     NewQueue(cfg, p.Log),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.pipeline.IncJobRun(name)

	err := fn(ctx)
	s.pipeline.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.pipeline.IncJobTimeout(name)
	}
	s.pipeline.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// FlushAggregateJob flushes every tenant and, when the throttle allows,
// aggregates completed months. It is a no-op when another instance holds
// the lock.
func (s *Scheduler) FlushAggregateJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobFlushAggregate)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	token, ok, err := s.locker.TryLock(ctx, FlushAggregateLock, s.cfg.LockTTL)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.lock.failed", JobFlushAggregate, 0, err)
		return err
	}
	if !ok {
		s.pipeline.IncJobLockSkip(JobFlushAggregate)
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", JobFlushAggregate), zap.String("reason", "lock_held"))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), FlushAggregateLock, token); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("lock", FlushAggregateLock), zap.Error(err))
		}
	}()

	var jobErr error
	for _, res := range s.usage.FlushAll(ctx) {
		if !res.Success {
			jobErr = errors.Join(jobErr, res.Err)
			s.logSchedulerError(ctx, run, "scheduler.flush.failed", JobFlushAggregate, res.TenantID, res.Err)
			continue
		}
		run.AddProcessed(res.ResourcesProcessed)
	}

	settings := s.settings.Get()
	if !settings.EnableAggregation {
		return jobErr
	}
	now := s.clock.Now()
	last, seen, err := s.flags.Last(ctx, flagAggregate)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.throttle.failed", JobFlushAggregate, 0, err)
		return errors.Join(jobErr, err)
	}
	if seen && now.Sub(last) < settings.AggregateInterval() {
		return jobErr
	}

	res := s.usage.Aggregate(ctx, usagedomain.AggregateOptions{})
	if err := s.flags.Mark(ctx, flagAggregate, now); err != nil {
		s.logger(ctx).Warn("scheduler.throttle.mark_failed", zap.Error(err))
	}
	if !res.Success {
		jobErr = errors.Join(jobErr, res.Err)
		s.logSchedulerError(ctx, run, "scheduler.aggregate.failed", JobFlushAggregate, 0, res.Err)
	}
	if res.PruneError != "" {
		s.logger(ctx).Warn("scheduler.prune.failed", zap.String("error", res.PruneError))
	}
	run.AddProcessed(res.MonthsProcessed)
	return jobErr
}

// InventoryScanJob rescans the inventory root for tenantID.
func (s *Scheduler) InventoryScanJob(tenantID int64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, run, owner := s.ensureJobRun(ctx, JobInventoryScan)
		if owner {
			s.logJobStart(ctx, run)
			defer s.logJobFinish(ctx, run)
		}
		if s.inventory == nil {
			return nil
		}
		res := s.inventory.Scan(ctx, tenantID)
		if !res.Success {
			s.logSchedulerError(ctx, run, "scheduler.scan.failed", JobInventoryScan, tenantID, res.Err)
			return res.Err
		}
		run.AddProcessed(res.Found)
		return nil
	}
}

// Enqueue wraps fn with job accounting and hands it to the worker pool.
func (s *Scheduler) Enqueue(name string, fn func(ctx context.Context) error) bool {
	return s.queue.Enqueue(Job{
		Name: name,
		Run: func(ctx context.Context) error {
			return s.runJob(ctx, name, s.cfg.JobTimeout, fn)
		},
	})
}

// MarkScanned records a scan that ran outside the debounced trigger so the
// next automatic scan waits a full interval.
func (s *Scheduler) MarkScanned(ctx context.Context, tenantID int64) error {
	return MarkScan(ctx, s.flags, tenantID, s.clock.Now())
}

// MarkScan is MarkScanned for callers holding only the flags, such as the CLI.
func MarkScan(ctx context.Context, flags Flags, tenantID int64, at time.Time) error {
	return flags.Mark(ctx, scanFlag(tenantID), at)
}

// RunOnce runs the flush and aggregate job inline, then a scan for the
// default tenant when one is due.
func (s *Scheduler) RunOnce(parent context.Context) error {
	err := s.runJob(parent, JobFlushAggregate, s.cfg.JobTimeout, s.FlushAggregateJob)

	settings := s.settings.Get()
	if !settings.AutoScanEnabled || s.scanRoot == "" || s.inventory == nil || s.tenantID <= 0 {
		return err
	}
	decision, claimErr := s.flags.Claim(parent, scanFlag(s.tenantID), s.clock.Now(), settings.ScanInterval())
	s.pipeline.IncDebounce(JobInventoryScan, decision)
	if claimErr != nil {
		return errors.Join(err, claimErr)
	}
	if decision != obsmetrics.DebounceEnqueued {
		return err
	}
	return errors.Join(err, s.runJob(parent, JobInventoryScan, s.cfg.JobTimeout, s.InventoryScanJob(s.tenantID)))
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.pipeline.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs the worker pool and, in periodic mode, the run loop until ctx
// is done. It returns once both have exited.
func (s *Scheduler) Start(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.queue.Run(ctx)
	}()
	if s.cfg.Periodic {
		s.RunForever(ctx)
	}
	<-done
}
