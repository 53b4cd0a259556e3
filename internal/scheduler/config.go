package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/lantern/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Config controls the background worker pool and the periodic loop.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	QueueSize   int
	Concurrency int
	// Periodic runs the flush and aggregate job on RunInterval in addition
	// to the debounced triggers.
	Periodic bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		JobTimeout:  10 * time.Minute,
		LockTTL:     15 * time.Minute,
		QueueSize:   64,
		Concurrency: 2,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.WorkerInterval,
		QueueSize:   cfg.WorkerQueueSize,
		Concurrency: cfg.WorkerConcurrency,
		Periodic:    cfg.WorkerPeriodic,
	}.withDefaults()
}
