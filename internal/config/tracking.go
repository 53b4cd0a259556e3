package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	minFlushInterval     = time.Minute
	minScanInterval      = 10 * time.Minute
	minAggregateInterval = 10 * time.Minute
)

// TrackingSettings are the pipeline tunables operators change at runtime.
type TrackingSettings struct {
	AutoFlushEnabled             bool     `mapstructure:"autoFlushEnabled"`
	AutoFlushIntervalSeconds     int      `mapstructure:"autoFlushIntervalSeconds"`
	AutoFlushOnlyForRequestClass string   `mapstructure:"autoFlushOnlyForRequestClass"`
	AutoScanEnabled              bool     `mapstructure:"autoScanEnabled"`
	AutoScanIntervalSeconds      int      `mapstructure:"autoScanIntervalSeconds"`
	EnableAggregation            bool     `mapstructure:"enableAggregation"`
	AggregateIntervalSeconds     int      `mapstructure:"aggregateIntervalSeconds"`
	DailyRetentionDays           int      `mapstructure:"dailyRetentionDays"`
	MonthlyRetentionMonths       int      `mapstructure:"monthlyRetentionMonths"`
	Prune                        bool     `mapstructure:"prune"`
	AllowUnaggregatedDailyPrune  bool     `mapstructure:"allowUnaggregatedDailyPrune"`
	AccumulatorTTLSeconds        int      `mapstructure:"accumulatorTTLSeconds"`
	Extensions                   []string `mapstructure:"extensions"`
	DebugLogging                 bool     `mapstructure:"debugLogging"`
}

func DefaultTrackingSettings() TrackingSettings {
	return TrackingSettings{
		AutoFlushEnabled:         true,
		AutoFlushIntervalSeconds: 300,
		AutoScanEnabled:          true,
		AutoScanIntervalSeconds:  86400,
		EnableAggregation:        true,
		AggregateIntervalSeconds: 43200,
		DailyRetentionDays:       90,
		MonthlyRetentionMonths:   24,
		Prune:                    true,
		AccumulatorTTLSeconds:    86400,
		Extensions:               []string{"twig", "html"},
	}
}

// FlushInterval is the debounce window for the flush trigger, never below one minute.
func (s TrackingSettings) FlushInterval() time.Duration {
	return floorSeconds(s.AutoFlushIntervalSeconds, minFlushInterval)
}

// ScanInterval is the debounce window for the inventory scan trigger.
func (s TrackingSettings) ScanInterval() time.Duration {
	return floorSeconds(s.AutoScanIntervalSeconds, minScanInterval)
}

// AggregateInterval throttles aggregation inside the background job.
func (s TrackingSettings) AggregateInterval() time.Duration {
	return floorSeconds(s.AggregateIntervalSeconds, minAggregateInterval)
}

func (s TrackingSettings) AccumulatorTTL() time.Duration {
	if s.AccumulatorTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.AccumulatorTTLSeconds) * time.Second
}

func floorSeconds(seconds int, floor time.Duration) time.Duration {
	d := time.Duration(seconds) * time.Second
	if d < floor {
		return floor
	}
	return d
}

type TrackingSettingsHolder struct {
	current atomic.Value // holds TrackingSettings
}

// NewStaticTrackingSettings wraps fixed settings, used by tools and tests.
func NewStaticTrackingSettings(settings TrackingSettings) *TrackingSettingsHolder {
	holder := &TrackingSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func NewTrackingSettingsHolder() (*TrackingSettingsHolder, error) {
	v := viper.New()

	v.SetConfigName("tracking")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/lantern/config")
	v.AddConfigPath("/etc/lantern")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LANTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setTrackingDefaults(v, DefaultTrackingSettings())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg TrackingSettings
	if err := v.UnmarshalKey("tracking", &cfg); err != nil {
		return nil, err
	}
	if err := validateTrackingSettings(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticTrackingSettings(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TrackingSettings
		if err := v.UnmarshalKey("tracking", &updated); err != nil {
			log.Printf("[tracking-config] reload failed: %v", err)
			return
		}
		if err := validateTrackingSettings(updated); err != nil {
			log.Printf("[tracking-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tracking-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TrackingSettingsHolder) Get() TrackingSettings {
	return h.current.Load().(TrackingSettings)
}

// Set replaces the active settings.
func (h *TrackingSettingsHolder) Set(settings TrackingSettings) error {
	if err := validateTrackingSettings(settings); err != nil {
		return err
	}
	h.current.Store(settings)
	return nil
}

func setTrackingDefaults(v *viper.Viper, d TrackingSettings) {
	v.SetDefault("tracking.autoFlushEnabled", d.AutoFlushEnabled)
	v.SetDefault("tracking.autoFlushIntervalSeconds", d.AutoFlushIntervalSeconds)
	v.SetDefault("tracking.autoFlushOnlyForRequestClass", d.AutoFlushOnlyForRequestClass)
	v.SetDefault("tracking.autoScanEnabled", d.AutoScanEnabled)
	v.SetDefault("tracking.autoScanIntervalSeconds", d.AutoScanIntervalSeconds)
	v.SetDefault("tracking.enableAggregation", d.EnableAggregation)
	v.SetDefault("tracking.aggregateIntervalSeconds", d.AggregateIntervalSeconds)
	v.SetDefault("tracking.dailyRetentionDays", d.DailyRetentionDays)
	v.SetDefault("tracking.monthlyRetentionMonths", d.MonthlyRetentionMonths)
	v.SetDefault("tracking.prune", d.Prune)
	v.SetDefault("tracking.allowUnaggregatedDailyPrune", d.AllowUnaggregatedDailyPrune)
	v.SetDefault("tracking.accumulatorTTLSeconds", d.AccumulatorTTLSeconds)
	v.SetDefault("tracking.extensions", d.Extensions)
	v.SetDefault("tracking.debugLogging", d.DebugLogging)
}

func validateTrackingSettings(cfg TrackingSettings) error {
	if cfg.DailyRetentionDays < 0 {
		return errors.New("tracking.dailyRetentionDays cannot be negative")
	}
	if cfg.MonthlyRetentionMonths < 0 {
		return errors.New("tracking.monthlyRetentionMonths cannot be negative")
	}
	if len(cfg.Extensions) == 0 {
		return errors.New("tracking.extensions cannot be empty")
	}
	for _, ext := range cfg.Extensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return errors.New("tracking.extensions cannot contain blank entries")
		}
	}
	return nil
}
