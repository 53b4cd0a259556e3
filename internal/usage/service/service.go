package service

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/lock"
	"github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        usagedomain.Repository
	Accumulator *accumulator.Accumulator
	Settings    *config.TrackingSettingsHolder
	Clock       clock.Clock
	Locker      lock.Locker              `optional:"true"`
	Pipeline    *metrics.PipelineMetrics `optional:"true"`
	Metrics     *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     usagedomain.Repository
	acc      *accumulator.Accumulator
	settings *config.TrackingSettingsHolder
	clock    clock.Clock
	locker   lock.Locker
	pipeline *metrics.PipelineMetrics
	metrics  *metrics.Metrics
}

func New(p Params) usagedomain.Service {
	return NewService(p)
}

// NewService returns the concrete service for callers that need more than
// the domain interface.
func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		acc:      p.Accumulator,
		settings: p.Settings,
		clock:    p.Clock,
		locker:   p.Locker,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}
