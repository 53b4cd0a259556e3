package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	"github.com/smallbiznis/lantern/internal/observability"
	"github.com/smallbiznis/lantern/internal/observability/logger"
	"github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/internal/observability/tracing"
	"github.com/smallbiznis/lantern/internal/ratelimit"
	reportdomain "github.com/smallbiznis/lantern/internal/report/domain"
	"github.com/smallbiznis/lantern/internal/scheduler"
	"github.com/smallbiznis/lantern/internal/tracker"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(obsCfg observability.Config, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(tracing.GinMiddleware(obsCfg.TraceSkipRoutes...))
	r.Use(metrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	usage       usagedomain.Service
	accumulator *accumulator.Accumulator
	tracker     *tracker.Tracker
	scheduler   *scheduler.Scheduler
	inventory   inventorydomain.Service
	reports     reportdomain.Service
	limiter     *ratelimit.TrackLimiter
	settings    *config.TrackingSettingsHolder
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Usage       usagedomain.Service
	Accumulator *accumulator.Accumulator
	Tracker     *tracker.Tracker
	Scheduler   *scheduler.Scheduler `optional:"true"`
	Inventory   inventorydomain.Service
	Reports     reportdomain.Service
	Limiter     *ratelimit.TrackLimiter `optional:"true"`
	Settings    *config.TrackingSettingsHolder
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		usage:       p.Usage,
		accumulator: p.Accumulator,
		tracker:     p.Tracker,
		scheduler:   p.Scheduler,
		inventory:   p.Inventory,
		reports:     p.Reports,
		limiter:     p.Limiter,
		settings:    p.Settings,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.TenantContext())

	v1.POST("/track", s.TrackRateLimit(), s.Track)

	v1.GET("/accumulator", s.GetAccumulator)
	v1.DELETE("/accumulator", s.ClearAccumulator)

	v1.POST("/flush", s.Flush)
	v1.POST("/aggregate", s.Aggregate)
	v1.POST("/tracking/reset", s.ResetTracking)

	usage := v1.Group("/usage")
	usage.GET("/totals", s.ListTotals)
	usage.GET("/total", s.GetTotal)
	usage.GET("/daily", s.ListDaily)
	usage.GET("/monthly", s.ListMonthly)
	usage.GET("/unused", s.ListUnused)
	usage.GET("/tracking", s.TrackingInfo)

	v1.GET("/inventory", s.ListInventory)
	v1.POST("/inventory/scan", s.ScanInventory)

	reports := v1.Group("/reports")
	reports.GET("/stale", s.StaleReport)
	reports.GET("/orphans", s.OrphansReport)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
