// Package tracker is the hot-path entry point: one call per resource access.
package tracker

import (
	"context"

	obsmetrics "github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/internal/scheduler"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Trigger evaluates the debounced background jobs after an increment.
type Trigger interface {
	OnIncrement(ctx context.Context, tenantID int64, requestClass string) scheduler.Decisions
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Accumulator *accumulator.Accumulator
	Trigger     Trigger             `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Tracker struct {
	log     *zap.Logger
	acc     *accumulator.Accumulator
	trigger Trigger
	metrics *obsmetrics.Metrics
}

func New(p Params) *Tracker {
	return &Tracker{
		log:     p.Log.Named("tracker"),
		acc:     p.Accumulator,
		trigger: p.Trigger,
		metrics: p.Metrics,
	}
}

// Access is the outcome of one tracked access.
type Access struct {
	ResourceKey string              `json:"resource_key"`
	Decisions   scheduler.Decisions `json:"decisions"`
}

// OnResourceAccessed counts one access of raw for tenantID and evaluates the
// debounced triggers. It never touches durable storage.
func (t *Tracker) OnResourceAccessed(ctx context.Context, tenantID int64, raw, requestClass string) (Access, error) {
	key, err := t.acc.Increment(ctx, tenantID, raw)
	if err != nil {
		t.log.Debug("increment rejected",
			zap.Int64("tenant_id", tenantID),
			zap.String("name", raw),
			zap.Error(err),
		)
		return Access{}, err
	}
	t.metrics.RecordResourceAccessed(ctx, requestClass)

	out := Access{ResourceKey: key}
	if t.trigger != nil {
		out.Decisions = t.trigger.OnIncrement(ctx, tenantID, requestClass)
	}
	return out, nil
}
