package scheduler

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideFlags),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

type FlagsParams struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
}

func ProvideFlags(p FlagsParams) (Flags, error) {
	if !p.Config.UsesRedis() {
		return NewMemoryFlags(p.Clock), nil
	}
	return NewRedisFlags(p.Client, p.Config.Store.KeyPrefix)
}

func NewScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				sched.Start(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
						return nil
					case <-stopCtx.Done():
						return stopCtx.Err()
					}
				},
			})

			return nil
		},
	})
}
