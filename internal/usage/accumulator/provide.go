package accumulator

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"go.uber.org/fx"
)

type StoreParams struct {
	fx.In

	Config   config.Config
	Client   *redis.Client `optional:"true"`
	Settings *config.TrackingSettingsHolder
	Clock    clock.Clock
}

// ProvideStore selects the counter store for the configured backend.
func ProvideStore(p StoreParams) (Store, error) {
	if !p.Config.UsesRedis() {
		return NewMemoryStoreFunc(p.Clock, func() time.Duration { return p.Settings.Get().AccumulatorTTL() }), nil
	}
	return NewRedisStore(p.Client, p.Config.Store, p.Settings)
}
