package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(Provide),
)

type Params struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
}

func Provide(p Params) (Locker, error) {
	if !p.Config.UsesRedis() {
		return NewMemoryLocker(p.Clock), nil
	}
	return NewRedisLocker(p.Client, p.Config.Store.KeyPrefix)
}
