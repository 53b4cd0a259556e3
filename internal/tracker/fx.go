package tracker

import (
	"github.com/smallbiznis/lantern/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("tracker",
	fx.Provide(
		New,
		func(s *scheduler.Scheduler) Trigger { return s },
	),
)
