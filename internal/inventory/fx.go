package inventory

import (
	"github.com/smallbiznis/lantern/internal/inventory/repository"
	"github.com/smallbiznis/lantern/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
