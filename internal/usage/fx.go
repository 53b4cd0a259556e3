package usage

import (
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	"github.com/smallbiznis/lantern/internal/usage/canonical"
	"github.com/smallbiznis/lantern/internal/usage/repository"
	"github.com/smallbiznis/lantern/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		ProvideCanonicalizer,
		accumulator.ProvideStore,
		accumulator.New,
		repository.Provide,
		service.New,
	),
)

// ProvideCanonicalizer resolves names against the inventory root when one is configured.
func ProvideCanonicalizer(cfg config.Config, settings *config.TrackingSettingsHolder, log *zap.Logger) *canonical.Canonicalizer {
	extensions := settings.Get().Extensions
	var resolver canonical.Resolver
	if cfg.InventoryRoot != "" {
		resolver = canonical.NewFSResolver(cfg.InventoryRoot, extensions)
	}
	return canonical.New(log, extensions, resolver)
}
