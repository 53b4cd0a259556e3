package observability

import (
	"testing"

	"github.com/smallbiznis/lantern/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigTraceSkipRoutes(t *testing.T) {
	t.Setenv("LANTERN_TRACE_SKIP_ROUTES", "")
	assert.Equal(t, []string{"/health", "/metrics"}, LoadConfig(config.Config{}, nil).TraceSkipRoutes)

	t.Setenv("LANTERN_TRACE_SKIP_ROUTES", " /health , /v1/track,")
	assert.Equal(t, []string{"/health", "/v1/track"}, LoadConfig(config.Config{}, nil).TraceSkipRoutes)

	t.Setenv("LANTERN_TRACE_SKIP_ROUTES", "-")
	assert.Empty(t, LoadConfig(config.Config{}, nil).TraceSkipRoutes)
}

func TestLoadConfigDebugFromTracking(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	settings := config.DefaultTrackingSettings()
	settings.DebugLogging = true

	cfg := LoadConfig(config.Config{AppName: "lantern-edge"}, config.NewStaticTrackingSettings(settings))
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "lantern-edge", cfg.ServiceName)
	assert.True(t, cfg.Debug())
}
