package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("request_class", "cp"),
		attribute.String("resource_key", "blog/post"),
		attribute.String("outcome", "success"),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("resource_key"), attr.Key)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordResourceAccessed(context.Background(), "site")
	m.RecordFlush(context.Background(), true, 3)

	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordResourceAccessed(context.Background(), "")
	m.RecordAggregate(context.Background(), false, true)
	assert.Equal(t, "default", normalizeClass(" "))
}
