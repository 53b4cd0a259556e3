package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	resourceAccessed metric.Int64Counter
	flushRuns        metric.Int64Counter
	aggregateRuns    metric.Int64Counter
	flushedHits      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "lantern"
	}
	meter := provider.Meter(name)

	resourceAccessed, err := meter.Int64Counter("lantern_resource_accessed_total",
		metric.WithDescription("Resource access notifications accepted into the accumulator."))
	if err != nil {
		return nil, err
	}
	flushRuns, err := meter.Int64Counter("lantern_flush_runs_total")
	if err != nil {
		return nil, err
	}
	aggregateRuns, err := meter.Int64Counter("lantern_aggregate_runs_total")
	if err != nil {
		return nil, err
	}
	flushedHits, err := meter.Int64Counter("lantern_flushed_hits_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		resourceAccessed: resourceAccessed,
		flushRuns:        flushRuns,
		aggregateRuns:    aggregateRuns,
		flushedHits:      flushedHits,
	}, nil
}

// RecordResourceAccessed counts one access by request class.
func (m *Metrics) RecordResourceAccessed(ctx context.Context, requestClass string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("request_class", normalizeClass(requestClass)))
	m.resourceAccessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFlush counts a flush run and the hits it persisted.
func (m *Metrics) RecordFlush(ctx context.Context, success bool, hits int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", outcome(success)))
	m.flushRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	if success && hits > 0 {
		m.flushedHits.Add(ctx, hits)
	}
}

// RecordAggregate counts an aggregation run.
func (m *Metrics) RecordAggregate(ctx context.Context, success, dryRun bool) {
	if m == nil {
		return
	}
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome(success)),
		attribute.String("mode", mode),
	)
	m.aggregateRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func normalizeClass(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return "default"
	}
	return class
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"request_class": {},
	"outcome":       {},
	"mode":          {},
	"endpoint":      {},
	"status_code":   {},
	"job":           {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
