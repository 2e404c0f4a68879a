package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// Metrics holds the crawl counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	items      metric.Int64Counter
	rotations  metric.Int64Counter
	rateLimits metric.Int64Counter
	discovered metric.Int64Counter
	flushes    metric.Int64Counter

	shutdown func(context.Context) error
}

// Setup creates the counters. With telemetry enabled a meter provider
// exporting over OTLP HTTP is installed globally; otherwise the global
// provider (a no-op unless someone else set one) is used.
func Setup(ctx context.Context, cfg *config.Config, log logger.Logger) (*Metrics, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	tc := cfg.Telemetry
	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = "igcrawler"
	}

	m := &Metrics{shutdown: func(context.Context) error { return nil }}

	if tc.Enabled {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(tc.Endpoint),
			otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		res, err := resource.Merge(resource.Default(),
			resource.NewWithAttributes(semconv.SchemaURL,
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(logger.Version),
				semconv.ServiceInstanceID(uuid.New().String()),
			))
		if err != nil {
			return nil, fmt.Errorf("failed to build resource: %w", err)
		}

		interval := tc.ExportInterval.Std()
		if interval <= 0 {
			interval = 15 * time.Second
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(provider)
		m.shutdown = provider.Shutdown

		log.InfoWithFields("metrics export enabled", map[string]interface{}{
			"endpoint": tc.Endpoint,
			"interval": interval.String(),
		})
	}

	if err := m.register(otel.Meter(serviceName)); err != nil {
		return nil, err
	}
	return m, nil
}

// NewWithMeter builds Metrics on an explicit meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{shutdown: func(context.Context) error { return nil }}
	if err := m.register(meter); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) register(meter metric.Meter) error {
	var err error
	if m.items, err = meter.Int64Counter("igcrawler.items",
		metric.WithDescription("Work items that reached a final state"),
		metric.WithUnit("{items}")); err != nil {
		return fmt.Errorf("failed to create items counter: %w", err)
	}
	if m.rotations, err = meter.Int64Counter("igcrawler.proxy.rotations",
		metric.WithDescription("Proxy endpoint switches"),
		metric.WithUnit("{rotations}")); err != nil {
		return fmt.Errorf("failed to create rotations counter: %w", err)
	}
	if m.rateLimits, err = meter.Int64Counter("igcrawler.rate_limits",
		metric.WithDescription("Rate-limited responses from the remote"),
		metric.WithUnit("{responses}")); err != nil {
		return fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	if m.discovered, err = meter.Int64Counter("igcrawler.scan.discovered",
		metric.WithDescription("Usernames discovered by the tag scanner"),
		metric.WithUnit("{usernames}")); err != nil {
		return fmt.Errorf("failed to create discovery counter: %w", err)
	}
	if m.flushes, err = meter.Int64Counter("igcrawler.flushes",
		metric.WithDescription("Buffer flushes to the sink"),
		metric.WithUnit("{flushes}")); err != nil {
		return fmt.Errorf("failed to create flush counter: %w", err)
	}
	return nil
}

// ItemFinished counts one item in its final state.
func (m *Metrics) ItemFinished(ctx context.Context, state models.ItemState) {
	if m == nil {
		return
	}
	m.items.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}

func (m *Metrics) Rotation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateLimits.Add(ctx, 1)
}

func (m *Metrics) Discovered(ctx context.Context, tag string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("tag", tag)))
}

// Flushed counts a flush; ok is false when the sink write failed.
func (m *Metrics) Flushed(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// Shutdown flushes pending exports.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.shutdown(ctx)
}
