package lsp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/opencode-ai/opencode-lsp/internal/lsp"

// metrics holds the manager's instruments. They record nothing unless the
// host installs a MeterProvider.
type metrics struct {
	providerStarts   metric.Int64Counter
	providerFailures metric.Int64Counter
	activeProviders  metric.Int64UpDownCounter
	diagnostics      metric.Float64Histogram
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error

	m.providerStarts, err = meter.Int64Counter("opencode.lsp.provider.starts",
		metric.WithDescription("Number of language servers started"))
	if err != nil {
		return nil, err
	}

	m.providerFailures, err = meter.Int64Counter("opencode.lsp.provider.failures",
		metric.WithDescription("Number of language servers that failed to start"))
	if err != nil {
		return nil, err
	}

	m.activeProviders, err = meter.Int64UpDownCounter("opencode.lsp.provider.active",
		metric.WithDescription("Number of live language server providers"))
	if err != nil {
		return nil, err
	}

	m.diagnostics, err = meter.Float64Histogram("opencode.lsp.diagnostics.duration_seconds",
		metric.WithDescription("Time to obtain diagnostics for a file"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func mustMetrics(provider metric.MeterProvider) *metrics {
	m, err := newMetrics(provider)
	if err != nil {
		m, _ = newMetrics(noop.NewMeterProvider())
	}
	return m
}

func serverAttr(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("server", id))
}

func (m *metrics) started(ctx context.Context, id string) {
	m.providerStarts.Add(ctx, 1, serverAttr(id))
	m.activeProviders.Add(ctx, 1, serverAttr(id))
}

func (m *metrics) failed(ctx context.Context, id string) {
	m.providerFailures.Add(ctx, 1, serverAttr(id))
}

func (m *metrics) disposed(ctx context.Context, id string) {
	m.activeProviders.Add(ctx, -1, serverAttr(id))
}

func (m *metrics) validated(ctx context.Context, id string, elapsed time.Duration) {
	m.diagnostics.Record(ctx, elapsed.Seconds(), serverAttr(id))
}
