package lsp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, metrics map[string]metricdata.Metrics, name, server string) int64 {
	t.Helper()
	m, ok := metrics[name]
	require.True(t, ok, "metric %s not recorded", name)
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)
	for _, dp := range data.DataPoints {
		if v, ok := dp.Attributes.Value("server"); ok && v.AsString() == server {
			return dp.Value
		}
	}
	return 0
}

func histogramCount(t *testing.T, metrics map[string]metricdata.Metrics, name, server string) uint64 {
	t.Helper()
	m, ok := metrics[name]
	require.True(t, ok, "metric %s not recorded", name)
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is not a float64 histogram", name)
	for _, dp := range data.DataPoints {
		if v, ok := dp.Attributes.Value("server"); ok && v.AsString() == server {
			return dp.Count
		}
	}
	return 0
}

func TestManager_RecordsMetrics(t *testing.T) {
	reg, root := newTestRegistry(t)
	require.NoError(t, reg.RegisterConfig(fakeConfig("fake", ".fk")))
	require.NoError(t, reg.RegisterConfig(fakeConfig("broken", ".br")))
	ff := &factoryFor{newServer: func() *fakeServer { return newFakeServer(publishOnSync()) }}
	opts := testProviderOptions(ff)
	opts.NewTransport = func(cfg registry.LanguageServerConfig, root string) (transport.Transport, error) {
		if cfg.ID == "broken" {
			return nil, errors.New("unreachable")
		}
		return ff.build(cfg, root)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m := newTestManager(t, reg, WithProviderOptions(opts), WithMeterProvider(mp))

	path := filepath.Join(root, "a.fk")
	m.GetDiagnostics(context.Background(), path, "x")
	m.GetDiagnostics(context.Background(), path, "x")
	m.GetDiagnostics(context.Background(), filepath.Join(root, "a.br"), "x")

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, metrics, "opencode.lsp.provider.starts", "fake"))
	assert.Equal(t, int64(1), sumFor(t, metrics, "opencode.lsp.provider.active", "fake"))
	assert.Equal(t, int64(1), sumFor(t, metrics, "opencode.lsp.provider.failures", "broken"))
	assert.Zero(t, sumFor(t, metrics, "opencode.lsp.provider.starts", "broken"))
	assert.Equal(t, uint64(2), histogramCount(t, metrics, "opencode.lsp.diagnostics.duration_seconds", "fake"))

	m.DisposeAll(context.Background())
	metrics = collect(t, reader)
	assert.Zero(t, sumFor(t, metrics, "opencode.lsp.provider.active", "fake"))
}
