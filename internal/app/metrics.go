package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricSample is one data point of the LSP instruments. Histograms report
// their sum as Value and the number of observations as Count.
type MetricSample struct {
	Name   string  `json:"name"`
	Server string  `json:"server,omitempty"`
	Value  float64 `json:"value"`
	Count  uint64  `json:"count,omitempty"`
}

// Metrics collects the current LSP measurements. It returns nothing when
// the app was built with an external MeterProvider.
func (app *App) Metrics(ctx context.Context) ([]MetricSample, error) {
	if app.metricsReader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := app.metricsReader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	var samples []MetricSample
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					samples = append(samples, MetricSample{
						Name:   m.Name,
						Server: serverOf(dp.Attributes),
						Value:  float64(dp.Value),
					})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					samples = append(samples, MetricSample{
						Name:   m.Name,
						Server: serverOf(dp.Attributes),
						Value:  dp.Sum,
						Count:  dp.Count,
					})
				}
			}
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return samples[i].Server < samples[j].Server
	})
	return samples, nil
}

func serverOf(attrs attribute.Set) string {
	if v, ok := attrs.Value("server"); ok {
		return v.AsString()
	}
	return ""
}

func (app *App) closeMetrics(ctx context.Context) {
	if app.meterProvider == nil {
		return
	}
	if err := app.meterProvider.Shutdown(ctx); err != nil {
		logging.Debug("Failed to shut down meter provider", "error", err)
	}
}
