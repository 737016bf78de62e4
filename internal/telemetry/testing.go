package telemetry

import (
	"context"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TestTelemetry provides in-memory metrics collection for tests.
type TestTelemetry struct {
	*Telemetry

	MetricReader *testMetricReader
}

// NewTestTelemetry creates telemetry backed by a manual reader so tests can
// collect metrics on demand without an OTLP endpoint.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	metricReader := newTestMetricReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricReader.reader),
	)

	t := &Telemetry{
		config:        cfg,
		meterProvider: mp,
	}
	t.healthy.Store(true)

	return &TestTelemetry{
		Telemetry:    t,
		MetricReader: metricReader,
	}
}

// testMetricReader wraps the SDK's ManualReader.
type testMetricReader struct {
	reader  *sdkmetric.ManualReader
	mu      sync.Mutex
	metrics []metricdata.ResourceMetrics
}

func newTestMetricReader() *testMetricReader {
	return &testMetricReader{
		reader: sdkmetric.NewManualReader(),
	}
}

// Collect gathers current metrics and stores the snapshot.
func (r *testMetricReader) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return rm, err
	}

	r.mu.Lock()
	r.metrics = append(r.metrics, rm)
	r.mu.Unlock()
	return rm, nil
}

// Metrics returns all collected snapshots.
func (r *testMetricReader) Metrics() []metricdata.ResourceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}
