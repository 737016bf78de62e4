package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/recalld/internal/ingest"

// Metrics counts envelopes through the ingest pipeline. stored + decode
// errors + record failures equals received.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	received     metric.Int64Counter
	stored       metric.Int64Counter
	decodeErrors metric.Int64Counter
	failures     metric.Int64Counter
}

// NewMetrics creates ingest metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}

	var err error
	m.received, err = m.meter.Int64Counter(
		"recalld.ingest.envelopes_received_total",
		metric.WithDescription("Total experience envelopes received from NATS"),
		metric.WithUnit("{envelope}"),
	)
	if err != nil {
		logger.Warn("failed to create received counter", zap.Error(err))
	}

	m.stored, err = m.meter.Int64Counter(
		"recalld.ingest.episodes_stored_total",
		metric.WithDescription("Total envelopes successfully recorded as episodes"),
		metric.WithUnit("{envelope}"),
	)
	if err != nil {
		logger.Warn("failed to create stored counter", zap.Error(err))
	}

	m.decodeErrors, err = m.meter.Int64Counter(
		"recalld.ingest.decode_errors_total",
		metric.WithDescription("Total envelopes dropped because the JSON could not be decoded"),
		metric.WithUnit("{envelope}"),
	)
	if err != nil {
		logger.Warn("failed to create decode error counter", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"recalld.ingest.record_failures_total",
		metric.WithDescription("Total envelopes dropped because the engine rejected them"),
		metric.WithUnit("{envelope}"),
	)
	if err != nil {
		logger.Warn("failed to create failure counter", zap.Error(err))
	}

	return m
}

// RecordReceived counts one envelope arriving off the wire.
func (m *Metrics) RecordReceived(ctx context.Context) {
	if m == nil || m.received == nil {
		return
	}
	m.received.Add(ctx, 1)
}

// RecordStored counts one envelope recorded as an episode.
func (m *Metrics) RecordStored(ctx context.Context) {
	if m == nil || m.stored == nil {
		return
	}
	m.stored.Add(ctx, 1)
}

// RecordDecodeError counts one undecodable envelope.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	if m == nil || m.decodeErrors == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1)
}

// RecordFailure counts one envelope the engine refused.
func (m *Metrics) RecordFailure(ctx context.Context) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1)
}
