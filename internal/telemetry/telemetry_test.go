package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestTestTelemetryCollectsInstruments(t *testing.T) {
	tel := NewTestTelemetry()

	counter, err := tel.Meter("test").Int64Counter("recalld.test.events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tel.MetricReader.Collect(context.Background())
	require.NoError(t, err)

	var found bool
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "recalld.test.events_total" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(3), sum.DataPoints[0].Value)
		}
	}
	assert.True(t, found, "counter not collected")
	assert.Len(t, tel.MetricReader.Metrics(), 1)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "disabled skips validation",
			mutate: func(c *Config) { c.Enabled = false; c.Endpoint = "" },
		},
		{
			name:   "valid enabled config",
			mutate: func(c *Config) { c.Enabled = true },
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.Enabled = true; c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name:    "unknown protocol",
			mutate:  func(c *Config) { c.Enabled = true; c.Protocol = "carrier-pigeon" },
			wantErr: "protocol must be",
		},
		{
			name: "insecure remote endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
			},
			wantErr: "insecure connections to remote endpoints",
		},
		{
			name: "secure remote endpoint allowed",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "non-positive export interval",
			mutate:  func(c *Config) { c.Enabled = true; c.ExportInterval = 0 },
			wantErr: "export_interval must be positive",
		},
		{
			name:    "non-positive shutdown wait",
			mutate:  func(c *Config) { c.Enabled = true; c.ShutdownWait = -time.Second },
			wantErr: "shutdown_wait must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		local    bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.53:4317", true},
		{"[::1]:4317", true},
		{"[::1]", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}
	for _, tt := range tests {
		cfg := &Config{Endpoint: tt.endpoint}
		assert.Equal(t, tt.local, cfg.isLocalEndpoint(), tt.endpoint)
	}
}
