package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourlimit/internal/version"
)

func TestSetup_Disabled(t *testing.T) {
	provider, err := Setup(MetricsConfig{}, TracingConfig{}, version.GetInfo())
	require.NoError(t, err)
	assert.Nil(t, provider.PrometheusExporter())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_MetricsEnabled(t *testing.T) {
	provider, err := Setup(MetricsConfig{Enabled: true, Path: "/metrics", Port: 0}, TracingConfig{}, version.GetInfo())
	require.NoError(t, err)
	assert.NotNil(t, provider.PrometheusExporter())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_StdoutTracing(t *testing.T) {
	provider, err := Setup(MetricsConfig{}, TracingConfig{
		Enabled:    true,
		Exporter:   "stdout",
		SampleRate: 0,
	}, version.GetInfo())
	require.NoError(t, err)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_UnsupportedExporter(t *testing.T) {
	_, err := Setup(MetricsConfig{}, TracingConfig{
		Enabled:  true,
		Exporter: "jaeger",
	}, version.GetInfo())
	assert.Error(t, err)
}
