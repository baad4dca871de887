package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupProvider_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupProvider_RejectsBadSampleRatio(t *testing.T) {
	_, err := SetupProvider(context.Background(), Config{Endpoint: "localhost:4317", SampleRatio: 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_ratio")
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceVersion: "1.0.2",
		Environment:    "staging",
		ResourceTags:   map[string]string{"team": "cx"},
	})

	got := map[attribute.Key]string{}
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, DefaultServiceName, got["service.name"])
	assert.Equal(t, "1.0.2", got["service.version"])
	assert.Equal(t, "staging", got["deployment.environment"])
	assert.Equal(t, "cx", got["team"])
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{1, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampler(tt.ratio).Description())
	}
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(Config{Endpoint: "c:4317"}), 3)
	assert.Len(t, exporterOptions(Config{Endpoint: "c:4317", Insecure: true, Headers: map[string]string{"k": "v"}}), 4)
}
