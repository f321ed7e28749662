package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/devscontext/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, "dev", nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())

	require.NoError(t, tel.ForceFlush(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, Endpoint: "otel.example.com:4317", Insecure: true}

	tel, err := New(context.Background(), cfg, "dev", nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, span := tracer.Start(context.Background(), "orchestrator.get_task_context")
	span.SetAttributes(
		attribute.String("task_id", "PROJ-1"),
		attribute.Bool("use_cache", true),
		attribute.Int64("sources", 3),
		attribute.Float64("quality_score", 0.75),
	)
	span.End()

	_, other := tracer.Start(context.Background(), "preprocess.process")
	other.End()

	assert.True(t, tt.IsEnabled())
	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("missing"))
	tt.AssertSpanExists(t, "preprocess.process")
	tt.AssertSpanAttribute(t, "orchestrator.get_task_context", "task_id", "PROJ-1")
	tt.AssertSpanAttribute(t, "orchestrator.get_task_context", "use_cache", true)
	tt.AssertSpanAttribute(t, "orchestrator.get_task_context", "sources", int64(3))
	tt.AssertSpanAttribute(t, "orchestrator.get_task_context", "quality_score", 0.75)
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()
	counter, err := tt.Meter("test").Int64Counter("devscontext.requests")
	require.NoError(t, err)

	counter.Add(context.Background(), 1)
	counter.Add(context.Background(), 2)

	require.NoError(t, tt.MetricReader.ForceFlush(context.Background()))
	assert.Contains(t, tt.MetricReader.MetricNames(), "devscontext.requests")
}

func TestTestTelemetry_Shutdown(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("test").Start(context.Background(), "flush")
	span.End()

	require.NoError(t, tt.ForceFlush(context.Background()))
	require.NoError(t, tt.Shutdown(context.Background()))
	assert.False(t, tt.Health().Healthy)
	assert.False(t, tt.IsEnabled())
}
