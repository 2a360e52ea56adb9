package tracing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()

	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, 4+26)
	assert.NotEqual(t, a, b)
}

func TestRequestContext(t *testing.T) {
	start := time.Now().Add(-time.Second)
	ctx := WithStartTime(WithRequestID(context.Background(), "req_1"), start)

	assert.Equal(t, "req_1", GetRequestID(ctx))
	assert.Equal(t, start, GetStartTime(ctx))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)

	info := GetRequestInfo(ctx)
	assert.Equal(t, "req_1", info.RequestID)
	assert.Empty(t, info.TraceID)

	assert.Empty(t, GetRequestID(context.Background()))
	assert.Zero(t, Duration(context.Background()))
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(models.TracingConfig{
		Enabled:      true,
		OTLPEndpoint: "collector:4318",
		SampleRate:   1,
		Environment:  "production",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.UseStdout)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "offlinekit", cfg.ServiceName)

	defaults := ConfigFromModel(models.TracingConfig{}, "")
	assert.Equal(t, DefaultTracingConfig().SampleRate, defaults.SampleRate)
}

func TestTracingManager_Disabled(t *testing.T) {
	tm := NewTracingManager(DefaultTracingConfig(), quietLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.tracerProvider)
	require.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracingManager_StdoutLifecycle(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1
	tm := NewTracingManager(cfg, quietLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	assert.NotNil(t, tm.tracerProvider)
	require.NoError(t, tm.Shutdown(context.Background()))
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "outbox.drain", attribute.Int("pending", 2))
	AddSpanAttributes(ctx, attribute.String("trigger", "online"))
	RecordError(ctx, errors.New("send failed"))

	assert.NotEmpty(t, GetOtelTraceID(ctx))
	assert.NotEmpty(t, GetOtelSpanID(ctx))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "outbox.drain", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Attributes(), 2)
	assert.Len(t, ended[0].Events(), 1)
}
