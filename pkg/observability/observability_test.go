package observability

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "aes-control-plane", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Disabled providers still hand out usable no-op instruments.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, done := p.TrackStage(context.Background(), "planner",
		attribute.String("run_id", "run-1"))
	require.NotNil(t, ctx)
	done(errors.New("boom"))

	p.RecordRunStart(ctx)
	p.RecordRetry(ctx)
	p.RecordViolation(ctx)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"DEBUG", "info", "WARN", "error", "bogus"} {
		logger := NewLogger(level)
		require.NotNil(t, logger)
		require.IsType(t, &slog.Logger{}, logger)
	}
}
