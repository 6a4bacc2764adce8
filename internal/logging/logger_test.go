package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerStdoutOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLoggerRejectsNoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestContextFieldsCarryMissionAndTask(t *testing.T) {
	logger, logs := NewTestLogger(zapcore.DebugLevel)

	ctx := WithMissionID(context.Background(), "m1")
	ctx = WithTaskID(ctx, "t1")

	logger.Info(ctx, "task started", zap.String("agent", "coder"))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "m1", fields["mission.id"])
	assert.Equal(t, "t1", fields["task.id"])
	assert.Equal(t, "coder", fields["agent"])
}

func TestMissionIDFromContext(t *testing.T) {
	ctx := WithMissionID(context.Background(), "m1")
	assert.Equal(t, "m1", MissionIDFromContext(ctx))
	assert.Empty(t, MissionIDFromContext(context.Background()))
}

func TestFromContextFallsBackToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	stored, _ := NewTestLogger(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), stored)
	assert.Equal(t, stored, FromContext(ctx))
}

func TestNamedAndWith(t *testing.T) {
	logger, logs := NewTestLogger(zapcore.InfoLevel)

	child := logger.Named("scheduler").With(zap.String("wave", "0"))
	child.Info(context.Background(), "starting")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scheduler", entries[0].LoggerName)
	assert.Equal(t, "0", entries[0].ContextMap()["wave"])
}
