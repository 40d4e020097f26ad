package lg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).With(String("host", "10.0.0.5"))

	logger.Debug("probe")
	logger.Info("connected", Int("attempt", 2))
	logger.Warn("retrying", Err(errors.New("refused")))
	logger.Error("exhausted")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "10.0.0.5", entries[1].ContextMap()["host"])
	assert.Equal(t, int64(2), entries[1].ContextMap()["attempt"])
	assert.Equal(t, "refused", entries[2].ContextMap()["error"])
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core))

	ctx := Attach(context.Background(), logger)
	FromContext(ctx).Info("from context")
	assert.Equal(t, 1, logs.Len())

	_, ok := FromContext(context.Background()).(defaultLogger)
	assert.True(t, ok, "missing logger falls back to defaultLogger")
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "", flatten())
	out := flatten(String("user", "alice"), Int("attempts", 3))
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "3")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.With(String("k", "v")).Error("nothing")
		assert.NoError(t, Discard.Sync())
	})
}
