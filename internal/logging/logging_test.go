package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]zapcore.Level{
		"":       zapcore.InfoLevel,
		"debug":  zapcore.DebugLevel,
		" WARN ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("nope")
	assert.Error(t, err)
}

func TestWithOperationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithOperation(zap.New(core), "classifier.classify", "req-1").Info("done")
	WithOperation(zap.New(core), "classifier.stats", "").Info("done")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "classifier.classify", entries[0].ContextMap()["operation"])
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	_, hasID := entries[1].ContextMap()["request_id"]
	assert.False(t, hasID)
}

func TestOperationError(t *testing.T) {
	cause := errors.New("boom")
	err := NewOperationError("classifier.infer", "req-9", cause)

	assert.Equal(t, "classifier.infer (request_id=req-9): boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "classifier.infer: boom", NewOperationError("classifier.infer", "", cause).Error())
	assert.Nil(t, NewOperationError("x", "y", nil))

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "req-9", opErr.RequestID)
	assert.Empty(t, opErr.SHA256)
}

func TestOperationErrorLogsAsObject(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	failure := ForImage("classifier.infer", "req-3", "ab12", errors.New("oom"))
	zap.New(core).Error("inference failed", zap.Object("failure", failure))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{
		"operation":  "classifier.infer",
		"request_id": "req-3",
		"sha256":     "ab12",
		"cause":      "oom",
	}, entries[0].ContextMap()["failure"])
	assert.EqualError(t, failure, "classifier.infer (request_id=req-3): oom")
}
