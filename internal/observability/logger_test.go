// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/stagehand/internal/config"
)

// setupTestLogger initializes the global logger to write to a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console format colorizes the level", func(t *testing.T) {
		ResetForTest()

		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "test-service",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("console message")

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "console message")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
	})

	t.Run("json format emits valid objects", func(t *testing.T) {
		ResetForTest()

		buf := setupTestLogger(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "json-test",
		})

		GetLogger().Warn("structured message", zap.String("key", "value"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "json-test", entry["logger"])
		assert.Equal(t, "structured message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level gates output", func(t *testing.T) {
		ResetForTest()

		buf := setupTestLogger(config.LoggerConfig{
			Level:       "warn",
			Format:      "json",
			ServiceName: "gated",
		})

		GetLogger().Info("should not appear")
		GetLogger().Warn("should appear")

		output := buf.String()
		assert.NotContains(t, output, "should not appear")
		assert.Contains(t, output, "should appear")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()

		buf := setupTestLogger(config.LoggerConfig{
			Level:       "nonsense",
			Format:      "json",
			ServiceName: "fallback-level",
		})

		GetLogger().Debug("debug hidden")
		GetLogger().Info("info visible")

		output := buf.String()
		assert.NotContains(t, output, "debug hidden")
		assert.Contains(t, output, "info visible")
	})
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger, "uninitialized access returns a usable fallback")
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()

	buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})
	second := new(bytes.Buffer)
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(second))

	GetLogger().Info("routed to the first writer")
	assert.Contains(t, buf.String(), "routed to the first writer")
	assert.Empty(t, second.String())
}
