package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger_FormatsArguments(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelDebug)

	logger.Info("saved checkpoint %s for thread %s", "cp-1", "t-1")

	out := buf.String()
	assert.Contains(t, out, "[graphstate] ")
	assert.Contains(t, out, "[INFO] saved checkpoint cp-1 for thread t-1")
}

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelWarn)

	logger.Debug("quiet debug")
	logger.Info("quiet info")
	logger.Warn("loud warn")
	logger.Error("loud error")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "[WARN] loud warn")
	assert.Contains(t, out, "[ERROR] loud error")
}

func TestDefaultLogger_LevelNoneDisables(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelNone)

	logger.Error("should not appear")

	assert.Empty(t, buf.String())
}

func TestNewDefaultLogger_ImplementsLogger(t *testing.T) {
	var logger Logger = NewDefaultLogger(LogLevelInfo)
	assert.NotNil(t, logger)
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "NONE", LogLevelNone.String())
	assert.Equal(t, "UNKNOWN(42)", LogLevel(42).String())
}

func TestNoOpLogger_DiscardsEverything(t *testing.T) {
	var logger Logger = &NoOpLogger{}

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)
}
