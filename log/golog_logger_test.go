package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func newCapturedGolog() (*GologLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	glogger := golog.New()
	glogger.SetOutput(&buf)
	glogger.SetLevel("debug")
	return NewGologLogger(glogger), &buf
}

func TestGologLogger_FormatsArguments(t *testing.T) {
	logger, buf := newCapturedGolog()

	logger.Info("saved checkpoint %s for thread %s", "cp-1", "t-1")

	out := buf.String()
	assert.Contains(t, out, "saved checkpoint cp-1 for thread t-1")
	assert.NotContains(t, out, "%s")
}

func TestGologLogger_AllLevels(t *testing.T) {
	logger, buf := newCapturedGolog()

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	assert.Contains(t, out, "debug 1")
	assert.Contains(t, out, "info 2")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "error 4")
}

func TestGologLogger_SetLevelFilters(t *testing.T) {
	logger, buf := newCapturedGolog()

	logger.SetLevel(LogLevelError)
	logger.Debug("quiet debug")
	logger.Info("quiet info")
	logger.Warn("quiet warn")
	logger.Error("loud error")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud error")
}

func TestGologLogger_SetLevelNoneDisables(t *testing.T) {
	logger, buf := newCapturedGolog()

	logger.SetLevel(LogLevelNone)
	logger.Error("should not appear")

	assert.Equal(t, "", strings.TrimSpace(buf.String()))
}

func TestGologLogger_CustomGologInstance(t *testing.T) {
	var buf bytes.Buffer
	glogger := golog.New()
	glogger.SetOutput(&buf)
	glogger.SetPrefix("[myapp] ")
	glogger.SetLevel("debug")

	logger := NewGologLogger(glogger)
	logger.Info("hello %s", "world")

	out := buf.String()
	assert.Contains(t, out, "[myapp] ")
	assert.Contains(t, out, "hello world")
}
