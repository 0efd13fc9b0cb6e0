package log

import (
	"github.com/kataras/golog"
)

// GologLogger adapts a golog.Logger to the Logger interface. Level filtering
// is delegated to golog itself, so levels set directly on the wrapped logger
// and levels set through SetLevel behave the same.
type GologLogger struct {
	logger *golog.Logger
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{logger: logger}
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) {
	l.logger.Debugf(format, v...)
}

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) {
	l.logger.Infof(format, v...)
}

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) {
	l.logger.Warnf(format, v...)
}

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) {
	l.logger.Errorf(format, v...)
}

// SetLevel maps a LogLevel onto the wrapped golog logger
func (l *GologLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		l.logger.SetLevel("debug")
	case LogLevelWarn:
		l.logger.SetLevel("warn")
	case LogLevelError:
		l.logger.SetLevel("error")
	case LogLevelNone:
		l.logger.SetLevel("disable")
	default:
		l.logger.SetLevel("info")
	}
}
