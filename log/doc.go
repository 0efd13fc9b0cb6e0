// Package log provides a simple, leveled logging interface for graphstate.
//
// The checkpoint stores accept any implementation of the Logger interface and
// use it to report schema setup, put/put-writes activity and prefetch
// behavior at debug level. Two implementations ship with the package:
//
//   - DefaultLogger: backed by Go's standard log package
//   - GologLogger: a minimal wrapper around github.com/kataras/golog
//
// # Log Levels
//
// Five levels, in order of increasing severity:
//
//   - LogLevelDebug: detailed debugging information
//   - LogLevelInfo: general informational messages
//   - LogLevelWarn: potentially problematic situations
//   - LogLevelError: failures that need attention
//   - LogLevelNone: disables all output
//
// # Example
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//
//	saver, err := sqlite.NewSqliteSaver(sqlite.SqliteOptions{
//		Path:   "checkpoints.sqlite",
//		Logger: logger,
//	})
//
// To route output through golog instead:
//
//	glogger := golog.New()
//	glogger.SetPrefix("[myapp] ")
//	logger := log.NewGologLogger(glogger)
//
// # Thread Safety
//
// DefaultLogger is safe for concurrent use; the underlying log.Logger handles
// synchronization internally. GologLogger inherits golog's own guarantees.
package log
