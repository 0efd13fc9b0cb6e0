// Package sqlite provides a SQLite-backed checkpoint saver for local
// development and single-process deployments. The whole checkpoint history
// lives in one file (or in memory), with no external service to run.
//
// Each checkpoint row carries the full serialized snapshot, channel values
// included; there is no blob sharing between checkpoints. Pending task
// writes go to a companion table with insert-if-absent semantics, so a
// retried task never duplicates its outputs.
//
// Basic usage:
//
//	saver, err := sqlite.NewSqliteSaver(sqlite.SqliteOptions{
//		Path: "checkpoints.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer saver.Close()
//
//	cfg := store.Config{ThreadID: "thread-1"}
//	next, err := saver.Put(ctx, cfg, checkpoint, metadata)
//
// Use Path ":memory:" for tests and throwaway sessions.
//
// All operations are serialized through one lock on a single shared
// connection. That keeps the saver safe to use from multiple goroutines but
// it will not scale to concurrent load; the postgres saver is the backend
// for that.
package sqlite
