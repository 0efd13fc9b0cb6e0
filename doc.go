// Graphstate - Durable State for Resumable Graph Execution in Go
//
// Graphstate is the persistence layer for graph-based execution engines: it
// snapshots every step of a run into an immutable checkpoint so execution
// can pause, crash, branch, or travel back in time and resume exactly where
// it left off.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/graphstate
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/graphstate/store"
//		"github.com/smallnest/graphstate/store/sqlite"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		saver, err := sqlite.NewSqliteSaver(sqlite.SqliteOptions{Path: "checkpoints.db"})
//		if err != nil {
//			panic(err)
//		}
//		defer saver.Close()
//
//		cp := store.EmptyCheckpoint()
//		cp.ChannelValues["messages"] = []any{"hello"}
//
//		cfg := store.Config{ThreadID: "thread-1"}
//		next, err := saver.Put(ctx, cfg, cp, store.CheckpointMetadata{"source": "input"})
//		if err != nil {
//			panic(err)
//		}
//
//		tuple, err := saver.GetTuple(ctx, next)
//		if err != nil {
//			panic(err)
//		}
//		fmt.Println(tuple.Checkpoint.ChannelValues["messages"])
//	}
//
// # Packages
//
//   - channel: versioned state slots with per-kind merge semantics
//     (LastValue, Topic, UntrackedValue) and a factory registry
//   - serde: the tagged serialization envelope, with transparent read
//     support for the legacy binary format
//   - store: the checkpoint data model, version derivation and the Saver
//     contract
//   - store/memory: in-process backend for tests and prototyping
//   - store/sqlite: embedded single-file backend
//   - store/postgres: networked backend with shared channel blobs and
//     pipelined writes
//   - store/redis: hash-per-checkpoint backend with a lex-ordered index
//   - log: leveled logging used by the stores, with a golog adapter
//
// # Concepts
//
// A thread is a named lineage of checkpoints identified by a caller-chosen
// ThreadID. Checkpoint ids are time-derived and sortable, so "the latest
// checkpoint" is always the lexicographic maximum. Channels carry the actual
// state; each has a version string that grows strictly per step, which the
// postgres backend uses to store each distinct value exactly once. Pending
// writes let a failed step's surviving task outputs be replayed on resume
// instead of recomputed.
package graphstate
