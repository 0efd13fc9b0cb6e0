// Package store defines the checkpoint data model and the contract every
// persistence backend implements.
//
// A Thread is a lineage of immutable Checkpoints, totally ordered by a
// lexicographically sortable, time-derived checkpoint id within an optional
// namespace. Each query operation returns a CheckpointTuple: the checkpoint,
// its metadata, a weak back-reference to its parent, and any pending writes
// recorded since the checkpoint was committed.
//
// Four backends implement the Saver interface:
//
//   - store/memory: in-process maps, the reference implementation
//   - store/sqlite: embedded, single-connection, synchronous
//   - store/postgres: networked, blob-split, pipelined
//   - store/redis: hash-per-checkpoint with a lex-ordered index
//
// # Versioning
//
// NextVersion derives a channel's next version string, formatted as a
// 32-digit zero-padded integer, a dot, and an md5 content hash (empty for an
// empty channel). Within a thread versions for one channel are strictly
// increasing by integer prefix; the hash component lets the postgres backend
// skip blob writes for values it has already persisted.
//
// # Typical flow
//
//	cfg := store.Config{ThreadID: "thread-1"}
//	tuple, err := saver.GetTuple(ctx, cfg)       // load latest state
//	// ... executor runs a step, mutating channels ...
//	next, err := saver.Put(ctx, cfg, checkpoint, metadata)
//	err = saver.PutWrites(ctx, next, writes, taskID)
package store
