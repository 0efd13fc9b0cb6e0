package store

import (
	"context"
	"errors"
)

// ErrAsyncUnsupported is returned by sync-only backends for operations that
// only make sense on the networked, pipelined backend. Callers should use
// the postgres saver instead of retrying.
var ErrAsyncUnsupported = errors.New("operation not supported by this backend; use the postgres saver")

// ListOptions narrows a List call.
type ListOptions struct {
	// Filter is a subset-containment match against stored metadata.
	Filter map[string]any
	// Before excludes checkpoints at or after the given checkpoint id.
	Before *Config
	// Limit caps the number of tuples returned; zero means no limit.
	Limit int
}

// Saver is the common contract both checkpoint backends expose. The sync and
// async backends are semantically identical; only their blocking behavior
// and storage layout differ.
type Saver interface {
	// Setup initializes the backend schema. It is idempotent and safe to
	// call concurrently; the DDL runs at most once per store instance.
	Setup(ctx context.Context) error

	// GetTuple returns the checkpoint identified by config, or the most
	// recent checkpoint for the thread when config.CheckpointID is empty.
	// The tuple includes pending writes accrued after the checkpoint was
	// committed. Returns (nil, nil) when no checkpoint exists.
	GetTuple(ctx context.Context, config Config) (*CheckpointTuple, error)

	// List returns a lazy sequence of checkpoint tuples ordered by
	// checkpoint id descending. A nil config lists across threads.
	List(ctx context.Context, config *Config, opts ListOptions) (TupleIterator, error)

	// Put persists a checkpoint snapshot and returns the updated config
	// carrying the new checkpoint id. Writing an existing id replaces its
	// values and metadata atomically.
	Put(ctx context.Context, config Config, checkpoint *Checkpoint, metadata CheckpointMetadata) (Config, error)

	// PutWrites records task outputs produced before the owning checkpoint
	// is committed. Re-submitting identical (taskID, idx) entries is a
	// no-op, so failed tasks can retry safely.
	PutWrites(ctx context.Context, config Config, writes []ChannelWrite, taskID string) error
}

// Prefetcher is implemented by backends that can start a background "latest
// checkpoint" query shared across concurrent callers.
type Prefetcher interface {
	// PrefetchLatest arranges for the next GetTuple on the same thread to
	// consume a single shared query instead of issuing its own.
	PrefetchLatest(ctx context.Context, config Config) error
}
