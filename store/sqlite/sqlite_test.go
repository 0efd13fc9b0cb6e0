package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallnest/graphstate/serde"
	"github.com/smallnest/graphstate/store"
)

func newTestSaver(t *testing.T) *SqliteSaver {
	t.Helper()
	saver, err := NewSqliteSaver(SqliteOptions{Path: ":memory:"})
	assert.NoError(t, err)
	t.Cleanup(func() { saver.Close() })
	return saver
}

func putCheckpoint(t *testing.T, saver *SqliteSaver, cfg store.Config, id string, meta store.CheckpointMetadata) store.Config {
	t.Helper()
	cp := store.EmptyCheckpoint()
	cp.ID = id
	cp.ChannelValues = map[string]any{"messages": []any{"msg-" + id}}
	next, err := saver.Put(context.Background(), cfg, cp, meta)
	assert.NoError(t, err)
	return next
}

func TestSqliteSaver_PutAndGet(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := store.Config{ThreadID: "thread-1"}
	cp := store.EmptyCheckpoint()
	cp.ID = "cp-1"
	cp.ChannelValues = map[string]any{"messages": []any{"hello"}, "count": float64(3)}
	cp.ChannelVersions = map[string]string{"messages": "00000000000000000000000000000001.abc"}
	cp.VersionsSeen = map[string]map[string]string{
		"node-a": {"messages": "00000000000000000000000000000001.abc"},
	}

	next, err := saver.Put(ctx, cfg, cp, store.CheckpointMetadata{"source": "input", "step": float64(0)})
	assert.NoError(t, err)
	assert.Equal(t, store.Config{ThreadID: "thread-1", CheckpointID: "cp-1"}, next)

	tuple, err := saver.GetTuple(ctx, next)
	assert.NoError(t, err)
	assert.NotNil(t, tuple)
	assert.Equal(t, "cp-1", tuple.Checkpoint.ID)
	assert.Equal(t, []any{"hello"}, tuple.Checkpoint.ChannelValues["messages"])
	assert.Equal(t, float64(3), tuple.Checkpoint.ChannelValues["count"])
	assert.Equal(t, cp.ChannelVersions, tuple.Checkpoint.ChannelVersions)
	assert.Equal(t, cp.VersionsSeen, tuple.Checkpoint.VersionsSeen)
	assert.Equal(t, "input", tuple.Metadata["source"])
	assert.Nil(t, tuple.ParentConfig)
}

func TestSqliteSaver_GetLatest(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := store.Config{ThreadID: "thread-1"}
	cfg = putCheckpoint(t, saver, cfg, "cp-1", nil)
	cfg = putCheckpoint(t, saver, cfg, "cp-2", nil)
	putCheckpoint(t, saver, cfg, "cp-3", nil)

	tuple, err := saver.GetTuple(ctx, store.Config{ThreadID: "thread-1"})
	assert.NoError(t, err)
	assert.NotNil(t, tuple)
	assert.Equal(t, "cp-3", tuple.Checkpoint.ID)
	assert.NotNil(t, tuple.ParentConfig)
	assert.Equal(t, "cp-2", tuple.ParentConfig.CheckpointID)
}

func TestSqliteSaver_GetMissing(t *testing.T) {
	saver := newTestSaver(t)

	tuple, err := saver.GetTuple(context.Background(), store.Config{ThreadID: "nope"})
	assert.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestSqliteSaver_NamespaceIsolation(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	putCheckpoint(t, saver, store.Config{ThreadID: "thread-1"}, "cp-outer", nil)
	putCheckpoint(t, saver, store.Config{ThreadID: "thread-1", CheckpointNS: "inner"}, "cp-inner", nil)

	tuple, err := saver.GetTuple(ctx, store.Config{ThreadID: "thread-1"})
	assert.NoError(t, err)
	assert.Equal(t, "cp-outer", tuple.Checkpoint.ID)

	tuple, err = saver.GetTuple(ctx, store.Config{ThreadID: "thread-1", CheckpointNS: "inner"})
	assert.NoError(t, err)
	assert.Equal(t, "cp-inner", tuple.Checkpoint.ID)
}

func TestSqliteSaver_PutReplacesExisting(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := store.Config{ThreadID: "thread-1"}
	cp := store.EmptyCheckpoint()
	cp.ID = "cp-1"
	cp.ChannelValues = map[string]any{"messages": []any{"first"}}
	_, err := saver.Put(ctx, cfg, cp, store.CheckpointMetadata{"step": float64(0)})
	assert.NoError(t, err)

	cp.ChannelValues = map[string]any{"messages": []any{"second"}}
	_, err = saver.Put(ctx, cfg, cp, store.CheckpointMetadata{"step": float64(1)})
	assert.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, store.Config{ThreadID: "thread-1", CheckpointID: "cp-1"})
	assert.NoError(t, err)
	assert.Equal(t, []any{"second"}, tuple.Checkpoint.ChannelValues["messages"])
	assert.Equal(t, float64(1), tuple.Metadata["step"])

	iter, err := saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{})
	assert.NoError(t, err)
	tuples, err := store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 1)
}

func TestSqliteSaver_List(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := store.Config{ThreadID: "thread-1"}
	cfg = putCheckpoint(t, saver, cfg, "cp-1", store.CheckpointMetadata{"source": "input", "step": float64(0)})
	cfg = putCheckpoint(t, saver, cfg, "cp-2", store.CheckpointMetadata{"source": "loop", "step": float64(1)})
	putCheckpoint(t, saver, cfg, "cp-3", store.CheckpointMetadata{"source": "loop", "step": float64(2)})
	putCheckpoint(t, saver, store.Config{ThreadID: "thread-2"}, "cp-1", nil)

	iter, err := saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{})
	assert.NoError(t, err)
	tuples, err := store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 3)
	assert.Equal(t, "cp-3", tuples[0].Checkpoint.ID)
	assert.Equal(t, "cp-2", tuples[1].Checkpoint.ID)
	assert.Equal(t, "cp-1", tuples[2].Checkpoint.ID)

	// before is exclusive
	iter, err = saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{
		Before: &store.Config{CheckpointID: "cp-3"},
	})
	assert.NoError(t, err)
	tuples, err = store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 2)
	assert.Equal(t, "cp-2", tuples[0].Checkpoint.ID)

	// limit keeps the newest
	iter, err = saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{Limit: 1})
	assert.NoError(t, err)
	tuples, err = store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 1)
	assert.Equal(t, "cp-3", tuples[0].Checkpoint.ID)
}

func TestSqliteSaver_ListMetadataFilter(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := store.Config{ThreadID: "thread-1"}
	cfg = putCheckpoint(t, saver, cfg, "cp-1", store.CheckpointMetadata{"source": "input", "writes": map[string]any{"node": "start"}})
	cfg = putCheckpoint(t, saver, cfg, "cp-2", store.CheckpointMetadata{"source": "loop", "interrupted": true})
	putCheckpoint(t, saver, cfg, "cp-3", store.CheckpointMetadata{"source": "loop", "interrupted": false})

	iter, err := saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{
		Filter: map[string]any{"source": "loop"},
	})
	assert.NoError(t, err)
	tuples, err := store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 2)

	// boolean values compare against json_extract's 0/1
	iter, err = saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{
		Filter: map[string]any{"interrupted": true},
	})
	assert.NoError(t, err)
	tuples, err = store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 1)
	assert.Equal(t, "cp-2", tuples[0].Checkpoint.ID)

	// nested containers compare as compact JSON text
	iter, err = saver.List(ctx, &store.Config{ThreadID: "thread-1"}, store.ListOptions{
		Filter: map[string]any{"writes": map[string]any{"node": "start"}},
	})
	assert.NoError(t, err)
	tuples, err = store.ReadAll(ctx, iter)
	assert.NoError(t, err)
	assert.Len(t, tuples, 1)
	assert.Equal(t, "cp-1", tuples[0].Checkpoint.ID)
}

func TestSqliteSaver_PutWrites(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := putCheckpoint(t, saver, store.Config{ThreadID: "thread-1"}, "cp-1", nil)

	assert.NoError(t, saver.PutWrites(ctx, cfg, []store.ChannelWrite{
		{Channel: "messages", Value: "result"},
		{Channel: "count", Value: float64(7)},
	}, "task-1"))
	// retries keep the first written values
	assert.NoError(t, saver.PutWrites(ctx, cfg, []store.ChannelWrite{
		{Channel: "messages", Value: "retried"},
		{Channel: "count", Value: float64(99)},
	}, "task-1"))
	assert.NoError(t, saver.PutWrites(ctx, cfg, []store.ChannelWrite{
		{Channel: "messages", Value: "other"},
	}, "task-2"))

	tuple, err := saver.GetTuple(ctx, cfg)
	assert.NoError(t, err)
	assert.Equal(t, []store.PendingWrite{
		{TaskID: "task-1", Channel: "messages", Value: "result"},
		{TaskID: "task-1", Channel: "count", Value: float64(7)},
		{TaskID: "task-2", Channel: "messages", Value: "other"},
	}, tuple.PendingWrites)
}

func TestSqliteSaver_PutWrites_RequiresCheckpointID(t *testing.T) {
	saver := newTestSaver(t)

	err := saver.PutWrites(context.Background(), store.Config{ThreadID: "thread-1"},
		[]store.ChannelWrite{{Channel: "messages", Value: "x"}}, "task-1")
	assert.Error(t, err)
}

func TestSqliteSaver_DeleteThread(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	cfg := putCheckpoint(t, saver, store.Config{ThreadID: "thread-1"}, "cp-1", nil)
	assert.NoError(t, saver.PutWrites(ctx, cfg, []store.ChannelWrite{{Channel: "messages", Value: "x"}}, "task-1"))
	putCheckpoint(t, saver, store.Config{ThreadID: "thread-2"}, "cp-1", nil)

	assert.NoError(t, saver.DeleteThread(ctx, "thread-1"))

	tuple, err := saver.GetTuple(ctx, store.Config{ThreadID: "thread-1"})
	assert.NoError(t, err)
	assert.Nil(t, tuple)

	tuple, err = saver.GetTuple(ctx, store.Config{ThreadID: "thread-2"})
	assert.NoError(t, err)
	assert.NotNil(t, tuple)
}

func TestSqliteSaver_LegacyCheckpointDecode(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	// simulate a row written by an older release with the binary codec
	legacy, err := serde.DumpsLegacy(map[string]any{
		"v":  float64(1),
		"id": "cp-legacy",
		"channel_values": map[string]any{
			"messages": []any{"old"},
		},
		"channel_versions": map[string]any{},
	})
	assert.NoError(t, err)
	assert.True(t, serde.IsLegacy(legacy))

	assert.NoError(t, saver.Setup(ctx))
	_, err = saver.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"thread-legacy", "", "cp-legacy", nil, legacy, []byte(`{"source":"input"}`))
	assert.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, store.Config{ThreadID: "thread-legacy"})
	assert.NoError(t, err)
	assert.NotNil(t, tuple)
	assert.Equal(t, "cp-legacy", tuple.Checkpoint.ID)
	assert.Equal(t, []any{"old"}, tuple.Checkpoint.ChannelValues["messages"])
	assert.Equal(t, "input", tuple.Metadata["source"])
}

func TestSqliteSaver_PrefetchUnsupported(t *testing.T) {
	saver := newTestSaver(t)

	err := saver.PrefetchLatest(context.Background(), store.Config{ThreadID: "thread-1"})
	assert.True(t, errors.Is(err, store.ErrAsyncUnsupported))
}
