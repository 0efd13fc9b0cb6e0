package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/graphstate/channel"
	"github.com/smallnest/graphstate/log"
	"github.com/smallnest/graphstate/serde"
	"github.com/smallnest/graphstate/store"
)

// SqliteSaver is the embedded, synchronous checkpoint backend. Each
// checkpoint is stored as one row holding the full serialized snapshot;
// pending writes live in a companion table.
//
// All mutating operations are serialized through one exclusive lock on top
// of the engine's own transaction, so interleaved callers never interleave
// statements on the shared connection. This trades throughput for
// simplicity: a single SqliteSaver is safe to share across goroutines, but
// it will not scale to concurrent load. Use the postgres saver for that.
type SqliteSaver struct {
	db     *sql.DB
	serde  serde.Serializer
	logger log.Logger

	mu      sync.Mutex
	isSetup bool
}

// SqliteOptions configures the SQLite connection.
type SqliteOptions struct {
	// Path is the database file path, or ":memory:".
	Path string
	// Serializer overrides the default legacy-compatible JSON serializer.
	Serializer serde.Serializer
	// Logger receives debug output; defaults to a no-op logger.
	Logger log.Logger
}

// NewSqliteSaver opens the database and initializes the schema.
func NewSqliteSaver(opts SqliteOptions) (*SqliteSaver, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// one shared connection, guarded by s.mu
	db.SetMaxOpenConns(1)

	s := NewSqliteSaverWithDB(db, opts)
	if err := s.Setup(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSqliteSaverWithDB wraps an existing database handle. Useful for testing
// and for callers managing their own connection lifecycle; Setup is not
// called automatically.
func NewSqliteSaverWithDB(db *sql.DB, opts SqliteOptions) *SqliteSaver {
	sd := opts.Serializer
	if sd == nil {
		sd = serde.NewCompatSerializer(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	return &SqliteSaver{db: db, serde: sd, logger: logger}
}

// Close closes the database connection.
func (s *SqliteSaver) Close() error {
	return s.db.Close()
}

// Setup creates the tables if they don't exist. Idempotent; the DDL runs at
// most once per saver instance. A failure leaves the saver ready to retry.
func (s *SqliteSaver) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupLocked(ctx)
}

func (s *SqliteSaver) setupLocked(ctx context.Context) error {
	if s.isSetup {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		PRAGMA journal_mode=WAL;
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			checkpoint BLOB NOT NULL,
			metadata BLOB,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		);
		CREATE TABLE IF NOT EXISTS writes (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			type TEXT,
			value BLOB,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug("sqlite schema ready")
	s.isSetup = true
	return nil
}

// GetTuple returns the checkpoint identified by config, or the latest one for
// the thread when no checkpoint id is given, together with its pending
// writes. Returns (nil, nil) when no checkpoint exists.
func (s *SqliteSaver) GetTuple(ctx context.Context, config store.Config) (*store.CheckpointTuple, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}

	var row *sql.Row
	if config.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			config.ThreadID, config.CheckpointNS, config.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC LIMIT 1`,
			config.ThreadID, config.CheckpointNS)
	}

	tuple, err := s.scanTuple(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	writes, err := s.loadWrites(ctx, tuple.Config)
	if err != nil {
		return nil, err
	}
	tuple.PendingWrites = writes
	return tuple, nil
}

// List returns checkpoints in reverse checkpoint-id order. The sequence is
// lazy: rows are decoded as the iterator advances, but note that holding an
// open iterator blocks other operations on the shared connection.
func (s *SqliteSaver) List(ctx context.Context, config *store.Config, opts store.ListOptions) (store.TupleIterator, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}

	where, args := searchWhere(config, opts)
	query := `
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
		FROM checkpoints ` + where + ` ORDER BY checkpoint_id DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return &rowsIterator{saver: s, rows: rows}, nil
}

// Put saves a checkpoint, inlining all channel values into the snapshot row.
// Writing an existing (thread, namespace, id) replaces values and metadata.
func (s *SqliteSaver) Put(ctx context.Context, config store.Config, checkpoint *store.Checkpoint, metadata store.CheckpointMetadata) (store.Config, error) {
	ckptType, ckptData, err := s.serde.DumpsTyped(checkpoint)
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if ckptType != serde.TypeJSON {
		return store.Config{}, fmt.Errorf("unexpected checkpoint encoding %q", ckptType)
	}
	metaJSON, err := json.Marshal(store.MergedMetadata(config, metadata))
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setupLocked(ctx); err != nil {
		return store.Config{}, err
	}

	var parent any
	if config.CheckpointID != "" {
		parent = config.CheckpointID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		config.ThreadID, config.CheckpointNS, checkpoint.ID, parent, ckptData, metaJSON)
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("saved checkpoint %s for thread %s", checkpoint.ID, config.ThreadID)
	return store.Config{
		ThreadID:     config.ThreadID,
		CheckpointNS: config.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}, nil
}

// PutWrites records task outputs. Duplicate (taskID, idx) rows are ignored,
// so retried tasks do not duplicate side effects.
func (s *SqliteSaver) PutWrites(ctx context.Context, config store.Config, writes []store.ChannelWrite, taskID string) error {
	if config.CheckpointID == "" {
		return fmt.Errorf("config is missing a checkpoint id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setupLocked(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for idx, w := range writes {
		typ, data, err := s.serde.DumpsTyped(w.Value)
		if err != nil {
			return fmt.Errorf("failed to serialize write for channel %s: %w", w.Channel, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			config.ThreadID, config.CheckpointNS, config.CheckpointID, taskID, idx, w.Channel, typ, data)
		if err != nil {
			return fmt.Errorf("failed to save write: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteThread removes every checkpoint and pending write for a thread.
func (s *SqliteSaver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setupLocked(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM writes WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete writes: %w", err)
	}
	return nil
}

// PrefetchLatest is only available on the networked backend.
func (s *SqliteSaver) PrefetchLatest(ctx context.Context, config store.Config) error {
	return fmt.Errorf("SqliteSaver: %w", store.ErrAsyncUnsupported)
}

// NextVersion derives the next version string for a channel using this
// saver's serializer. See store.NextVersion.
func (s *SqliteSaver) NextVersion(current string, ch channel.Channel) (string, error) {
	return store.NextVersion(current, ch, s.serde)
}

func (s *SqliteSaver) scanTuple(scan func(dest ...any) error) (*store.CheckpointTuple, error) {
	var (
		threadID, ns, id string
		parentID         sql.NullString
		ckptData         []byte
		metaData         []byte
	)
	if err := scan(&threadID, &ns, &id, &parentID, &ckptData, &metaData); err != nil {
		return nil, err
	}

	checkpoint, err := s.decodeCheckpoint(ckptData)
	if err != nil {
		return nil, err
	}
	metadata := store.CheckpointMetadata{}
	if len(metaData) > 0 {
		decoded, err := s.serde.LoadsTyped(serde.TypeJSON, metaData)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		if m, ok := decoded.(map[string]any); ok {
			metadata = m
		}
	}

	tuple := &store.CheckpointTuple{
		Config: store.Config{
			ThreadID:     threadID,
			CheckpointNS: ns,
			CheckpointID: id,
		},
		Checkpoint: checkpoint,
		Metadata:   metadata,
	}
	if parentID.Valid && parentID.String != "" {
		tuple.ParentConfig = &store.Config{
			ThreadID:     threadID,
			CheckpointNS: ns,
			CheckpointID: parentID.String,
		}
	}
	return tuple, nil
}

// decodeCheckpoint reads both current JSON snapshots and legacy binary ones.
func (s *SqliteSaver) decodeCheckpoint(data []byte) (*store.Checkpoint, error) {
	if serde.IsLegacy(data) {
		decoded, err := s.serde.LoadsTyped(serde.TypeJSON, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		// re-encode the decoded map so it lands in the struct shape
		raw, err := json.Marshal(decoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		data = raw
	}

	var checkpoint store.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *SqliteSaver) loadWrites(ctx context.Context, config store.Config) ([]store.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, channel, type, value FROM writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY task_id, idx`,
		config.ThreadID, config.CheckpointNS, config.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	defer rows.Close()

	var writes []store.PendingWrite
	for rows.Next() {
		var (
			taskID, ch string
			typ        sql.NullString
			data       []byte
		)
		if err := rows.Scan(&taskID, &ch, &typ, &data); err != nil {
			return nil, fmt.Errorf("failed to scan write row: %w", err)
		}
		value, err := s.serde.LoadsTyped(typ.String, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode write value: %w", err)
		}
		writes = append(writes, store.PendingWrite{TaskID: taskID, Channel: ch, Value: value})
	}
	return writes, rows.Err()
}

// searchWhere builds the WHERE clause for List from config, metadata filter
// and the before cursor. Metadata predicates use json_extract.
func searchWhere(config *store.Config, opts store.ListOptions) (string, []any) {
	var wheres []string
	var args []any

	if config != nil {
		wheres = append(wheres, "thread_id = ?", "checkpoint_ns = ?")
		args = append(args, config.ThreadID, config.CheckpointNS)
	}
	if len(opts.Filter) > 0 {
		keys := make([]string, 0, len(opts.Filter))
		for k := range opts.Filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			wheres = append(wheres, fmt.Sprintf("json_extract(CAST(metadata AS TEXT), '$.%s') = ?", k))
			args = append(args, filterParam(opts.Filter[k]))
		}
	}
	if opts.Before != nil {
		wheres = append(wheres, "checkpoint_id < ?")
		args = append(args, opts.Before.CheckpointID)
	}

	if len(wheres) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(wheres, " AND "), args
}

// filterParam converts a filter value to what json_extract yields: scalars
// as-is, booleans as 0/1, containers as compact JSON text.
func filterParam(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		if val {
			return 1
		}
		return 0
	case string, int, int32, int64, float32, float64:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// rowsIterator lazily decodes checkpoint rows as the caller advances.
type rowsIterator struct {
	saver *SqliteSaver
	rows  *sql.Rows
}

func (it *rowsIterator) Next(ctx context.Context) (*store.CheckpointTuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
		}
		return nil, nil
	}
	return it.saver.scanTuple(it.rows.Scan)
}

func (it *rowsIterator) Close() error {
	return it.rows.Close()
}
