package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/smallnest/graphstate/channel"
	"github.com/smallnest/graphstate/log"
	"github.com/smallnest/graphstate/serde"
	"github.com/smallnest/graphstate/store"
)

// DBPool is the subset of pgxpool.Pool the saver uses. pgxmock implements it
// for tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresSaver is the networked checkpoint backend. Large channel payloads
// are split into a content-addressed blob table keyed by
// (thread, channel, version); blobs are write-once, so a channel whose
// version did not advance past the previous checkpoint costs no new row.
//
// Reads and writes interleave freely at the network layer; only schema setup,
// the blob-pruning memo and the prefetch slot are guarded by the saver's
// lock. Reads always go to the database, so writes committed by any process
// are visible to the next GetTuple.
type PostgresSaver struct {
	pool     DBPool
	serde    serde.Serializer
	logger   log.Logger
	pipeline bool
	workers  int

	mu         sync.Mutex
	isSetup    bool
	lastSaved  *savedCheckpoint
	latestIter store.TupleIterator

	group singleflight.Group
}

// savedCheckpoint remembers the channel versions of the checkpoint this
// saver wrote last. Put consults it to skip blob writes for channels whose
// version did not advance past the direct parent. It is a write-side memo
// only and never serves reads.
type savedCheckpoint struct {
	threadID string
	ns       string
	id       string
	versions map[string]string
}

// PostgresOptions configures the Postgres connection.
type PostgresOptions struct {
	// ConnString is the Postgres connection string.
	ConnString string
	// Pipeline batches each logical operation's statements into a single
	// network flush instead of one round trip per statement.
	Pipeline bool
	// Workers bounds the pool used for CPU-bound blob encoding and
	// decoding; defaults to GOMAXPROCS.
	Workers int
	// Serializer overrides the default legacy-compatible JSON serializer.
	Serializer serde.Serializer
	// Logger receives debug output; defaults to a no-op logger.
	Logger log.Logger
}

// NewPostgresSaver connects a new pool and returns a saver. Call Setup (or
// any operation, which sets up lazily) before first use.
func NewPostgresSaver(ctx context.Context, opts PostgresOptions) (*PostgresSaver, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresSaverWithPool(pool, opts), nil
}

// NewPostgresSaverWithPool wraps an existing pool. Useful for testing with
// mocks and for sharing a pool across components.
func NewPostgresSaverWithPool(pool DBPool, opts PostgresOptions) *PostgresSaver {
	sd := opts.Serializer
	if sd == nil {
		sd = serde.NewCompatSerializer(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &PostgresSaver{
		pool:     pool,
		serde:    sd,
		logger:   logger,
		pipeline: opts.Pipeline,
		workers:  workers,
	}
}

// Close closes the connection pool.
func (s *PostgresSaver) Close() {
	s.pool.Close()
}

// Setup creates the tables if they don't exist. Idempotent; the DDL runs at
// most once per saver instance and a failure leaves the saver ready to
// retry.
func (s *PostgresSaver) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSetup {
		return nil
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			checkpoint JSONB NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
			thread_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			version TEXT NOT NULL,
			type TEXT NOT NULL,
			blob BYTEA,
			PRIMARY KEY (thread_id, channel, version)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			type TEXT,
			blob BYTEA,
			PRIMARY KEY (thread_id, checkpoint_id, task_id, idx)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s.logger.Debug("postgres schema ready")
	s.isSetup = true
	return nil
}

// GetTuple returns the checkpoint identified by config, or the latest one
// for the thread when no checkpoint id is given, together with its pending
// writes. A prefetched iterator is consumed first if one is live; it serves
// exactly one call, after which the next caller re-queries fresh. Concurrent
// latest queries for the same thread collapse into one round trip. Returns
// (nil, nil) when no checkpoint exists.
func (s *PostgresSaver) GetTuple(ctx context.Context, config store.Config) (*store.CheckpointTuple, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}
	if config.CheckpointID != "" {
		return s.getTupleDirect(ctx, config)
	}

	// claim and clear the prefetched iterator, if any
	s.mu.Lock()
	iter := s.latestIter
	s.latestIter = nil
	s.mu.Unlock()

	if iter != nil {
		tuple, err := iter.Next(ctx)
		iter.Close()
		if err != nil {
			return nil, err
		}
		if tuple != nil &&
			tuple.Config.ThreadID == config.ThreadID &&
			tuple.Config.CheckpointNS == config.CheckpointNS {
			return tuple, nil
		}
		// prefetch was for another thread (or empty); fall through to a
		// direct query
		s.logger.Debug("prefetched latest did not match thread %s; re-querying", config.ThreadID)
	}

	key := config.ThreadID + "\x00" + config.CheckpointNS
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.getTupleDirect(ctx, config)
	})
	if err != nil {
		return nil, err
	}
	tuple, _ := v.(*store.CheckpointTuple)
	return tuple, nil
}

// PrefetchLatest starts a deferred "latest checkpoint" query for the thread.
// The next GetTuple without a checkpoint id consumes it instead of issuing
// its own query; a GetTuple for a different thread falls back to a direct
// query.
func (s *PostgresSaver) PrefetchLatest(ctx context.Context, config store.Config) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}
	cfg := store.Config{ThreadID: config.ThreadID, CheckpointNS: config.CheckpointNS}
	iter := &lazyIterator{fetch: func(ctx context.Context) (*store.CheckpointTuple, error) {
		return s.getTupleDirect(ctx, cfg)
	}}

	s.mu.Lock()
	s.latestIter = iter
	s.mu.Unlock()
	return nil
}

func (s *PostgresSaver) getTupleDirect(ctx context.Context, config store.Config) (*store.CheckpointTuple, error) {
	var row pgx.Row
	if config.CheckpointID != "" {
		row = s.pool.QueryRow(ctx, `
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3`,
			config.ThreadID, config.CheckpointNS, config.CheckpointID)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
			FROM checkpoints
			WHERE thread_id = $1 AND checkpoint_ns = $2
			ORDER BY checkpoint_id DESC LIMIT 1`,
			config.ThreadID, config.CheckpointNS)
	}

	header, err := scanHeader(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tuple, err := s.assembleTuple(ctx, header)
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

// List returns checkpoints in reverse checkpoint-id order. Header rows are
// read eagerly so the connection is released; blob loading and decoding
// happen lazily as the iterator advances.
func (s *PostgresSaver) List(ctx context.Context, config *store.Config, opts store.ListOptions) (store.TupleIterator, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}

	where, args, err := searchWhere(config, opts)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata
		FROM checkpoints ` + where + ` ORDER BY checkpoint_id DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var headers []*header
	for rows.Next() {
		h, err := scanHeader(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return &headerIterator{saver: s, headers: headers}, nil
}

// Put saves a checkpoint, writing a new blob row only for channels whose
// version advanced past the previous checkpoint's recorded version.
// Unchanged channels stay referenced through their old version string in the
// new checkpoint's version map. Writing an existing id replaces values and
// metadata.
func (s *PostgresSaver) Put(ctx context.Context, config store.Config, checkpoint *store.Checkpoint, metadata store.CheckpointMetadata) (store.Config, error) {
	if err := s.Setup(ctx); err != nil {
		return store.Config{}, err
	}

	nextConfig := store.Config{
		ThreadID:     config.ThreadID,
		CheckpointNS: config.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}
	merged := store.MergedMetadata(config, metadata)

	// previous versions are only trustworthy when the memo holds exactly the
	// checkpoint being superseded
	s.mu.Lock()
	var prevVersions map[string]string
	if p := s.lastSaved; p != nil && config.CheckpointID != "" &&
		p.threadID == config.ThreadID &&
		p.ns == config.CheckpointNS &&
		p.id == config.CheckpointID {
		prevVersions = p.versions
	}
	s.mu.Unlock()

	blobs, err := s.dumpBlobs(checkpoint, prevVersions)
	if err != nil {
		return store.Config{}, err
	}
	headerJSON, err := s.dumpCheckpointHeader(checkpoint)
	if err != nil {
		return store.Config{}, err
	}
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	var parent any
	if config.CheckpointID != "" {
		parent = config.CheckpointID
	}

	if s.pipeline {
		batch := &pgx.Batch{}
		for _, b := range blobs {
			batch.Queue(insertBlobSQL, config.ThreadID, b.channel, b.version, b.typ, b.data)
		}
		batch.Queue(insertCheckpointSQL,
			config.ThreadID, config.CheckpointNS, checkpoint.ID, parent, headerJSON, metaJSON)
		if err := s.sendBatch(ctx, batch); err != nil {
			return store.Config{}, fmt.Errorf("failed to save checkpoint: %w", err)
		}
	} else {
		for _, b := range blobs {
			if _, err := s.pool.Exec(ctx, insertBlobSQL,
				config.ThreadID, b.channel, b.version, b.typ, b.data); err != nil {
				return store.Config{}, fmt.Errorf("failed to save channel blob: %w", err)
			}
		}
		if _, err := s.pool.Exec(ctx, insertCheckpointSQL,
			config.ThreadID, config.CheckpointNS, checkpoint.ID, parent, headerJSON, metaJSON); err != nil {
			return store.Config{}, fmt.Errorf("failed to save checkpoint: %w", err)
		}
	}

	versions := make(map[string]string, len(checkpoint.ChannelVersions))
	for ch, v := range checkpoint.ChannelVersions {
		versions[ch] = v
	}
	s.mu.Lock()
	s.lastSaved = &savedCheckpoint{
		threadID: config.ThreadID,
		ns:       config.CheckpointNS,
		id:       checkpoint.ID,
		versions: versions,
	}
	s.mu.Unlock()

	s.logger.Debug("saved checkpoint %s for thread %s (%d new blobs)",
		checkpoint.ID, config.ThreadID, len(blobs))
	return nextConfig, nil
}

// PutWrites records task outputs. Duplicate (taskID, idx) rows resolve via
// insert-if-absent, so retried tasks do not duplicate side effects.
func (s *PostgresSaver) PutWrites(ctx context.Context, config store.Config, writes []store.ChannelWrite, taskID string) error {
	if config.CheckpointID == "" {
		return fmt.Errorf("config is missing a checkpoint id")
	}
	if err := s.Setup(ctx); err != nil {
		return err
	}

	encoded, err := s.encodeWrites(writes)
	if err != nil {
		return err
	}

	if s.pipeline {
		batch := &pgx.Batch{}
		for idx, w := range encoded {
			batch.Queue(insertWriteSQL,
				config.ThreadID, config.CheckpointID, taskID, idx, w.channel, w.typ, w.data)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to save writes: %w", err)
		}
		return nil
	}

	for idx, w := range encoded {
		if _, err := s.pool.Exec(ctx, insertWriteSQL,
			config.ThreadID, config.CheckpointID, taskID, idx, w.channel, w.typ, w.data); err != nil {
			return fmt.Errorf("failed to save write: %w", err)
		}
	}
	return nil
}

// DeleteThread removes every checkpoint, blob and pending write for a
// thread.
func (s *PostgresSaver) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}
	for _, stmt := range []string{
		"DELETE FROM checkpoints WHERE thread_id = $1",
		"DELETE FROM checkpoint_blobs WHERE thread_id = $1",
		"DELETE FROM checkpoint_writes WHERE thread_id = $1",
	} {
		if _, err := s.pool.Exec(ctx, stmt, threadID); err != nil {
			return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
		}
	}

	s.mu.Lock()
	if s.lastSaved != nil && s.lastSaved.threadID == threadID {
		s.lastSaved = nil
	}
	s.mu.Unlock()
	return nil
}

// NextVersion derives the next version string for a channel using this
// saver's serializer. See store.NextVersion.
func (s *PostgresSaver) NextVersion(current string, ch channel.Channel) (string, error) {
	return store.NextVersion(current, ch, s.serde)
}

const (
	insertBlobSQL = `INSERT INTO checkpoint_blobs (thread_id, channel, version, type, blob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id, channel, version) DO NOTHING`

	insertCheckpointSQL = `INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id)
		DO UPDATE SET checkpoint = EXCLUDED.checkpoint, metadata = EXCLUDED.metadata`

	insertWriteSQL = `INSERT INTO checkpoint_writes (thread_id, checkpoint_id, task_id, idx, channel, type, blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id, checkpoint_id, task_id, idx) DO NOTHING`
)

func (s *PostgresSaver) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

type blobRow struct {
	channel string
	version string
	typ     string
	data    []byte
}

// dumpBlobs encodes one blob row per channel whose version advanced past the
// previous checkpoint's version. Channels with a version but no value get
// the "empty" sentinel. Encoding is fanned out to a bounded worker pool.
func (s *PostgresSaver) dumpBlobs(checkpoint *store.Checkpoint, prevVersions map[string]string) ([]blobRow, error) {
	channels := make([]string, 0, len(checkpoint.ChannelVersions))
	for ch, version := range checkpoint.ChannelVersions {
		if prevVersions != nil && store.CompareVersions(version, prevVersions[ch]) <= 0 {
			continue
		}
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	rows := make([]blobRow, len(channels))
	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			row := blobRow{channel: ch, version: checkpoint.ChannelVersions[ch]}
			if value, ok := checkpoint.ChannelValues[ch]; ok {
				typ, data, err := s.serde.DumpsTyped(value)
				if err != nil {
					return fmt.Errorf("failed to serialize channel %s: %w", ch, err)
				}
				row.typ, row.data = typ, data
			} else {
				row.typ = serde.TypeEmpty
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// loadBlobs fetches and decodes the channel values referenced by a version
// map. Channels tagged "empty" are omitted from the result.
func (s *PostgresSaver) loadBlobs(ctx context.Context, threadID string, versions map[string]string) (map[string]any, error) {
	values := make(map[string]any, len(versions))
	if len(versions) == 0 {
		return values, nil
	}

	channels := make([]string, 0, len(versions))
	for ch := range versions {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var clauses []string
	args := []any{threadID}
	for _, ch := range channels {
		clauses = append(clauses, fmt.Sprintf("(channel = $%d AND version = $%d)", len(args)+1, len(args)+2))
		args = append(args, ch, versions[ch])
	}
	query := "SELECT channel, type, blob FROM checkpoint_blobs WHERE thread_id = $1 AND (" +
		strings.Join(clauses, " OR ") + ")"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel blobs: %w", err)
	}
	defer rows.Close()

	var fetched []blobRow
	for rows.Next() {
		var b blobRow
		if err := rows.Scan(&b.channel, &b.typ, &b.data); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		fetched = append(fetched, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blob rows: %w", err)
	}

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for _, b := range fetched {
		if b.typ == serde.TypeEmpty {
			continue
		}
		b := b
		g.Go(func() error {
			value, err := s.serde.LoadsTyped(b.typ, b.data)
			if err != nil {
				return fmt.Errorf("failed to decode channel %s: %w", b.channel, err)
			}
			mu.Lock()
			values[b.channel] = value
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *PostgresSaver) loadWrites(ctx context.Context, config store.Config) ([]store.PendingWrite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, channel, type, blob FROM checkpoint_writes
		WHERE thread_id = $1 AND checkpoint_id = $2
		ORDER BY task_id, idx`,
		config.ThreadID, config.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	defer rows.Close()

	var writes []store.PendingWrite
	for rows.Next() {
		var (
			taskID, ch string
			typ        *string
			data       []byte
		)
		if err := rows.Scan(&taskID, &ch, &typ, &data); err != nil {
			return nil, fmt.Errorf("failed to scan write row: %w", err)
		}
		tag := ""
		if typ != nil {
			tag = *typ
		}
		value, err := s.serde.LoadsTyped(tag, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode write value: %w", err)
		}
		writes = append(writes, store.PendingWrite{TaskID: taskID, Channel: ch, Value: value})
	}
	return writes, rows.Err()
}

func (s *PostgresSaver) encodeWrites(writes []store.ChannelWrite) ([]blobRow, error) {
	encoded := make([]blobRow, len(writes))
	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for i, w := range writes {
		i, w := i, w
		g.Go(func() error {
			typ, data, err := s.serde.DumpsTyped(w.Value)
			if err != nil {
				return fmt.Errorf("failed to serialize write for channel %s: %w", w.Channel, err)
			}
			encoded[i] = blobRow{channel: w.Channel, typ: typ, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return encoded, nil
}

// header is a checkpoints row before blob resolution.
type header struct {
	threadID string
	ns       string
	id       string
	parentID string
	ckpt     []byte
	meta     []byte
}

func scanHeader(scan func(dest ...any) error) (*header, error) {
	var h header
	var parent *string
	if err := scan(&h.threadID, &h.ns, &h.id, &parent, &h.ckpt, &h.meta); err != nil {
		return nil, err
	}
	if parent != nil {
		h.parentID = *parent
	}
	return &h, nil
}

func (s *PostgresSaver) assembleTuple(ctx context.Context, h *header) (*store.CheckpointTuple, error) {
	checkpoint, err := s.loadCheckpointHeader(h.ckpt)
	if err != nil {
		return nil, err
	}
	values, err := s.loadBlobs(ctx, h.threadID, checkpoint.ChannelVersions)
	if err != nil {
		return nil, err
	}
	checkpoint.ChannelValues = values

	metadata := store.CheckpointMetadata{}
	if len(h.meta) > 0 {
		if err := json.Unmarshal(h.meta, &metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	tuple := &store.CheckpointTuple{
		Config: store.Config{
			ThreadID:     h.threadID,
			CheckpointNS: h.ns,
			CheckpointID: h.id,
		},
		Checkpoint: checkpoint,
		Metadata:   metadata,
	}
	if h.parentID != "" {
		tuple.ParentConfig = &store.Config{
			ThreadID:     h.threadID,
			CheckpointNS: h.ns,
			CheckpointID: h.parentID,
		}
	}
	return tuple, nil
}

// dumpCheckpointHeader serializes the checkpoint without its channel values
// (those live in the blob table), re-encoding pending_sends as a tagged
// [type, base64] pair.
func (s *PostgresSaver) dumpCheckpointHeader(checkpoint *store.Checkpoint) ([]byte, error) {
	typ, data, err := s.serde.DumpsTyped(checkpoint.PendingSends)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize pending sends: %w", err)
	}

	head := checkpoint.Copy()
	head.ChannelValues = nil
	raw, err := json.Marshal(head)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	delete(m, "channel_values")
	m["pending_sends"] = []any{typ, base64.StdEncoding.EncodeToString(data)}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	return out, nil
}

// loadCheckpointHeader reads a checkpoints row payload, handling both the
// tagged pending_sends encoding and the legacy textual one.
func (s *PostgresSaver) loadCheckpointHeader(data []byte) (*store.Checkpoint, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	sends, err := s.decodePendingSends(m["pending_sends"])
	if err != nil {
		return nil, err
	}
	delete(m, "pending_sends")

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	var checkpoint store.Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	checkpoint.PendingSends = sends
	return &checkpoint, nil
}

// decodePendingSends detects the tagged [type, base64] pair and decodes it;
// anything else is treated as an already-structured list. A two-element
// string list only counts as the tagged pair when its first element is a
// known serde type tag, so structured lists that happen to hold two strings
// pass through untouched.
func (s *PostgresSaver) decodePendingSends(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, nil
	}
	if len(list) == 2 {
		typ, typOK := list[0].(string)
		body, bodyOK := list[1].(string)
		if typOK && bodyOK && (typ == serde.TypeJSON || typ == serde.TypeBytes) {
			data, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				// not actually base64; it is a structured two-string list
				return list, nil
			}
			decoded, err := s.serde.LoadsTyped(typ, data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode pending sends: %w", err)
			}
			if decoded == nil {
				return nil, nil
			}
			sends, ok := decoded.([]any)
			if !ok {
				return nil, fmt.Errorf("pending sends decoded to %T, expected a list", decoded)
			}
			return sends, nil
		}
	}
	return list, nil
}

// searchWhere builds the WHERE clause for List. Metadata filtering uses
// JSONB containment.
func searchWhere(config *store.Config, opts store.ListOptions) (string, []any, error) {
	var wheres []string
	var args []any

	if config != nil {
		wheres = append(wheres, fmt.Sprintf("thread_id = $%d", len(args)+1))
		args = append(args, config.ThreadID)
		wheres = append(wheres, fmt.Sprintf("checkpoint_ns = $%d", len(args)+1))
		args = append(args, config.CheckpointNS)
	}
	if len(opts.Filter) > 0 {
		filterJSON, err := json.Marshal(opts.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("failed to serialize metadata filter: %w", err)
		}
		wheres = append(wheres, fmt.Sprintf("metadata @> $%d", len(args)+1))
		args = append(args, filterJSON)
	}
	if opts.Before != nil {
		wheres = append(wheres, fmt.Sprintf("checkpoint_id < $%d", len(args)+1))
		args = append(args, opts.Before.CheckpointID)
	}

	if len(wheres) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(wheres, " AND "), args, nil
}

// lazyIterator defers its single fetch until first advanced.
type lazyIterator struct {
	fetch func(ctx context.Context) (*store.CheckpointTuple, error)
	done  bool
}

func (it *lazyIterator) Next(ctx context.Context) (*store.CheckpointTuple, error) {
	if it.done {
		return nil, nil
	}
	it.done = true
	return it.fetch(ctx)
}

func (it *lazyIterator) Close() error { return nil }

// headerIterator resolves blobs lazily while walking pre-fetched header
// rows. List results do not include pending writes.
type headerIterator struct {
	saver   *PostgresSaver
	headers []*header
	pos     int
}

func (it *headerIterator) Next(ctx context.Context) (*store.CheckpointTuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.headers) {
		return nil, nil
	}
	h := it.headers[it.pos]
	it.pos++
	return it.saver.assembleTuple(ctx, h)
}

func (it *headerIterator) Close() error { return nil }
