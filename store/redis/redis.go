package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/graphstate/channel"
	"github.com/smallnest/graphstate/log"
	"github.com/smallnest/graphstate/serde"
	"github.com/smallnest/graphstate/store"
)

// RedisSaver implements store.Saver on Redis. Checkpoints live in hashes,
// ordering comes from a per-thread sorted set indexed lexically by
// checkpoint id, and pending writes use HSETNX for idempotency.
type RedisSaver struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	serde  serde.Serializer
	logger log.Logger
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys, default "graphstate:".
	Prefix string
	// TTL expires checkpoint data, default 0 (no expiration).
	TTL time.Duration
	// Serializer overrides the default legacy-compatible JSON serializer.
	Serializer serde.Serializer
	// Logger receives debug output; defaults to a no-op logger.
	Logger log.Logger
}

// NewRedisSaver creates a Redis-backed checkpoint saver.
func NewRedisSaver(opts RedisOptions) *RedisSaver {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisSaverWithClient(client, opts)
}

// NewRedisSaverWithClient wraps an existing client. Useful for testing and
// for sharing a client across components.
func NewRedisSaverWithClient(client *redis.Client, opts RedisOptions) *RedisSaver {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "graphstate:"
	}
	sd := opts.Serializer
	if sd == nil {
		sd = serde.NewCompatSerializer(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	return &RedisSaver{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		serde:  sd,
		logger: logger,
	}
}

// Close closes the Redis client.
func (s *RedisSaver) Close() error {
	return s.client.Close()
}

func (s *RedisSaver) checkpointKey(threadID, ns, id string) string {
	return fmt.Sprintf("%scheckpoint:%s:%s:%s", s.prefix, threadID, ns, id)
}

func (s *RedisSaver) threadKey(threadID, ns string) string {
	return fmt.Sprintf("%sthread:%s:%s", s.prefix, threadID, ns)
}

func (s *RedisSaver) writesKey(threadID, ns, id string) string {
	return fmt.Sprintf("%swrites:%s:%s:%s", s.prefix, threadID, ns, id)
}

// Setup verifies connectivity. Redis needs no schema.
func (s *RedisSaver) Setup(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// GetTuple returns the checkpoint identified by config, or the latest one
// for the thread when no checkpoint id is given. Returns (nil, nil) when no
// checkpoint exists.
func (s *RedisSaver) GetTuple(ctx context.Context, config store.Config) (*store.CheckpointTuple, error) {
	id := config.CheckpointID
	if id == "" {
		ids, err := s.client.ZRevRangeByLex(ctx, s.threadKey(config.ThreadID, config.CheckpointNS),
			&redis.ZRangeBy{Min: "-", Max: "+", Count: 1}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to find latest checkpoint: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		id = ids[0]
	}
	return s.loadTuple(ctx, config.ThreadID, config.CheckpointNS, id)
}

func (s *RedisSaver) loadTuple(ctx context.Context, threadID, ns, id string) (*store.CheckpointTuple, error) {
	fields, err := s.client.HGetAll(ctx, s.checkpointKey(threadID, ns, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	checkpoint, err := s.decodeCheckpoint([]byte(fields["checkpoint"]))
	if err != nil {
		return nil, err
	}
	metadata := store.CheckpointMetadata{}
	if raw, ok := fields["metadata"]; ok && raw != "" {
		decoded, err := s.serde.LoadsTyped(serde.TypeJSON, []byte(raw))
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
	if parent := fields["parent_checkpoint_id"]; parent != "" {
		tuple.ParentConfig = &store.Config{
			ThreadID:     threadID,
			CheckpointNS: ns,
			CheckpointID: parent,
		}
	}

	writes, err := s.loadWrites(ctx, threadID, ns, id)
	if err != nil {
		return nil, err
	}
	tuple.PendingWrites = writes
	return tuple, nil
}

// decodeCheckpoint reads both current JSON snapshots and legacy binary ones.
func (s *RedisSaver) decodeCheckpoint(data []byte) (*store.Checkpoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("checkpoint payload is empty")
	}
	if serde.IsLegacy(data) {
		decoded, err := s.serde.LoadsTyped(serde.TypeJSON, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
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

// List returns checkpoints in reverse checkpoint-id order. The sorted set
// does the ordering, before and limit; metadata filtering happens client
// side. A config is required: the index is per thread, so listing across
// threads is not supported on this backend.
func (s *RedisSaver) List(ctx context.Context, config *store.Config, opts store.ListOptions) (store.TupleIterator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required to list checkpoints")
	}

	max := "+"
	if opts.Before != nil && opts.Before.CheckpointID != "" {
		// exclusive upper bound
		max = "(" + opts.Before.CheckpointID
	}
	rangeBy := &redis.ZRangeBy{Min: "-", Max: max}
	if opts.Limit > 0 && len(opts.Filter) == 0 {
		rangeBy.Count = int64(opts.Limit)
	}

	ids, err := s.client.ZRevRangeByLex(ctx, s.threadKey(config.ThreadID, config.CheckpointNS), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var tuples []*store.CheckpointTuple
	for _, id := range ids {
		tuple, err := s.loadTuple(ctx, config.ThreadID, config.CheckpointNS, id)
		if err != nil {
			return nil, err
		}
		if tuple == nil {
			continue
		}
		if !store.MatchesFilter(tuple.Metadata, opts.Filter) {
			continue
		}
		tuples = append(tuples, tuple)
		if opts.Limit > 0 && len(tuples) >= opts.Limit {
			break
		}
	}
	return store.NewSliceIterator(tuples), nil
}

// Put saves a checkpoint and indexes it in the thread's sorted set. Writing
// an existing id replaces values and metadata.
func (s *RedisSaver) Put(ctx context.Context, config store.Config, checkpoint *store.Checkpoint, metadata store.CheckpointMetadata) (store.Config, error) {
	checkpointJSON, err := json.Marshal(checkpoint)
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	metaJSON, err := json.Marshal(store.MergedMetadata(config, metadata))
	if err != nil {
		return store.Config{}, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	key := s.checkpointKey(config.ThreadID, config.CheckpointNS, checkpoint.ID)
	threadKey := s.threadKey(config.ThreadID, config.CheckpointNS)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"checkpoint", checkpointJSON,
		"metadata", metaJSON,
		"parent_checkpoint_id", config.CheckpointID,
	)
	pipe.ZAdd(ctx, threadKey, redis.Z{Score: 0, Member: checkpoint.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, threadKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Config{}, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("saved checkpoint %s for thread %s", checkpoint.ID, config.ThreadID)
	return store.Config{
		ThreadID:     config.ThreadID,
		CheckpointNS: config.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}, nil
}

// PutWrites records task outputs. Each write lands in a hash field keyed by
// task id and index; HSETNX keeps retried tasks from overwriting earlier
// results.
func (s *RedisSaver) PutWrites(ctx context.Context, config store.Config, writes []store.ChannelWrite, taskID string) error {
	if config.CheckpointID == "" {
		return fmt.Errorf("config is missing a checkpoint id")
	}
	key := s.writesKey(config.ThreadID, config.CheckpointNS, config.CheckpointID)

	pipe := s.client.TxPipeline()
	for idx, w := range writes {
		typ, data, err := s.serde.DumpsTyped(w.Value)
		if err != nil {
			return fmt.Errorf("failed to serialize write for channel %s: %w", w.Channel, err)
		}
		payload, err := json.Marshal(map[string]any{
			"channel": w.Channel,
			"type":    typ,
			"value":   base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			return fmt.Errorf("failed to serialize write for channel %s: %w", w.Channel, err)
		}
		pipe.HSetNX(ctx, key, fmt.Sprintf("%s:%05d", taskID, idx), payload)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save writes: %w", err)
	}
	return nil
}

// DeleteThread removes every checkpoint and pending write for a thread, in
// all namespaces whose index keys match the thread.
func (s *RedisSaver) DeleteThread(ctx context.Context, threadID string) error {
	patterns := []string{
		fmt.Sprintf("%scheckpoint:%s:*", s.prefix, threadID),
		fmt.Sprintf("%sthread:%s:*", s.prefix, threadID),
		fmt.Sprintf("%swrites:%s:*", s.prefix, threadID),
	}
	for _, pattern := range patterns {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan keys for thread %s: %w", threadID, err)
		}
	}
	return nil
}

// NextVersion derives the next version string for a channel using this
// saver's serializer. See store.NextVersion.
func (s *RedisSaver) NextVersion(current string, ch channel.Channel) (string, error) {
	return store.NextVersion(current, ch, s.serde)
}

// PrefetchLatest is not supported; the Redis saver serves reads directly.
func (s *RedisSaver) PrefetchLatest(ctx context.Context, config store.Config) error {
	return fmt.Errorf("RedisSaver: %w", store.ErrAsyncUnsupported)
}

func (s *RedisSaver) loadWrites(ctx context.Context, threadID, ns, id string) ([]store.PendingWrite, error) {
	fields, err := s.client.HGetAll(ctx, s.writesKey(threadID, ns, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writes := make([]store.PendingWrite, 0, len(keys))
	for _, k := range keys {
		var envelope struct {
			Channel string `json:"channel"`
			Type    string `json:"type"`
			Value   string `json:"value"`
		}
		decoded, err := s.serde.LoadsTyped(serde.TypeJSON, []byte(fields[k]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode write %s: %w", k, err)
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("write %s decoded to %T, expected an object", k, decoded)
		}
		envelope.Channel, _ = m["channel"].(string)
		envelope.Type, _ = m["type"].(string)
		envelope.Value, _ = m["value"].(string)

		data, err := base64.StdEncoding.DecodeString(envelope.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode write %s: %w", k, err)
		}
		value, err := s.serde.LoadsTyped(envelope.Type, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode write %s: %w", k, err)
		}
		taskID := k
		if i := strings.LastIndexByte(k, ':'); i >= 0 {
			taskID = k[:i]
		}
		writes = append(writes, store.PendingWrite{
			TaskID:  taskID,
			Channel: envelope.Channel,
			Value:   value,
		})
	}
	return writes, nil
}
