package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/smallnest/graphstate/store"
)

// MemorySaver is an in-process checkpoint saver backed by maps. It implements
// the full Saver contract and is the reference implementation used in tests;
// nothing survives a process restart.
type MemorySaver struct {
	mu sync.RWMutex
	// threadKey -> checkpoint id -> entry
	checkpoints map[string]map[string]*entry
	// threadKey -> checkpoint id -> (taskID, idx) -> write
	writes map[string]map[string]map[writeKey]store.PendingWrite
}

type entry struct {
	checkpoint *store.Checkpoint
	metadata   store.CheckpointMetadata
	parentID   string
}

type writeKey struct {
	taskID string
	idx    int
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		checkpoints: make(map[string]map[string]*entry),
		writes:      make(map[string]map[string]map[writeKey]store.PendingWrite),
	}
}

func threadKey(threadID, ns string) string {
	return threadID + "\x00" + ns
}

// Setup is a no-op for the in-memory saver.
func (s *MemorySaver) Setup(ctx context.Context) error { return nil }

// GetTuple returns the checkpoint identified by config, or the latest one for
// the thread when no checkpoint id is given.
func (s *MemorySaver) GetTuple(ctx context.Context, config store.Config) (*store.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := threadKey(config.ThreadID, config.CheckpointNS)
	byID := s.checkpoints[key]
	if len(byID) == 0 {
		return nil, nil
	}

	id := config.CheckpointID
	if id == "" {
		for candidate := range byID {
			if candidate > id {
				id = candidate
			}
		}
	}
	e, ok := byID[id]
	if !ok {
		return nil, nil
	}
	return s.tupleLocked(config.ThreadID, config.CheckpointNS, id, e, true), nil
}

// List returns checkpoints for the thread (or all threads when config is
// nil) in reverse checkpoint-id order, honoring filter, before and limit.
func (s *MemorySaver) List(ctx context.Context, config *store.Config, opts store.ListOptions) (store.TupleIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type flat struct {
		threadID string
		ns       string
		id       string
		e        *entry
	}
	var all []flat
	for key, byID := range s.checkpoints {
		threadID, ns := splitThreadKey(key)
		if config != nil && (threadID != config.ThreadID || ns != config.CheckpointNS) {
			continue
		}
		for id, e := range byID {
			all = append(all, flat{threadID: threadID, ns: ns, id: id, e: e})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id > all[j].id })

	var tuples []*store.CheckpointTuple
	for _, f := range all {
		if opts.Before != nil && f.id >= opts.Before.CheckpointID {
			continue
		}
		if len(opts.Filter) > 0 && !store.MatchesFilter(f.e.metadata, opts.Filter) {
			continue
		}
		tuples = append(tuples, s.tupleLocked(f.threadID, f.ns, f.id, f.e, false))
		if opts.Limit > 0 && len(tuples) >= opts.Limit {
			break
		}
	}
	return store.NewSliceIterator(tuples), nil
}

// Put stores a checkpoint snapshot. Writing an existing id replaces its
// values and metadata.
func (s *MemorySaver) Put(ctx context.Context, config store.Config, checkpoint *store.Checkpoint, metadata store.CheckpointMetadata) (store.Config, error) {
	if checkpoint == nil {
		return store.Config{}, fmt.Errorf("checkpoint must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := threadKey(config.ThreadID, config.CheckpointNS)
	byID := s.checkpoints[key]
	if byID == nil {
		byID = make(map[string]*entry)
		s.checkpoints[key] = byID
	}
	byID[checkpoint.ID] = &entry{
		checkpoint: checkpoint.Copy(),
		metadata:   store.MergedMetadata(config, metadata),
		parentID:   config.CheckpointID,
	}

	return store.Config{
		ThreadID:     config.ThreadID,
		CheckpointNS: config.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}, nil
}

// PutWrites records task outputs; duplicate (taskID, idx) entries are
// ignored.
func (s *MemorySaver) PutWrites(ctx context.Context, config store.Config, writes []store.ChannelWrite, taskID string) error {
	if config.CheckpointID == "" {
		return fmt.Errorf("config is missing a checkpoint id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := threadKey(config.ThreadID, config.CheckpointNS)
	byCheckpoint := s.writes[key]
	if byCheckpoint == nil {
		byCheckpoint = make(map[string]map[writeKey]store.PendingWrite)
		s.writes[key] = byCheckpoint
	}
	byTask := byCheckpoint[config.CheckpointID]
	if byTask == nil {
		byTask = make(map[writeKey]store.PendingWrite)
		byCheckpoint[config.CheckpointID] = byTask
	}
	for idx, w := range writes {
		wk := writeKey{taskID: taskID, idx: idx}
		if _, exists := byTask[wk]; exists {
			continue
		}
		byTask[wk] = store.PendingWrite{TaskID: taskID, Channel: w.Channel, Value: w.Value}
	}
	return nil
}

// DeleteThread removes every checkpoint and pending write for a thread.
func (s *MemorySaver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.checkpoints {
		tid, _ := splitThreadKey(key)
		if tid == threadID {
			delete(s.checkpoints, key)
		}
	}
	for key := range s.writes {
		tid, _ := splitThreadKey(key)
		if tid == threadID {
			delete(s.writes, key)
		}
	}
	return nil
}

func (s *MemorySaver) tupleLocked(threadID, ns, id string, e *entry, withWrites bool) *store.CheckpointTuple {
	tuple := &store.CheckpointTuple{
		Config: store.Config{
			ThreadID:     threadID,
			CheckpointNS: ns,
			CheckpointID: id,
		},
		Checkpoint: e.checkpoint.Copy(),
		Metadata:   e.metadata,
	}
	if e.parentID != "" {
		tuple.ParentConfig = &store.Config{
			ThreadID:     threadID,
			CheckpointNS: ns,
			CheckpointID: e.parentID,
		}
	}
	if withWrites {
		if byTask := s.writes[threadKey(threadID, ns)][id]; len(byTask) > 0 {
			keys := make([]writeKey, 0, len(byTask))
			for wk := range byTask {
				keys = append(keys, wk)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].taskID != keys[j].taskID {
					return keys[i].taskID < keys[j].taskID
				}
				return keys[i].idx < keys[j].idx
			})
			for _, wk := range keys {
				tuple.PendingWrites = append(tuple.PendingWrites, byTask[wk])
			}
		}
	}
	return tuple
}

func splitThreadKey(key string) (threadID, ns string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
