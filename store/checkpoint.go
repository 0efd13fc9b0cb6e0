package store

import (
	"time"

	"github.com/google/uuid"
)

// Config identifies a point in a thread's history and carries the caller's
// execution context into the store. ThreadID is required everywhere; the
// other fields are optional.
type Config struct {
	ThreadID     string         `json:"thread_id"`
	CheckpointNS string         `json:"checkpoint_ns,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Checkpoint is an immutable snapshot of all channel values and versions at
// one execution step. A channel absent from ChannelValues is empty, which is
// a distinct state from a present nil value.
type Checkpoint struct {
	// V is the checkpoint format version.
	V int `json:"v"`
	// ID is a monotonically sortable identifier, unique per thread and
	// namespace.
	ID string `json:"id"`
	// Timestamp records when the snapshot was taken.
	Timestamp time.Time `json:"ts"`
	// ChannelValues maps channel name to its snapshot value.
	ChannelValues map[string]any `json:"channel_values"`
	// ChannelVersions maps channel name to its current version string.
	ChannelVersions map[string]string `json:"channel_versions"`
	// VersionsSeen maps node name to the channel versions it has observed.
	VersionsSeen map[string]map[string]string `json:"versions_seen"`
	// PendingSends holds deferred messages not yet routed to a channel,
	// carried forward across steps.
	PendingSends []any `json:"pending_sends"`
}

// CheckpointMetadata is a free-form mapping persisted alongside a checkpoint
// (e.g. source, step, writes). It is used for filtering and auditing only;
// stores never interpret it.
type CheckpointMetadata = map[string]any

// ChannelWrite is one output a task produced for a channel.
type ChannelWrite struct {
	Channel string
	Value   any
}

// PendingWrite is a task output recorded before being folded into the next
// checkpoint.
type PendingWrite struct {
	TaskID  string
	Channel string
	Value   any
}

// CheckpointTuple is the read-side composite returned by every query
// operation. ParentConfig is a lineage pointer, not an ownership edge: it
// lets callers traverse history without loading ancestors eagerly.
type CheckpointTuple struct {
	Config        Config
	Checkpoint    *Checkpoint
	Metadata      CheckpointMetadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
}

// NewCheckpointID returns a lexicographically sortable, time-derived
// checkpoint id (UUIDv7).
func NewCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// rand failure; fall back to a random id, still unique
		return uuid.NewString()
	}
	return id.String()
}

// EmptyCheckpoint returns a fresh checkpoint with no channel state.
func EmptyCheckpoint() *Checkpoint {
	return &Checkpoint{
		V:               1,
		ID:              NewCheckpointID(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   map[string]any{},
		ChannelVersions: map[string]string{},
		VersionsSeen:    map[string]map[string]string{},
	}
}

// NextCheckpoint returns a successor snapshot of parent with a fresh id and
// timestamp, carrying forward channel values and versions.
func NextCheckpoint(parent *Checkpoint) *Checkpoint {
	next := parent.Copy()
	next.ID = NewCheckpointID()
	next.Timestamp = time.Now().UTC()
	return next
}

// Copy returns a deep copy of the checkpoint's maps; channel values
// themselves are shared.
func (c *Checkpoint) Copy() *Checkpoint {
	cp := &Checkpoint{
		V:               c.V,
		ID:              c.ID,
		Timestamp:       c.Timestamp,
		ChannelValues:   make(map[string]any, len(c.ChannelValues)),
		ChannelVersions: make(map[string]string, len(c.ChannelVersions)),
		VersionsSeen:    make(map[string]map[string]string, len(c.VersionsSeen)),
		PendingSends:    append([]any(nil), c.PendingSends...),
	}
	for k, v := range c.ChannelValues {
		cp.ChannelValues[k] = v
	}
	for k, v := range c.ChannelVersions {
		cp.ChannelVersions[k] = v
	}
	for node, seen := range c.VersionsSeen {
		m := make(map[string]string, len(seen))
		for k, v := range seen {
			m[k] = v
		}
		cp.VersionsSeen[node] = m
	}
	return cp
}

// MergedMetadata combines caller-supplied configuration fields into the
// checkpoint metadata at write time. Explicit metadata wins over config
// fields.
func MergedMetadata(config Config, metadata CheckpointMetadata) CheckpointMetadata {
	merged := make(CheckpointMetadata, len(metadata)+len(config.Metadata)+1)
	for k, v := range config.Metadata {
		merged[k] = v
	}
	if config.RunID != "" {
		merged["run_id"] = config.RunID
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return merged
}

// MatchesFilter reports whether metadata contains every key of filter with an
// equal value (subset containment).
func MatchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !filterEqual(got, want) {
			return false
		}
	}
	return true
}

func filterEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !filterEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !filterEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		if numericEqual(a, b) {
			return true
		}
		return a == b
	}
}

// numericEqual tolerates int/float drift introduced by JSON round trips.
func numericEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
