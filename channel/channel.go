package channel

import (
	"errors"
	"fmt"
)

// ErrEmptyChannel is returned by Checkpoint and Get on a channel that has
// never received a value. Callers must treat it as "omit this channel from
// the snapshot", never as a fatal condition.
var ErrEmptyChannel = errors.New("channel is empty")

// InvalidUpdateError is returned when a channel receives an update shape its
// merge policy rejects, e.g. multiple values sent to a single-writer channel
// in one step.
type InvalidUpdateError struct {
	Kind   string
	Reason string
}

func (e *InvalidUpdateError) Error() string {
	return fmt.Sprintf("invalid update for %s channel: %s", e.Kind, e.Reason)
}

// Channel is a named, typed slot of execution state with merge semantics
// across a step. Implementations define how successive updates combine and
// how a durable snapshot value is derived.
type Channel interface {
	// Kind identifies the channel implementation in the registry.
	Kind() string

	// Update applies the updates accrued during a single step, in emission
	// order, and reports whether the visible value changed. It returns an
	// *InvalidUpdateError when the merge policy cannot accept the given
	// arity.
	Update(values []any) (bool, error)

	// Checkpoint produces the durable snapshot value, or ErrEmptyChannel if
	// no value has ever been set. A nil value with a nil error is a valid
	// snapshot: "present but null" is distinct from "empty".
	Checkpoint() (any, error)

	// FromCheckpoint produces a fresh instance hydrated from a prior
	// checkpoint value, scoped to the lifetime of one execution step.
	// hasValue distinguishes "no prior value" from a stored nil.
	FromCheckpoint(value any, hasValue bool) Channel

	// Release drops the step-local working value so state never leaks
	// between threads. Safe to call more than once.
	Release()

	// Equal reports structural equality over configuration, not value. The
	// executor uses it to detect channel-shape changes across graph
	// versions.
	Equal(other Channel) bool
}

// WithStep hydrates ch for one execution step, runs fn with the step-local
// instance, and releases its working value on exit regardless of whether fn
// succeeded.
func WithStep(ch Channel, value any, hasValue bool, fn func(Channel) error) error {
	step := ch.FromCheckpoint(value, hasValue)
	defer step.Release()
	return fn(step)
}
