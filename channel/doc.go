// Package channel defines the versioned channel abstraction: named, typed
// slots of execution state with per-step merge semantics.
//
// A channel governs how the updates emitted during one execution step combine
// into a single visible value, and how a durable snapshot of that value is
// derived for checkpointing. Three implementations ship with the package:
//
//   - LastValue: single-writer slot, at most one update per step
//   - UntrackedValue: last-write slot that is never checkpointed
//   - Topic: fan-in accumulator accepting any number of updates
//
// # Step scoping
//
// Channel instances holding a working value are scoped to one execution step.
// FromCheckpoint hydrates a fresh instance from a prior snapshot, and Release
// drops the working value when the step exits. WithStep wires the two
// together so the value is released on every exit path:
//
//	err := channel.WithStep(ch, prior, hasPrior, func(step channel.Channel) error {
//		if _, err := step.Update(updates); err != nil {
//			return err
//		}
//		// ... read step.Checkpoint() into the snapshot ...
//		return nil
//	})
//
// # Emptiness
//
// Checkpoint returns ErrEmptyChannel for a channel that never received a
// value. Stores use this to omit the channel from the snapshot; it is never a
// fatal condition. A stored nil is a valid value and is not "empty".
//
// # Registry
//
// The kind registry maps a kind string to a factory, so new channel kinds can
// be added without modifying the store layer:
//
//	channel.Register("my_kind", func() channel.Channel { return NewMyChannel() })
package channel
