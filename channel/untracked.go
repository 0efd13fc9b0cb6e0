package channel

// KindUntracked is the registry kind for UntrackedValue channels.
const KindUntracked = "untracked_value"

// UntrackedValue stores the last value received but is deliberately excluded
// from durability: Checkpoint always reports the channel as empty, so stores
// never assign it a version or write a blob for it.
type UntrackedValue struct {
	guard bool
	value any
	set   bool
}

// NewUntrackedValue creates a guarded untracked channel, which rejects more
// than one value per step.
func NewUntrackedValue() *UntrackedValue {
	return &UntrackedValue{guard: true}
}

// NewUnguardedUntrackedValue creates an untracked channel that keeps the last
// of several updates instead of failing.
func NewUnguardedUntrackedValue() *UntrackedValue {
	return &UntrackedValue{guard: false}
}

// Kind returns the registry kind.
func (c *UntrackedValue) Kind() string { return KindUntracked }

// Update stores the last incoming value. When guarded, more than one value
// per step is rejected.
func (c *UntrackedValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if len(values) != 1 && c.guard {
		return false, &InvalidUpdateError{
			Kind:   KindUntracked,
			Reason: "can only receive one value per step",
		}
	}
	c.value = values[len(values)-1]
	c.set = true
	return true, nil
}

// Checkpoint always reports the channel as empty; untracked state is never
// persisted.
func (c *UntrackedValue) Checkpoint() (any, error) {
	return nil, ErrEmptyChannel
}

// Get returns the step-local value, or ErrEmptyChannel.
func (c *UntrackedValue) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// FromCheckpoint returns a fresh step-scoped instance. Any prior checkpoint
// value is ignored: there never is one for an untracked channel.
func (c *UntrackedValue) FromCheckpoint(value any, hasValue bool) Channel {
	return &UntrackedValue{guard: c.guard}
}

// Release drops the working value.
func (c *UntrackedValue) Release() {
	c.value = nil
	c.set = false
}

// Equal reports whether other is an UntrackedValue with the same guard mode.
func (c *UntrackedValue) Equal(other Channel) bool {
	o, ok := other.(*UntrackedValue)
	return ok && o.guard == c.guard
}
