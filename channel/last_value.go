package channel

// KindLastValue is the registry kind for LastValue channels.
const KindLastValue = "last_value"

// LastValue stores the last value received, allowing at most one update per
// step. This is the default channel for plain state keys.
type LastValue struct {
	value any
	set   bool
}

// NewLastValue creates an empty LastValue channel.
func NewLastValue() *LastValue {
	return &LastValue{}
}

// Kind returns the registry kind.
func (c *LastValue) Kind() string { return KindLastValue }

// Update stores the incoming value. More than one value per step is rejected.
func (c *LastValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if len(values) != 1 {
		return false, &InvalidUpdateError{
			Kind:   KindLastValue,
			Reason: "can only receive one value per step",
		}
	}
	c.value = values[0]
	c.set = true
	return true, nil
}

// Checkpoint returns the stored value, or ErrEmptyChannel if none was set.
func (c *LastValue) Checkpoint() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// Get returns the current value, or ErrEmptyChannel.
func (c *LastValue) Get() (any, error) {
	return c.Checkpoint()
}

// FromCheckpoint returns a fresh step-scoped instance.
func (c *LastValue) FromCheckpoint(value any, hasValue bool) Channel {
	fresh := NewLastValue()
	if hasValue {
		fresh.value = value
		fresh.set = true
	}
	return fresh
}

// Release drops the working value.
func (c *LastValue) Release() {
	c.value = nil
	c.set = false
}

// Equal reports whether other is also a LastValue channel.
func (c *LastValue) Equal(other Channel) bool {
	_, ok := other.(*LastValue)
	return ok
}
