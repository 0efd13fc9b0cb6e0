package channel

// KindTopic is the registry kind for Topic channels.
const KindTopic = "topic"

// Topic is a fan-in channel accumulating every value published during a step.
// In accumulating mode values survive across steps; otherwise the list resets
// each step. An empty list is a valid snapshot, so Topic never reports
// ErrEmptyChannel.
type Topic struct {
	accumulate bool
	values     []any
}

// NewTopic creates a topic that resets its values each step.
func NewTopic() *Topic {
	return &Topic{}
}

// NewAccumulatingTopic creates a topic that carries values across steps.
func NewAccumulatingTopic() *Topic {
	return &Topic{accumulate: true}
}

// Kind returns the registry kind.
func (c *Topic) Kind() string { return KindTopic }

// Update appends all published values in emission order.
func (c *Topic) Update(values []any) (bool, error) {
	if !c.accumulate {
		changed := len(c.values) > 0 || len(values) > 0
		c.values = nil
		c.values = append(c.values, values...)
		return changed, nil
	}
	c.values = append(c.values, values...)
	return len(values) > 0, nil
}

// Checkpoint returns a copy of the accumulated values.
func (c *Topic) Checkpoint() (any, error) {
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out, nil
}

// Get returns the current values.
func (c *Topic) Get() (any, error) {
	return c.Checkpoint()
}

// FromCheckpoint returns a fresh step-scoped instance hydrated from a prior
// snapshot, which must be a []any when present.
func (c *Topic) FromCheckpoint(value any, hasValue bool) Channel {
	fresh := &Topic{accumulate: c.accumulate}
	if hasValue {
		if vs, ok := value.([]any); ok {
			fresh.values = append(fresh.values, vs...)
		}
	}
	return fresh
}

// Release drops the working values.
func (c *Topic) Release() {
	c.values = nil
}

// Equal reports whether other is a Topic with the same accumulation mode.
func (c *Topic) Equal(other Channel) bool {
	o, ok := other.(*Topic)
	return ok && o.accumulate == c.accumulate
}
