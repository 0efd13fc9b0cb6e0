package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastValue(t *testing.T) {
	t.Run("empty checkpoint", func(t *testing.T) {
		c := NewLastValue()
		_, err := c.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})

	t.Run("single update", func(t *testing.T) {
		c := NewLastValue()
		changed, err := c.Update([]any{"hello"})
		assert.NoError(t, err)
		assert.True(t, changed)

		v, err := c.Checkpoint()
		assert.NoError(t, err)
		assert.Equal(t, "hello", v)
	})

	t.Run("no updates leaves channel unchanged", func(t *testing.T) {
		c := NewLastValue()
		changed, err := c.Update(nil)
		assert.NoError(t, err)
		assert.False(t, changed)
		_, err = c.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})

	t.Run("multiple updates rejected", func(t *testing.T) {
		c := NewLastValue()
		_, err := c.Update([]any{"a", "b"})
		var invalid *InvalidUpdateError
		assert.True(t, errors.As(err, &invalid))
		assert.Equal(t, KindLastValue, invalid.Kind)
	})

	t.Run("nil is a valid value", func(t *testing.T) {
		c := NewLastValue()
		_, err := c.Update([]any{nil})
		assert.NoError(t, err)

		v, err := c.Checkpoint()
		assert.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("from checkpoint", func(t *testing.T) {
		c := NewLastValue()
		step := c.FromCheckpoint("restored", true)
		v, err := step.Checkpoint()
		assert.NoError(t, err)
		assert.Equal(t, "restored", v)

		empty := c.FromCheckpoint(nil, false)
		_, err = empty.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})

	t.Run("release empties the channel", func(t *testing.T) {
		c := NewLastValue()
		_, _ = c.Update([]any{"x"})
		c.Release()
		_, err := c.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
		c.Release()
	})
}

func TestUntrackedValue(t *testing.T) {
	t.Run("never checkpoints", func(t *testing.T) {
		c := NewUntrackedValue()
		_, err := c.Update([]any{"secret"})
		assert.NoError(t, err)

		_, err = c.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))

		// the step-local value is still readable
		v, err := c.Get()
		assert.NoError(t, err)
		assert.Equal(t, "secret", v)
	})

	t.Run("guarded rejects multiple values", func(t *testing.T) {
		c := NewUntrackedValue()
		_, err := c.Update([]any{"a", "b"})
		var invalid *InvalidUpdateError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("unguarded keeps the last value", func(t *testing.T) {
		c := NewUnguardedUntrackedValue()
		changed, err := c.Update([]any{"a", "b", "c"})
		assert.NoError(t, err)
		assert.True(t, changed)

		v, err := c.Get()
		assert.NoError(t, err)
		assert.Equal(t, "c", v)
	})

	t.Run("from checkpoint ignores stored values", func(t *testing.T) {
		c := NewUntrackedValue()
		step := c.FromCheckpoint("leaked", true)
		_, err := step.(*UntrackedValue).Get()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})

	t.Run("equal requires matching guard mode", func(t *testing.T) {
		assert.True(t, NewUntrackedValue().Equal(NewUntrackedValue()))
		assert.False(t, NewUntrackedValue().Equal(NewUnguardedUntrackedValue()))
		assert.False(t, NewUntrackedValue().Equal(NewLastValue()))
	})
}

func TestTopic(t *testing.T) {
	t.Run("empty list is a valid snapshot", func(t *testing.T) {
		c := NewTopic()
		v, err := c.Checkpoint()
		assert.NoError(t, err)
		assert.Equal(t, []any{}, v)
	})

	t.Run("accumulates within a step", func(t *testing.T) {
		c := NewTopic()
		_, err := c.Update([]any{"a", "b"})
		assert.NoError(t, err)

		v, err := c.Checkpoint()
		assert.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, v)
	})

	t.Run("non-accumulating resets each step", func(t *testing.T) {
		c := NewTopic()
		_, _ = c.Update([]any{"a"})
		changed, err := c.Update([]any{"b"})
		assert.NoError(t, err)
		assert.True(t, changed)

		v, _ := c.Checkpoint()
		assert.Equal(t, []any{"b"}, v)
	})

	t.Run("accumulating carries values", func(t *testing.T) {
		c := NewAccumulatingTopic()
		_, _ = c.Update([]any{"a"})
		_, _ = c.Update([]any{"b"})

		v, _ := c.Checkpoint()
		assert.Equal(t, []any{"a", "b"}, v)
	})

	t.Run("from checkpoint restores values", func(t *testing.T) {
		c := NewAccumulatingTopic()
		step := c.FromCheckpoint([]any{"x"}, true)
		_, err := step.Update([]any{"y"})
		assert.NoError(t, err)

		v, _ := step.Checkpoint()
		assert.Equal(t, []any{"x", "y"}, v)
	})

	t.Run("equal requires matching mode", func(t *testing.T) {
		assert.True(t, NewTopic().Equal(NewTopic()))
		assert.False(t, NewTopic().Equal(NewAccumulatingTopic()))
	})
}

func TestWithStep(t *testing.T) {
	t.Run("releases after fn", func(t *testing.T) {
		base := NewLastValue()
		var step Channel
		err := WithStep(base, "value", true, func(c Channel) error {
			step = c
			v, err := c.(*LastValue).Get()
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
			return nil
		})
		assert.NoError(t, err)

		_, err = step.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})

	t.Run("releases on error too", func(t *testing.T) {
		base := NewLastValue()
		var step Channel
		wantErr := errors.New("boom")
		err := WithStep(base, "value", true, func(c Channel) error {
			step = c
			return wantErr
		})
		assert.Equal(t, wantErr, err)

		_, err = step.Checkpoint()
		assert.True(t, errors.Is(err, ErrEmptyChannel))
	})
}

func TestRegistry(t *testing.T) {
	t.Run("built-in kinds", func(t *testing.T) {
		for _, kind := range []string{KindLastValue, KindUntracked, KindTopic} {
			c, err := New(kind)
			assert.NoError(t, err)
			assert.Equal(t, kind, c.Kind())
		}
	})

	t.Run("custom kind", func(t *testing.T) {
		r := NewRegistry()
		assert.NoError(t, r.Register("custom", func() Channel { return NewTopic() }))

		c, err := r.New("custom")
		assert.NoError(t, err)
		assert.NotNil(t, c)

		assert.ElementsMatch(t, []string{"custom"}, r.Kinds())
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		r := NewRegistry()
		assert.NoError(t, r.Register("dup", func() Channel { return NewLastValue() }))
		assert.Error(t, r.Register("dup", func() Channel { return NewLastValue() }))
	})

	t.Run("invalid registrations fail", func(t *testing.T) {
		r := NewRegistry()
		assert.Error(t, r.Register("", func() Channel { return NewLastValue() }))
		assert.Error(t, r.Register("nilfactory", nil))
	})

	t.Run("unknown kind fails", func(t *testing.T) {
		_, err := New("no-such-kind")
		assert.Error(t, err)
	})
}
