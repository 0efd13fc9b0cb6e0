package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallnest/graphstate/channel"
	"github.com/smallnest/graphstate/serde"
)

func TestNextVersion(t *testing.T) {
	sd := serde.NewJSONSerializer()

	t.Run("first version", func(t *testing.T) {
		ch := channel.NewLastValue()
		_, err := ch.Update([]any{"hello"})
		assert.NoError(t, err)

		v, err := NextVersion("", ch, sd)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(v, "00000000000000000000000000000001."))
		assert.Len(t, v, 32+1+32)
	})

	t.Run("increments the prefix", func(t *testing.T) {
		ch := channel.NewLastValue()
		_, err := ch.Update([]any{"hello"})
		assert.NoError(t, err)

		v1, err := NextVersion("", ch, sd)
		assert.NoError(t, err)
		v2, err := NextVersion(v1, ch, sd)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(v2, "00000000000000000000000000000002."))
		assert.True(t, v1 < v2)
	})

	t.Run("identical values share a hash", func(t *testing.T) {
		ch := channel.NewLastValue()
		_, err := ch.Update([]any{"hello"})
		assert.NoError(t, err)

		v1, err := NextVersion("", ch, sd)
		assert.NoError(t, err)
		v2, err := NextVersion(v1, ch, sd)
		assert.NoError(t, err)

		hash := func(v string) string { return v[strings.IndexByte(v, '.')+1:] }
		assert.Equal(t, hash(v1), hash(v2))

		_, err = ch.Update([]any{"changed"})
		assert.NoError(t, err)
		v3, err := NextVersion(v2, ch, sd)
		assert.NoError(t, err)
		assert.NotEqual(t, hash(v2), hash(v3))
	})

	t.Run("empty channel yields an empty hash", func(t *testing.T) {
		ch := channel.NewLastValue()

		v, err := NextVersion("", ch, sd)
		assert.NoError(t, err)
		assert.Equal(t, "00000000000000000000000000000001.", v)
	})
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("", ""))
	assert.Equal(t, -1, CompareVersions("", "00000000000000000000000000000001.abc"))
	assert.Equal(t, 1, CompareVersions("00000000000000000000000000000002.abc", "00000000000000000000000000000001.def"))
	// equal prefixes compare equal regardless of hash
	assert.Equal(t, 0, CompareVersions("00000000000000000000000000000003.aaa", "00000000000000000000000000000003.bbb"))
}
