package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob/internal/kv"
)

func TestValueCache(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		c, err := newValueCache(0, 0)
		require.NoError(t, err)
		assert.Nil(t, c)

		c.add(kv.NewKey("k"), []byte("v"))
		_, ok := c.get(kv.NewKey("k"))
		assert.False(t, ok)
		assert.False(t, c.fits(1))
		c.remove(kv.NewKey("k"))
		c.purge()
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c, err := newValueCache(2, 0)
		require.NoError(t, err)

		c.add(kv.NewKey("a"), []byte("1"))
		c.add(kv.NewKey("b"), []byte("2"))
		_, _ = c.get(kv.NewKey("a"))
		c.add(kv.NewKey("c"), []byte("3"))

		_, ok := c.get(kv.NewKey("b"))
		assert.False(t, ok)
		got, ok := c.get(kv.NewKey("a"))
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), got)
	})

	t.Run("skips oversized values", func(t *testing.T) {
		c, err := newValueCache(4, 2)
		require.NoError(t, err)

		c.add(kv.NewKey("big"), []byte("123"))
		_, ok := c.get(kv.NewKey("big"))
		assert.False(t, ok)
		assert.True(t, c.fits(2))
		assert.False(t, c.fits(-1))
	})
}
