package kv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("value", ParseKey("a/b")))

	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `value "a/b"`)

	var ke *KeyError
	assert.True(t, errors.As(err, &ke))
	assert.Equal(t, "value", ke.Op)
	assert.Equal(t, ParseKey("a/b"), ke.Key)

	assert.ErrorIs(t, OutOfScope("save", ParseKey("x")), ErrOutOfScope)
	assert.False(t, IsNotFound(OutOfScope("save", ParseKey("x"))))
}

func TestCheckKeys(t *testing.T) {
	assert.NoError(t, CheckKeys("move", ParseKey("a"), ParseKey("b/c")))
	assert.NoError(t, CheckKeys("save"))

	err := CheckKeys("move", ParseKey("a"), Root)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, IsNotFound(err))

	var ke *KeyError
	assert.True(t, errors.As(err, &ke))
	assert.Equal(t, "move", ke.Op)
	assert.True(t, ke.Key.IsRoot())
}
