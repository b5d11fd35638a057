package kv

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedReader struct {
	io.Reader
	closed bool
}

func (r *trackedReader) Close() error {
	r.closed = true
	return nil
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestContent_Size(t *testing.T) {
	n, ok := FromBytes([]byte("abc")).Size()
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = NewContent(strings.NewReader("abc"), -1).Size()
	assert.False(t, ok)

	n, ok = Empty().Size()
	assert.True(t, ok)
	assert.Zero(t, n)
}

func TestContent_ClosesUnderlyingReader(t *testing.T) {
	r := &trackedReader{Reader: strings.NewReader("x")}
	c := NewContent(r, 1)
	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func TestReadAll(t *testing.T) {
	r := &trackedReader{Reader: strings.NewReader("payload")}
	data, err := ReadAll(NewContent(r, -1))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.True(t, r.closed)

	data, err = ReadAll(Empty())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10)
	c := FromBytes(payload)

	var got []byte
	var sizes []int
	for chunk, err := range Chunks(c, 16) {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}
	assert.Equal(t, payload, got)
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 16)
	}
}

func TestChunks_StopsEarly(t *testing.T) {
	c := FromBytes(bytes.Repeat([]byte("x"), 100))
	count := 0
	for range Chunks(c, 10) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestChunks_ReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	var errs []error
	for _, err := range Chunks(NewContent(failingReader{boom}, -1), 0) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}
