package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, newWriter func(io.Writer) (io.WriteCloser, error), data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := newWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readValue(t *testing.T, c *Compressor, data []byte) ([]byte, bool) {
	t.Helper()
	r, compressed, err := c.NewValueReader(bytes.NewReader(data))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return got, compressed
}

// zstdFrame returns data as a bare zstd frame, the shape of a .zst artifact.
func zstdFrame(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestCompressor_ValueRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("artifact-", 1024))

	for _, level := range []int{1, 2, 3, 0} {
		c := NewCompressor(level, true)

		stored := write(t, c.NewValueWriter, payload)
		assert.Less(t, len(stored), len(payload))
		assert.True(t, bytes.HasPrefix(stored, header))

		got, compressed := readValue(t, c, stored)
		assert.True(t, compressed)
		assert.Equal(t, payload, got)
	}
}

func TestCompressor_StreamIsBareZstd(t *testing.T) {
	payload := []byte(strings.Repeat("layer-", 512))
	stream := write(t, NewCompressor(3, true).NewWriter, payload)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	got, err := dec.DecodeAll(stream, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCompressor_PassThrough(t *testing.T) {
	plain := []byte("not compressed")
	frame := zstdFrame(t, []byte("inner payload"))

	t.Run("disabled writer", func(t *testing.T) {
		c := NewCompressor(2, false)
		assert.Equal(t, plain, write(t, c.NewValueWriter, plain))
		assert.Equal(t, plain, write(t, c.NewWriter, plain))
	})

	t.Run("disabled reader keeps zstd frames", func(t *testing.T) {
		got, compressed := readValue(t, NewCompressor(2, false), frame)
		assert.False(t, compressed)
		assert.Equal(t, frame, got)
	})

	t.Run("enabled reader keeps zstd frames", func(t *testing.T) {
		got, compressed := readValue(t, NewCompressor(2, true), frame)
		assert.False(t, compressed)
		assert.Equal(t, frame, got)
	})

	t.Run("enabled writer keeps zstd frames", func(t *testing.T) {
		c := NewCompressor(2, true)
		got, compressed := readValue(t, c, write(t, c.NewValueWriter, frame))
		assert.True(t, compressed)
		assert.Equal(t, frame, got)
	})

	t.Run("raw data through enabled reader", func(t *testing.T) {
		got, compressed := readValue(t, NewCompressor(2, true), plain)
		assert.False(t, compressed)
		assert.Equal(t, plain, got)
	})

	t.Run("short input", func(t *testing.T) {
		got, compressed := readValue(t, NewCompressor(2, true), []byte{1, 2})
		assert.False(t, compressed)
		assert.Equal(t, []byte{1, 2}, got)
	})
}
