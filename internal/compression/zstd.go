// Package compression provides zstd stream compression for values at rest.
package compression

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// header prefixes every value written by NewValueWriter. It is not a zstd
// magic number, so stored values that are themselves zstd frames are never
// mistaken for compressed ones.
var header = []byte("\x89KVBZ\r\n\x1a")

type Compressor struct {
	level   zstd.EncoderLevel
	enabled bool
}

// NewCompressor maps level 1..3 to fastest, default and better compression.
// A disabled compressor passes data through unchanged in both directions.
func NewCompressor(level int, enabled bool) *Compressor {
	if !enabled {
		return &Compressor{enabled: false}
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	return &Compressor{level: encoderLevel, enabled: true}
}

// NewWriter returns a writer that compresses into w as a bare zstd stream.
// Closing it flushes the frame but does not close w.
func (c *Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if !c.enabled {
		return nopWriteCloser{w}, nil
	}
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderConcurrency(1),
	)
}

// NewValueWriter is NewWriter for stored values: an enabled compressor writes
// the header before the zstd stream so NewValueReader can recognise it.
func (c *Compressor) NewValueWriter(w io.Writer) (io.WriteCloser, error) {
	if c.enabled {
		if _, err := w.Write(header); err != nil {
			return nil, err
		}
	}
	return c.NewWriter(w)
}

// NewValueReader returns a reader over r. An enabled compressor decompresses data
// carrying the header and passes anything else through, so values written
// before compression was enabled stay readable. compressed reports which
// case applied.
func (c *Compressor) NewValueReader(r io.Reader) (rc io.ReadCloser, compressed bool, err error) {
	if !c.enabled {
		return io.NopCloser(r), false, nil
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(header))
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	if !bytes.Equal(head, header) {
		return io.NopCloser(br), false, nil
	}
	if _, err := br.Discard(len(header)); err != nil {
		return nil, false, err
	}

	dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, false, err
	}
	return decoder{dec}, true, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type decoder struct{ *zstd.Decoder }

func (d decoder) Close() error {
	d.Decoder.Close()
	return nil
}
