package kv

import (
	"bytes"
	"errors"
	"io"
	"iter"
)

// DefaultChunkSize is the read buffer used when streaming content.
const DefaultChunkSize = 32 * 1024

// Content is a lazy, single-use byte stream with an optional known size.
// Consumers close it once done, on every path.
type Content interface {
	io.ReadCloser

	// Size returns the total length and true if known in advance.
	Size() (int64, bool)
}

type content struct {
	io.Reader
	closer io.Closer
	size   int64
}

// NewContent wraps r. A negative size means the length is unknown. If r is
// an io.Closer it is closed together with the content.
func NewContent(r io.Reader, size int64) Content {
	c := &content{Reader: r, size: size}
	if rc, ok := r.(io.Closer); ok {
		c.closer = rc
	}
	return c
}

// FromBytes returns content over a copy-free view of b.
func FromBytes(b []byte) Content {
	return NewContent(bytes.NewReader(b), int64(len(b)))
}

// Empty returns zero-length content.
func Empty() Content {
	return FromBytes(nil)
}

func (c *content) Size() (int64, bool) {
	return c.size, c.size >= 0
}

func (c *content) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Chunks yields c as a sequence of chunks of at most size bytes. The yielded
// slice is reused between iterations. A read error is yielded once and ends
// the sequence; io.EOF is not reported. Chunks does not close c.
func Chunks(c Content, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, size)
		for {
			n, err := c.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// ReadAll drains c into memory and closes it.
func ReadAll(c Content) (data []byte, err error) {
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if n, ok := c.Size(); ok {
		buf := bytes.NewBuffer(make([]byte, 0, n))
		_, err = buf.ReadFrom(c)
		return buf.Bytes(), err
	}
	return io.ReadAll(c)
}
