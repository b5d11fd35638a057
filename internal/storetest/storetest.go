// Package storetest is a conformance suite every kv.Storage implementation
// runs from its own tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob/internal/kv"
)

// Factory returns an empty storage for a single subtest.
type Factory func(t *testing.T) kv.Storage

// Run executes the whole suite against storages produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Run("Storage", func(t *testing.T) { RunStorage(t, newStorage) })
	t.Run("Transaction", func(t *testing.T) { RunTransaction(t, newStorage) })
}

// RunStorage covers the non-transactional operations.
func RunStorage(t *testing.T, newStorage Factory) {
	t.Run("round trip", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		key := kv.NewKey("dir", "value.bin")

		Save(t, s, key, []byte{1, 2, 3})
		assert.Equal(t, []byte{1, 2, 3}, Read(t, s, key))
		// Every Value call yields a fresh stream.
		assert.Equal(t, []byte{1, 2, 3}, Read(t, s, key))

		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty value", func(t *testing.T) {
		s := newStorage(t)
		key := kv.NewKey("empty")
		require.NoError(t, s.Save(context.Background(), key, kv.Empty()))
		assert.Empty(t, Read(t, s, key))
	})

	t.Run("large value streams", func(t *testing.T) {
		s := newStorage(t)
		key := kv.NewKey("large")
		payload := bytes.Repeat([]byte("0123456789abcdef"), 20*1024)

		require.NoError(t, s.Save(context.Background(), key, kv.NewContent(bytes.NewReader(payload), -1)))
		assert.Equal(t, payload, Read(t, s, key))
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStorage(t)
		key := kv.NewKey("k")
		Save(t, s, key, []byte("first"))
		Save(t, s, key, []byte("second"))
		assert.Equal(t, []byte("second"), Read(t, s, key))
	})

	t.Run("missing key", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		key := kv.NewKey("missing")

		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Value(ctx, key)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("save closes content", func(t *testing.T) {
		s := newStorage(t)
		c := &closeTracker{Content: kv.FromBytes([]byte("tracked"))}
		require.NoError(t, s.Save(context.Background(), kv.NewKey("tracked"), c))
		assert.True(t, c.closed.Load())
	})

	t.Run("stores zstd frames verbatim", func(t *testing.T) {
		s := newStorage(t)
		key := kv.NewKey("dist", "pkg.tar.zst")
		frame := zstdFrame(t, []byte("inner payload"))

		Save(t, s, key, frame)
		assert.Equal(t, frame, Read(t, s, key))
		assert.Equal(t, frame, Read(t, s, key))
	})

	t.Run("failed save leaves no partial value", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		fresh, existing := kv.NewKey("f", "fresh"), kv.NewKey("f", "existing")
		Save(t, s, existing, []byte("prior"))

		for _, key := range []kv.Key{fresh, existing} {
			err := s.Save(ctx, key, brokenContent())
			assert.ErrorIs(t, err, errBrokenStream, key.String())
		}

		ok, err := s.Exists(ctx, fresh)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []byte("prior"), Read(t, s, existing))

		keys, err := s.List(ctx, kv.NewKey("f"))
		require.NoError(t, err)
		assert.Equal(t, []kv.Key{existing}, keys)
	})

	t.Run("cancelled save leaves no value", func(t *testing.T) {
		s := newStorage(t)
		fresh, existing := kv.NewKey("c", "fresh"), kv.NewKey("c", "existing")
		Save(t, s, existing, []byte("prior"))

		for _, key := range []kv.Key{fresh, existing} {
			ctx, cancel := context.WithCancel(context.Background())
			payload := bytes.Repeat([]byte("x"), 256*1024)
			content := kv.NewContent(&cancelAfterRead{r: bytes.NewReader(payload), cancel: cancel}, -1)

			err := s.Save(ctx, key, content)
			assert.ErrorIs(t, err, context.Canceled, key.String())
			cancel()
		}

		ok, err := s.Exists(context.Background(), fresh)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []byte("prior"), Read(t, s, existing))
	})

	t.Run("root key is invalid", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		key := kv.NewKey("k")
		Save(t, s, key, []byte("v"))

		c := &closeTracker{Content: kv.FromBytes([]byte("x"))}
		assert.ErrorIs(t, s.Save(ctx, kv.Root, c), kv.ErrInvalidKey)
		assert.True(t, c.closed.Load())

		assert.ErrorIs(t, s.Move(ctx, kv.Root, key), kv.ErrInvalidKey)
		assert.ErrorIs(t, s.Move(ctx, key, kv.Root), kv.ErrInvalidKey)
		assert.ErrorIs(t, s.Delete(ctx, kv.Root), kv.ErrInvalidKey)
		_, err := s.Transaction(ctx, []kv.Key{key, kv.Root})
		assert.ErrorIs(t, err, kv.ErrInvalidKey)

		ok, err := s.Exists(ctx, kv.Root)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = s.Value(ctx, kv.Root)
		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.Equal(t, []byte("v"), Read(t, s, key))
	})

	t.Run("move", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		src, dst := kv.NewKey("from", "a"), kv.NewKey("to", "b")
		Save(t, s, src, []byte("payload"))

		require.NoError(t, s.Move(ctx, src, dst))

		ok, err := s.Exists(ctx, src)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []byte("payload"), Read(t, s, dst))
	})

	t.Run("move overwrites destination", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		src, dst := kv.NewKey("src"), kv.NewKey("dst")
		Save(t, s, src, []byte("new"))
		Save(t, s, dst, []byte("old"))

		require.NoError(t, s.Move(ctx, src, dst))
		assert.Equal(t, []byte("new"), Read(t, s, dst))
	})

	t.Run("move missing source", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		dst := kv.NewKey("dst")
		Save(t, s, dst, []byte("untouched"))

		err := s.Move(ctx, kv.NewKey("nope"), dst)
		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.Equal(t, []byte("untouched"), Read(t, s, dst))
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		key := kv.NewKey("a", "b", "c")
		Save(t, s, key, []byte("x"))

		require.NoError(t, s.Delete(ctx, key))
		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, s.Delete(ctx, key), kv.ErrNotFound)
	})

	t.Run("list by prefix", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		for _, k := range []string{"x", "a/b/2", "a/bc/3", "a/b/1", "a/b/deep/4"} {
			Save(t, s, kv.ParseKey(k), []byte(k))
		}

		keys, err := s.List(ctx, kv.ParseKey("a/b"))
		require.NoError(t, err)
		assert.Equal(t, Keys("a/b/1", "a/b/2", "a/b/deep/4"), keys)

		keys, err = s.List(ctx, kv.Root)
		require.NoError(t, err)
		assert.Equal(t, Keys("a/b/1", "a/b/2", "a/b/deep/4", "a/bc/3", "x"), keys)

		keys, err = s.List(ctx, kv.ParseKey("unused"))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("list after delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		Save(t, s, kv.ParseKey("p/one"), []byte("1"))
		Save(t, s, kv.ParseKey("p/two"), []byte("2"))
		require.NoError(t, s.Delete(ctx, kv.ParseKey("p/one")))

		keys, err := s.List(ctx, kv.ParseKey("p"))
		require.NoError(t, err)
		assert.Equal(t, Keys("p/two"), keys)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		p := pool.New().WithErrors().WithMaxGoroutines(8)
		for i := range 32 {
			p.Go(func() error {
				return s.Save(ctx, kv.NewKey("c", fmt.Sprint(i)), kv.FromBytes([]byte(fmt.Sprint(i))))
			})
		}
		require.NoError(t, p.Wait())

		keys, err := s.List(ctx, kv.NewKey("c"))
		require.NoError(t, err)
		assert.Len(t, keys, 32)
		assert.Equal(t, []byte("7"), Read(t, s, kv.NewKey("c", "7")))
	})

	t.Run("concurrent save and delete of siblings", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		const rounds = 200

		for i := range rounds {
			Save(t, s, kv.NewKey("sib", fmt.Sprint(i), "x"), []byte("x"))
		}

		p := pool.New().WithErrors().WithMaxGoroutines(16)
		for i := range rounds {
			dir := fmt.Sprint(i)
			p.Go(func() error { return s.Delete(ctx, kv.NewKey("sib", dir, "x")) })
			p.Go(func() error { return s.Save(ctx, kv.NewKey("sib", dir, "y"), kv.FromBytes([]byte(dir))) })
		}
		require.NoError(t, p.Wait())

		keys, err := s.List(ctx, kv.NewKey("sib"))
		require.NoError(t, err)
		require.Len(t, keys, rounds)
		for _, k := range keys {
			assert.Equal(t, "y", k.Base())
		}
	})
}

// RunTransaction covers Transaction and its lifecycle.
func RunTransaction(t *testing.T, newStorage Factory) {
	a, b, c := kv.NewKey("tx", "a"), kv.NewKey("tx", "b"), kv.NewKey("tx", "c")

	t.Run("keys are sorted", func(t *testing.T) {
		s := newStorage(t)
		tx, err := s.Transaction(context.Background(), []kv.Key{b, a, b})
		require.NoError(t, err)
		defer tx.Rollback(context.Background())
		assert.Equal(t, []kv.Key{a, b}, tx.Keys())
	})

	t.Run("out of scope", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		tx, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		assert.ErrorIs(t, tx.Save(ctx, b, kv.FromBytes([]byte("x"))), kv.ErrOutOfScope)
		_, err = tx.Value(ctx, b)
		assert.ErrorIs(t, err, kv.ErrOutOfScope)
		_, err = tx.Exists(ctx, b)
		assert.ErrorIs(t, err, kv.ErrOutOfScope)
		assert.ErrorIs(t, tx.Move(ctx, a, b), kv.ErrOutOfScope)
		assert.ErrorIs(t, tx.Delete(ctx, b), kv.ErrOutOfScope)
	})

	t.Run("read your writes", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		tx, err := s.Transaction(ctx, []kv.Key{a, b})
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		require.NoError(t, tx.Save(ctx, a, kv.FromBytes([]byte("staged"))))
		assert.Equal(t, []byte("staged"), Read(t, tx, a))

		ok, err := s.Exists(ctx, a)
		require.NoError(t, err)
		assert.False(t, ok, "staged write must not be visible outside the transaction")

		keys, err := tx.List(ctx, kv.Root)
		require.NoError(t, err)
		assert.Equal(t, []kv.Key{a}, keys)
	})

	t.Run("commit", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		Save(t, s, c, []byte("moved"))
		Save(t, s, b, []byte("doomed"))

		tx, err := s.Transaction(ctx, []kv.Key{a, b, c})
		require.NoError(t, err)
		require.NoError(t, tx.Delete(ctx, b))
		require.NoError(t, tx.Move(ctx, c, a))
		require.NoError(t, tx.Commit(ctx))

		assert.Equal(t, []byte("moved"), Read(t, s, a))
		for _, k := range []kv.Key{b, c} {
			ok, err := s.Exists(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok, k.String())
		}
	})

	t.Run("rollback", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		Save(t, s, a, []byte("original"))

		tx, err := s.Transaction(ctx, []kv.Key{a, b})
		require.NoError(t, err)
		require.NoError(t, tx.Save(ctx, a, kv.FromBytes([]byte("changed"))))
		require.NoError(t, tx.Save(ctx, b, kv.FromBytes([]byte("new"))))
		require.NoError(t, tx.Rollback(ctx))

		assert.Equal(t, []byte("original"), Read(t, s, a))
		ok, err := s.Exists(ctx, b)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("done after commit", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		tx, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		assert.ErrorIs(t, tx.Commit(ctx), kv.ErrTxDone)
		assert.ErrorIs(t, tx.Rollback(ctx), kv.ErrTxDone)
		assert.ErrorIs(t, tx.Save(ctx, a, kv.Empty()), kv.ErrTxDone)
		_, err = tx.Value(ctx, a)
		assert.ErrorIs(t, err, kv.ErrTxDone)
	})

	t.Run("rollback twice", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		tx, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))
		require.NoError(t, tx.Rollback(ctx))
		assert.ErrorIs(t, tx.Commit(ctx), kv.ErrTxDone)
	})

	t.Run("delete missing in transaction", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		tx, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		assert.ErrorIs(t, tx.Delete(ctx, a), kv.ErrNotFound)
	})

	t.Run("overlapping scopes serialize", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		first, err := s.Transaction(ctx, []kv.Key{a, b})
		require.NoError(t, err)

		var acquired atomic.Bool
		done := make(chan error, 1)
		go func() {
			second, err := s.Transaction(ctx, []kv.Key{b, c})
			if err != nil {
				done <- err
				return
			}
			acquired.Store(true)
			done <- second.Rollback(ctx)
		}()

		time.Sleep(50 * time.Millisecond)
		assert.False(t, acquired.Load(), "second transaction must wait for the first")

		require.NoError(t, first.Commit(ctx))
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("second transaction never acquired its keys")
		}
		assert.True(t, acquired.Load())
	})

	t.Run("waiting honours context", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		held, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		defer held.Rollback(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = s.Transaction(waitCtx, []kv.Key{a})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("nested", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		outer, err := s.Transaction(ctx, []kv.Key{a, b})
		require.NoError(t, err)

		_, err = outer.Transaction(ctx, []kv.Key{c})
		assert.ErrorIs(t, err, kv.ErrOutOfScope)

		inner, err := outer.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		require.NoError(t, inner.Save(ctx, a, kv.FromBytes([]byte("inner"))))
		require.NoError(t, inner.Commit(ctx))

		assert.Equal(t, []byte("inner"), Read(t, outer, a))
		ok, err := s.Exists(ctx, a)
		require.NoError(t, err)
		assert.False(t, ok, "nested commit must only reach the parent")

		require.NoError(t, outer.Commit(ctx))
		assert.Equal(t, []byte("inner"), Read(t, s, a))
	})

	t.Run("nested rollback", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		outer, err := s.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		defer outer.Rollback(ctx)

		inner, err := outer.Transaction(ctx, []kv.Key{a})
		require.NoError(t, err)
		require.NoError(t, inner.Save(ctx, a, kv.FromBytes([]byte("discarded"))))
		require.NoError(t, inner.Rollback(ctx))

		ok, err := outer.Exists(ctx, a)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// Save stores data under key and fails the test on error.
func Save(t *testing.T, s kv.Storage, key kv.Key, data []byte) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), key, kv.FromBytes(data)))
}

// Read returns the value stored under key and fails the test on error.
func Read(t *testing.T, s kv.Storage, key kv.Key) []byte {
	t.Helper()
	c, err := s.Value(context.Background(), key)
	require.NoError(t, err)
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	return data
}

// Keys parses each path into a key.
func Keys(paths ...string) []kv.Key {
	keys := make([]kv.Key, len(paths))
	for i, p := range paths {
		keys[i] = kv.ParseKey(strings.TrimSpace(p))
	}
	return keys
}

type closeTracker struct {
	kv.Content
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return c.Content.Close()
}

var errBrokenStream = errors.New("stream broken")

// brokenContent yields some data and then fails.
func brokenContent() kv.Content {
	head := bytes.Repeat([]byte("partial"), 4096)
	return kv.NewContent(io.MultiReader(bytes.NewReader(head), failingReader{errBrokenStream}), -1)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// cancelAfterRead cancels its context once the first chunk has been read.
type cancelAfterRead struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelAfterRead) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.cancel()
	return n, err
}

func zstdFrame(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}
