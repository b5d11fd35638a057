package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/storetest"
)

func TestBadger(t *testing.T) {
	storetest.Run(t, func(t *testing.T) kv.Storage {
		s, err := NewBadger(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadger_InMemory(t *testing.T) {
	storetest.RunStorage(t, func(t *testing.T) kv.Storage {
		s, err := NewBadger("", WithBadgerInMemory())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadger_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadger(dir, WithBadgerValueLogFileSize(1<<20))
	require.NoError(t, err)
	storetest.Save(t, s, kv.ParseKey("persist/me"), []byte("still here"))
	require.NoError(t, s.Close())

	s, err = NewBadger(dir, WithBadgerValueLogFileSize(1<<20))
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.List(ctx, kv.Root)
	require.NoError(t, err)
	assert.Equal(t, storetest.Keys("persist/me"), keys)
	assert.Equal(t, []byte("still here"), storetest.Read(t, s, kv.ParseKey("persist/me")))
}

func TestBadger_InvalidOption(t *testing.T) {
	_, err := NewBadger(t.TempDir(), WithBadgerValueLogFileSize(0))
	assert.Error(t, err)
}
