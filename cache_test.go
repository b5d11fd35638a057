package kvblob_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob"
	"github.com/aweris/kvblob/internal/store"
	"github.com/aweris/kvblob/internal/storetest"
)

func readContent(t *testing.T, c kvblob.Content) []byte {
	t.Helper()
	data, err := kvblob.ReadAll(c)
	require.NoError(t, err)
	return data
}

func TestStorageCache_ServesValidCachedValue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	key := kvblob.ParseKey("libs/a.jar")
	storetest.Save(t, s, key, []byte{1, 2, 3})

	remote := func(context.Context) (kvblob.Content, bool, error) {
		t.Fatal("remote must not be called for a valid cached value")
		return nil, false, nil
	}
	control := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))

	c, ok, err := kvblob.NewStorageCache(s).Load(ctx, key, remote, control)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, readContent(t, c))
}

func TestStorageCache_RefetchesOnMismatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	key := kvblob.ParseKey("libs/a.jar")
	storetest.Save(t, s, key, []byte{9, 9})

	calls := 0
	remote := func(context.Context) (kvblob.Content, bool, error) {
		calls++
		return kvblob.FromBytes([]byte{1, 2, 3}), true, nil
	}
	control := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))

	c, ok, err := kvblob.NewStorageCache(s).Load(ctx, key, remote, control)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, readContent(t, c))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte{1, 2, 3}, storetest.Read(t, s, key))
}

func TestStorageCache_FillsMissingValue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	key := kvblob.ParseKey("libs/b.jar")

	for _, control := range []kvblob.CacheControl{kvblob.AlwaysValid, kvblob.NeverValid} {
		_ = s.Delete(ctx, key)

		c, ok, err := kvblob.NewStorageCache(s).Load(ctx, key, func(context.Context) (kvblob.Content, bool, error) {
			return kvblob.FromBytes([]byte("fresh")), true, nil
		}, control)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("fresh"), readContent(t, c))
	}
}

func TestStorageCache_RemoteAbsent(t *testing.T) {
	s := store.NewMemory()
	key := kvblob.ParseKey("libs/c.jar")

	c, ok, err := kvblob.NewStorageCache(s).Load(context.Background(), key, absent, kvblob.NeverValid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c)

	exists, err := s.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStorageCache_RemoteError(t *testing.T) {
	boom := errors.New("upstream unavailable")

	_, ok, err := kvblob.NewStorageCache(store.NewMemory()).Load(context.Background(), kvblob.ParseKey("k"),
		func(context.Context) (kvblob.Content, bool, error) { return nil, false, boom },
		kvblob.NeverValid)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}
