package kvblob_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob"
	"github.com/aweris/kvblob/internal/store"
	"github.com/aweris/kvblob/internal/storetest"
)

const md5Of123 = "5289df737df57326fcdd22597afb1fac"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// supply returns a Remote serving data once, recording whether the content
// was closed.
func supply(data []byte, closed *bool) kvblob.Remote {
	return func(context.Context) (kvblob.Content, bool, error) {
		return kvblob.NewContent(&closeRecorder{Reader: bytes.NewReader(data), closed: closed}, int64(len(data))), true, nil
	}
}

type closeRecorder struct {
	io.Reader
	closed *bool
}

func (c *closeRecorder) Close() error {
	*c.closed = true
	return nil
}

func absent(context.Context) (kvblob.Content, bool, error) { return nil, false, nil }

func TestDigestVerification_MD5(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	key := kvblob.ParseKey("a/b")
	storetest.Save(t, s, key, []byte{1, 2, 3})

	v := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))
	ok, err := v.Validate(ctx, key, kvblob.FromStorage(s, key))
	require.NoError(t, err)
	assert.True(t, ok)

	parsed, err := kvblob.ParseDigestVerification("md5:" + md5Of123)
	require.NoError(t, err)
	assert.Equal(t, kvblob.MD5, parsed.Algorithm())
	ok, err = parsed.Validate(ctx, key, kvblob.FromStorage(s, key))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDigestVerification_Mismatch(t *testing.T) {
	var closed bool
	v := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))

	ok, err := v.Validate(context.Background(), kvblob.ParseKey("k"), supply([]byte{1, 2, 4}, &closed))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, closed)
}

func TestDigestVerification_Algorithms(t *testing.T) {
	data := []byte("artifact body")
	for _, alg := range []kvblob.Algorithm{kvblob.MD5, kvblob.SHA1, kvblob.SHA256, kvblob.SHA512, kvblob.BLAKE3} {
		t.Run(alg.String(), func(t *testing.T) {
			sum, err := kvblob.Digest(kvblob.FromBytes(data), alg)
			require.NoError(t, err)

			var closed bool
			ok, err := kvblob.NewDigestVerification(alg, sum).
				Validate(context.Background(), kvblob.ParseKey("k"), supply(data, &closed))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, closed)
		})
	}
}

func TestDigestVerification_Absent(t *testing.T) {
	ctx := context.Background()
	v := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))

	ok, err := v.Validate(ctx, kvblob.ParseKey("k"), absent)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Validate(ctx, kvblob.ParseKey("missing"), kvblob.FromStorage(store.NewMemory(), kvblob.ParseKey("missing")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigestVerification_Errors(t *testing.T) {
	ctx := context.Background()
	key := kvblob.ParseKey("k")
	boom := errors.New("connection reset")

	t.Run("remote fails", func(t *testing.T) {
		v := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))
		_, err := v.Validate(ctx, key, func(context.Context) (kvblob.Content, bool, error) {
			return nil, false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("read fails", func(t *testing.T) {
		v := kvblob.NewDigestVerification(kvblob.MD5, mustHex(t, md5Of123))
		_, err := v.Validate(ctx, key, func(context.Context) (kvblob.Content, bool, error) {
			return kvblob.NewContent(io.MultiReader(bytes.NewReader([]byte{1}), errReader{boom}), -1), true, nil
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		v := kvblob.NewDigestVerification(kvblob.Algorithm(99), nil)
		_, err := v.Validate(ctx, key, absent)
		assert.Error(t, err)
	})

	t.Run("bad digest string", func(t *testing.T) {
		for _, s := range []string{"", "md5", "crc32:00", "md5:zz"} {
			_, err := kvblob.ParseDigestVerification(s)
			assert.Error(t, err, s)
		}
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestCacheControls(t *testing.T) {
	ctx := context.Background()
	key := kvblob.ParseKey("k")
	calls := 0
	counting := kvblob.CacheControlFunc(func(context.Context, kvblob.Key, kvblob.Remote) (bool, error) {
		calls++
		return true, nil
	})

	ok, err := kvblob.AlwaysValid.Validate(ctx, key, absent)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kvblob.NeverValid.Validate(ctx, key, absent)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = kvblob.AllOf(counting, counting).Validate(ctx, key, absent)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)

	ok, err = kvblob.AllOf(kvblob.NeverValid, counting).Validate(ctx, key, absent)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, calls, "stops at the first failing control")

	ok, err = kvblob.AllOf().Validate(ctx, key, absent)
	require.NoError(t, err)
	assert.True(t, ok)
}
