package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob/internal/compression"
	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/store"
	"github.com/aweris/kvblob/internal/storetest"
)

func newRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTestRemote(t *testing.T, ref string) *OCIRemote {
	t.Helper()
	r, err := NewOCIRemote(ref,
		WithConcurrency(2),
		WithAuth(StaticAuthenticator{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return r
}

func TestOCIRemote_PushPull(t *testing.T) {
	ctx := context.Background()
	ref := newRegistry(t) + "/kvblob/snapshot:v1"

	src := store.NewMemory()
	storetest.Save(t, src, kv.ParseKey("maven/org/lib.jar"), []byte("jar bytes"))
	storetest.Save(t, src, kv.ParseKey("maven/org/lib.pom"), []byte("<project/>"))
	storetest.Save(t, src, kv.ParseKey("npm/left-pad"), []byte("module.exports"))
	storetest.Save(t, src, kv.ParseKey("empty"), nil)

	r := newTestRemote(t, ref)
	pushed, err := r.Push(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 4, pushed.Keys)
	assert.Equal(t, 1, pushed.Layers)
	assert.NotEmpty(t, pushed.Digest)

	dst := store.NewMemory()
	storetest.Save(t, dst, kv.ParseKey("untouched"), []byte("local"))

	pulled, err := r.Pull(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, pushed.Digest, pulled.Digest)
	assert.Equal(t, 4, pulled.Keys)

	keys, err := dst.List(ctx, kv.Root)
	require.NoError(t, err)
	assert.Equal(t, storetest.Keys("empty", "maven/org/lib.jar", "maven/org/lib.pom", "npm/left-pad", "untouched"), keys)
	assert.Equal(t, []byte("jar bytes"), storetest.Read(t, dst, kv.ParseKey("maven/org/lib.jar")))
}

func TestOCIRemote_CompressionLevel(t *testing.T) {
	ctx := context.Background()
	ref := newRegistry(t) + "/kvblob/level:v1"

	r, err := NewOCIRemote(ref, WithAuth(StaticAuthenticator{}), WithCompressionLevel(3))
	require.NoError(t, err)
	assert.Equal(t, compression.NewCompressor(3, true), r.compressor)

	data := []byte(strings.Repeat("compressible ", 512))
	layer, err := r.newBlobLayer(data)
	require.NoError(t, err)
	assert.Less(t, len(layer.compressed), len(data))
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(layer.compressed, nil)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	src := store.NewMemory()
	storetest.Save(t, src, kv.ParseKey("k"), data)
	_, err = r.Push(ctx, src)
	require.NoError(t, err)

	dst := store.NewMemory()
	_, err = newTestRemote(t, ref).Pull(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, data, storetest.Read(t, dst, kv.ParseKey("k")))

	unset, err := NewOCIRemote(ref, WithCompressionLevel(0))
	require.NoError(t, err)
	assert.Equal(t, compression.NewCompressor(0, true), unset.compressor)
}

func TestOCIRemote_PushEmptyStorage(t *testing.T) {
	ctx := context.Background()
	r := newTestRemote(t, newRegistry(t)+"/kvblob/empty:latest")

	pushed, err := r.Push(ctx, store.NewMemory())
	require.NoError(t, err)
	assert.Zero(t, pushed.Keys)

	pulled, err := r.Pull(ctx, store.NewMemory())
	require.NoError(t, err)
	assert.Zero(t, pulled.Keys)
}

func TestOCIRemote_PullRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	refStr := newRegistry(t) + "/kvblob/corrupt:v1"
	r := newTestRemote(t, refStr)

	e, err := NewEntry(kv.ParseKey("k"), []byte("payload"))
	require.NoError(t, err)
	e.Data = []byte("tampered")
	data, err := PackLayer([]Entry{e})
	require.NoError(t, err)

	layer, err := r.newBlobLayer(data)
	require.NoError(t, err)
	img, err := buildImage([]v1.Layer{layer}, 1)
	require.NoError(t, err)

	ref, err := name.ParseReference(refStr)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))

	dst := store.NewMemory()
	_, err = r.Pull(ctx, dst)
	assert.ErrorIs(t, err, ErrCorruptEntry)

	keys, err := dst.List(ctx, kv.Root)
	require.NoError(t, err)
	assert.Empty(t, keys, "a corrupt snapshot must not be partially applied")
}

func TestNewOCIRemote_InvalidRef(t *testing.T) {
	_, err := NewOCIRemote("UPPER/case:tag")
	assert.Error(t, err)
}

func TestStaticAuthenticator(t *testing.T) {
	assert.Nil(t, authenticatorFor(StaticAuthenticator{}, "example.com"))
	assert.NotNil(t, authenticatorFor(StaticAuthenticator{Username: "u", Password: "p"}, "example.com"))
	assert.Nil(t, authenticatorFor(nil, "example.com"))
}
