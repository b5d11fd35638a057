package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/kvblob/internal/compression"
	"github.com/aweris/kvblob/internal/kv"
)

const (
	DefaultConcurrency = 4

	labelFormat = "dev.kvblob.format"
	labelKeys   = "dev.kvblob.keys"
	format      = "1"
)

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	compressor  *compression.Compressor
	logger      *slog.Logger
}

var _ Remote = (*OCIRemote)(nil)

// Option configures an OCIRemote.
type Option func(*OCIRemote)

// WithConcurrency sets the number of parallel reads, writes and layer
// transfers.
func WithConcurrency(n int) Option {
	return func(r *OCIRemote) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithAuth sets the authenticator. The default is the docker keychain.
func WithAuth(auth Authenticator) Option {
	return func(r *OCIRemote) { r.auth = auth }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *OCIRemote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCompressionLevel sets the zstd level of pushed layers. Levels outside
// 1..3 keep the default.
func WithCompressionLevel(level int) Option {
	return func(r *OCIRemote) {
		if level > 0 {
			r.compressor = compression.NewCompressor(level, true)
		}
	}
}

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "ttl.sh/cache/go:main").
// Plain HTTP is used for localhost and private network registries.
func NewOCIRemote(imageRef string, opts ...Option) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	r := &OCIRemote{
		ref:         ref,
		auth:        NewDefaultAuthenticator(),
		concurrency: DefaultConcurrency,
		compressor:  compression.NewCompressor(0, true),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

func (r *OCIRemote) newBlobLayer(data []byte) (*blobLayer, error) {
	var buf bytes.Buffer
	w, err := r.compressor.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &blobLayer{compressed: buf.Bytes(), uncompressed: data}, nil
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push reads every key of src and uploads them as one image. Layers are
// rebuilt on every push; the registry deduplicates unchanged blobs by digest.
func (r *OCIRemote) Push(ctx context.Context, src kv.Storage) (*Summary, error) {
	keys, err := src.List(ctx, kv.Root)
	if err != nil {
		return nil, fmt.Errorf("list source: %w", err)
	}

	entries, err := r.readEntries(ctx, src, keys)
	if err != nil {
		return nil, err
	}

	batches := planLayers(entries)
	r.logger.Info("packing snapshot", slog.String("ref", r.String()),
		slog.Int("keys", len(entries)), slog.Int("layers", len(batches)))

	layers := make([]v1.Layer, 0, len(batches))
	var totalRaw, totalCompressed int64
	for _, batch := range batches {
		data, err := PackLayer(batch)
		if err != nil {
			return nil, fmt.Errorf("pack layer: %w", err)
		}
		layer, err := r.newBlobLayer(data)
		if err != nil {
			return nil, fmt.Errorf("compress layer: %w", err)
		}
		totalRaw += int64(len(data))
		totalCompressed += int64(len(layer.compressed))
		layers = append(layers, layer)
	}

	img, err := buildImage(layers, len(entries))
	if err != nil {
		return nil, fmt.Errorf("build image: %w", err)
	}

	start := time.Now()
	if err := r.pushImage(ctx, img); err != nil {
		return nil, fmt.Errorf("push image: %w", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("image digest: %w", err)
	}

	r.logger.Info("pushed snapshot",
		slog.String("ref", r.String()),
		slog.String("digest", digest.String()),
		slog.Int64("raw_bytes", totalRaw),
		slog.Int64("compressed_bytes", totalCompressed),
		slog.Duration("duration", time.Since(start)))

	return &Summary{
		Ref:    r.String(),
		Digest: digest.String(),
		Keys:   len(entries),
		Layers: len(layers),
		Bytes:  totalRaw,
	}, nil
}

// readEntries loads every key concurrently. Result order is unspecified.
func (r *OCIRemote) readEntries(ctx context.Context, src kv.Storage, keys []kv.Key) ([]Entry, error) {
	p := pool.NewWithResults[Entry]().
		WithContext(ctx).
		WithMaxGoroutines(r.concurrency).
		WithCancelOnError().
		WithFirstError()

	for _, key := range keys {
		p.Go(func(ctx context.Context) (Entry, error) {
			content, err := src.Value(ctx, key)
			if err != nil {
				return Entry{}, fmt.Errorf("read %s: %w", key, err)
			}
			data, err := kv.ReadAll(content)
			if err != nil {
				return Entry{}, fmt.Errorf("read %s: %w", key, err)
			}
			return NewEntry(key, data)
		})
	}
	return p.Wait()
}

func buildImage(layers []v1.Layer, keys int) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		labelFormat: format,
		labelKeys:   strconv.Itoa(keys),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options := r.remoteOptions(ctx)
	options = append(options, remote.WithJobs(r.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull downloads every layer in parallel, verifies each entry against its
// digest and only then saves the entries into dst. A corrupt entry fails the
// pull before dst is modified.
func (r *OCIRemote) Pull(ctx context.Context, dst kv.Storage) (*Summary, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	if got := cfg.Config.Labels[labelFormat]; got != format {
		return nil, fmt.Errorf("%s is not a kvblob snapshot (format %q)", r.String(), got)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	r.logger.Info("downloading snapshot", slog.String("ref", r.String()), slog.Int("layers", len(layers)))

	var mu sync.Mutex
	var entries []Entry
	var total int64

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			unpacked, n, err := readLayer(layer)
			if err != nil {
				return err
			}
			for _, e := range unpacked {
				if err := e.Verify(); err != nil {
					return err
				}
			}
			mu.Lock()
			entries = append(entries, unpacked...)
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	if err := r.saveEntries(ctx, dst, entries); err != nil {
		return nil, err
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("image digest: %w", err)
	}
	r.logger.Info("pulled snapshot", slog.String("ref", r.String()), slog.Int("keys", len(entries)))

	return &Summary{
		Ref:    r.String(),
		Digest: digest.String(),
		Keys:   len(entries),
		Layers: len(layers),
		Bytes:  total,
	}, nil
}

func readLayer(layer v1.Layer) ([]Entry, int64, error) {
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, 0, fmt.Errorf("read layer: %w", err)
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read layer: %w", err)
	}

	entries, err := UnpackLayer(data)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack layer: %w", err)
	}
	return entries, int64(len(data)), nil
}

func (r *OCIRemote) saveEntries(ctx context.Context, dst kv.Storage, entries []Entry) error {
	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, e := range entries {
		p.Go(func(ctx context.Context) error {
			if err := dst.Save(ctx, e.Key, kv.FromBytes(e.Data)); err != nil {
				return fmt.Errorf("save %s: %w", e.Key, err)
			}
			return nil
		})
	}
	return p.Wait()
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if auth := authenticatorFor(r.auth, r.Registry()); auth != nil {
		return append(options, remote.WithAuth(auth))
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
