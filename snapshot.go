package kvblob

import (
	"context"
	"log/slog"

	"github.com/aweris/kvblob/internal/remote"
)

// SnapshotSummary describes a pushed or pulled snapshot.
type SnapshotSummary = remote.Summary

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator

// StaticAuthenticator uses fixed credentials for every registry.
type StaticAuthenticator = remote.StaticAuthenticator

// SnapshotOptions configures PushSnapshot and PullSnapshot.
type SnapshotOptions struct {
	Auth        Authenticator
	Concurrency int
	Logger      *slog.Logger

	// CompressionLevel is the zstd level (1..3) of pushed layers. Zero keeps
	// the default.
	CompressionLevel int
}

// SnapshotOption configures PushSnapshot and PullSnapshot.
type SnapshotOption func(*SnapshotOptions)

// WithAuth sets custom authentication. The default is the docker keychain.
func WithAuth(auth Authenticator) SnapshotOption {
	return func(o *SnapshotOptions) { o.Auth = auth }
}

// WithSnapshotConcurrency sets the number of parallel transfers.
func WithSnapshotConcurrency(n int) SnapshotOption {
	return func(o *SnapshotOptions) { o.Concurrency = n }
}

// WithSnapshotCompression sets the zstd level of pushed layers.
func WithSnapshotCompression(level int) SnapshotOption {
	return func(o *SnapshotOptions) { o.CompressionLevel = level }
}

// WithSnapshotLogger sets the logger for transfer progress.
func WithSnapshotLogger(logger *slog.Logger) SnapshotOption {
	return func(o *SnapshotOptions) { o.Logger = logger }
}

func newRemote(imageRef string, opts []SnapshotOption) (*remote.OCIRemote, error) {
	o := &SnapshotOptions{Concurrency: remote.DefaultConcurrency}
	for _, opt := range opts {
		opt(o)
	}
	ropts := []remote.Option{
		remote.WithConcurrency(o.Concurrency),
		remote.WithLogger(o.Logger),
		remote.WithCompressionLevel(o.CompressionLevel),
	}
	if o.Auth != nil {
		ropts = append(ropts, remote.WithAuth(o.Auth))
	}
	return remote.NewOCIRemote(imageRef, ropts...)
}

// PushSnapshot uploads every key of src as an OCI image at imageRef
// (e.g. "ghcr.io/org/cache:main").
func PushSnapshot(ctx context.Context, src Storage, imageRef string, opts ...SnapshotOption) (*SnapshotSummary, error) {
	r, err := newRemote(imageRef, opts)
	if err != nil {
		return nil, err
	}
	return r.Push(ctx, src)
}

// PullSnapshot downloads the image at imageRef, verifies every entry and
// saves them into dst. Keys of dst that are not in the snapshot are kept.
func PullSnapshot(ctx context.Context, imageRef string, dst Storage, opts ...SnapshotOption) (*SnapshotSummary, error) {
	r, err := newRemote(imageRef, opts)
	if err != nil {
		return nil, err
	}
	return r.Pull(ctx, dst)
}
