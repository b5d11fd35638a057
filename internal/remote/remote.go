// Package remote snapshots a whole kv.Storage into an OCI image and restores
// it again.
//
// Based on go-containerregistry patterns:
//   - Authentication via keychain
//   - Upload ordering: layers → config → manifest
//   - Plain OCI distribution API, any registry works
//
// Every key becomes an entry inside a zstd layer. Entries are grouped into
// layers by the first segment of their key and carry a sha256 of their value
// that is verified on pull.
package remote

import (
	"context"

	"github.com/aweris/kvblob/internal/kv"
)

// Remote transfers storage snapshots to and from a registry.
type Remote interface {
	// Push uploads every key of src as a new image.
	Push(ctx context.Context, src kv.Storage) (*Summary, error)

	// Pull downloads the image and saves every entry into dst.
	Pull(ctx context.Context, dst kv.Storage) (*Summary, error)
}

// Summary describes a transferred snapshot.
type Summary struct {
	Ref    string
	Digest string
	Keys   int
	Layers int
	Bytes  int64
}
