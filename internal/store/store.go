// Package store implements kv.Storage backends.
//
//   - Memory: a map guarded by a RWMutex, for tests and ephemeral caches
//   - Local: one file per key under a root directory, optional zstd at rest
//     and an LRU cache of small values
//   - Badger: an embedded badger database with native transactional commit
//   - S3: any S3-compatible object store
//
// Every backend opens transactions through internal/txn with its own
// key Locker, so overlapping transactions on one instance serialize.
package store

import (
	"context"

	"github.com/aweris/kvblob/internal/kv"
)

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}

// live returns ctx's error if it is already done.
func live(ctx context.Context) error {
	return context.Cause(ctx)
}

func filterPrefix(keys []kv.Key, prefix kv.Key) []kv.Key {
	out := keys[:0]
	for _, k := range keys {
		if k.HasPrefix(prefix) {
			out = append(out, k)
		}
	}
	return out
}

var (
	_ Closer = (*Local)(nil)
	_ Closer = (*Badger)(nil)
)
