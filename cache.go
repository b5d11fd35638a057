package kvblob

import (
	"context"
	"fmt"
)

// Cache serves content for a key, refreshing it from a remote supplier when
// the cached copy is missing or fails its CacheControl.
type Cache interface {
	Load(ctx context.Context, key Key, remote Remote, control CacheControl) (Content, bool, error)
}

// StorageCache keeps cached values in a Storage.
type StorageCache struct {
	storage Storage
}

var _ Cache = (*StorageCache)(nil)

func NewStorageCache(storage Storage) *StorageCache {
	return &StorageCache{storage: storage}
}

// Load returns the cached value of key if control validates it and it exists.
// Otherwise it fetches from remote, stores the result and serves the stored
// copy. ok is false when neither the cache nor the remote has content.
func (c *StorageCache) Load(ctx context.Context, key Key, remote Remote, control CacheControl) (Content, bool, error) {
	valid, err := control.Validate(ctx, key, FromStorage(c.storage, key))
	if err != nil {
		return nil, false, fmt.Errorf("validate cached %s: %w", key, err)
	}
	if valid {
		content, ok, err := c.cached(ctx, key)
		if err != nil || ok {
			return content, ok, err
		}
	}

	content, ok, err := remote(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := c.storage.Save(ctx, key, content); err != nil {
		return nil, false, fmt.Errorf("cache %s: %w", key, err)
	}
	return c.cached(ctx, key)
}

func (c *StorageCache) cached(ctx context.Context, key Key) (Content, bool, error) {
	content, ok, err := FromStorage(c.storage, key)(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read cached %s: %w", key, err)
	}
	return content, ok, nil
}
