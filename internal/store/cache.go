package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aweris/kvblob/internal/kv"
)

// DefaultMaxCachedValue bounds the size of a single cached value.
const DefaultMaxCachedValue = 1 << 20

// valueCache keeps small, recently read values in memory. A nil
// *valueCache is a disabled cache.
type valueCache struct {
	entries  *lru.Cache[kv.Key, []byte]
	maxValue int64
}

func newValueCache(size int, maxValue int64) (*valueCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[kv.Key, []byte](size)
	if err != nil {
		return nil, err
	}
	if maxValue <= 0 {
		maxValue = DefaultMaxCachedValue
	}
	return &valueCache{entries: entries, maxValue: maxValue}, nil
}

func (c *valueCache) get(key kv.Key) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(key)
}

// fits reports whether a value of size bytes may be cached.
func (c *valueCache) fits(size int64) bool {
	return c != nil && size >= 0 && size <= c.maxValue
}

func (c *valueCache) add(key kv.Key, data []byte) {
	if c.fits(int64(len(data))) {
		c.entries.Add(key, data)
	}
}

func (c *valueCache) remove(keys ...kv.Key) {
	if c == nil {
		return
	}
	for _, k := range keys {
		c.entries.Remove(k)
	}
}

func (c *valueCache) purge() {
	if c != nil {
		c.entries.Purge()
	}
}
