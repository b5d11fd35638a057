// Package txn implements key-scoped transactions on top of any kv.Storage.
//
// A transaction holds exclusive per-key locks for its whole lifetime. Locks are
// acquired in sorted key order when the transaction opens, so two
// transactions with overlapping scopes serialize instead of deadlocking.
// Writes are staged in memory and applied on Commit.
package txn

import (
	"context"
	"slices"
	"sync"

	"github.com/aweris/kvblob/internal/kv"
)

// Locker hands out exclusive locks per key. The zero value is not usable;
// use NewLocker.
type Locker struct {
	mu   sync.Mutex
	held map[kv.Key]chan struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[kv.Key]chan struct{})}
}

// Lock blocks until every key is locked or ctx is done. The returned
// function releases all of them and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, keys []kv.Key) (func(), error) {
	ordered := SortedKeys(keys)
	acquired := make([]kv.Key, 0, len(ordered))

	var once sync.Once
	release := func() {
		once.Do(func() { l.unlock(acquired) })
	}

	for _, key := range ordered {
		if err := l.lockOne(ctx, key); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, key)
	}
	return release, nil
}

func (l *Locker) lockOne(ctx context.Context, key kv.Key) error {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Locker) unlock(keys []kv.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if ch, ok := l.held[key]; ok {
			delete(l.held, key)
			close(ch)
		}
	}
}

// SortedKeys returns keys deduplicated and sorted by their textual form.
func SortedKeys(keys []kv.Key) []kv.Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, kv.Key.Compare)
	return slices.Compact(out)
}
