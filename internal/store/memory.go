package store

import (
	"context"
	"slices"
	"sync"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/txn"
)

// Memory keeps values in a map. Stored slices are never mutated, so values
// are served without copying.
type Memory struct {
	mu    sync.RWMutex
	data  map[kv.Key][]byte
	locks *txn.Locker
}

var _ kv.Storage = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[kv.Key][]byte),
		locks: txn.NewLocker(),
	}
}

func (m *Memory) Exists(ctx context.Context, key kv.Key) (bool, error) {
	if err := live(ctx); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	keys := make([]kv.Key, 0, len(m.data))
	for k := range m.data {
		if k.HasPrefix(prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(keys, kv.Key.Compare)
	return keys, nil
}

func (m *Memory) Save(ctx context.Context, key kv.Key, content kv.Content) error {
	if err := kv.CheckKeys("save", key); err != nil {
		content.Close()
		return err
	}
	data, err := kv.ReadAll(content)
	if err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *Memory) Move(ctx context.Context, source, destination kv.Key) error {
	if err := kv.CheckKeys("move", source, destination); err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[source]
	if !ok {
		return kv.NotFound("move", source)
	}
	delete(m.data, source)
	m.data[destination] = data
	return nil
}

func (m *Memory) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, kv.NotFound("value", key)
	}
	return kv.FromBytes(data), nil
}

func (m *Memory) Delete(ctx context.Context, key kv.Key) error {
	if err := kv.CheckKeys("delete", key); err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return kv.NotFound("delete", key)
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	return txn.Begin(ctx, m, m.locks, keys, m.apply)
}

// apply commits all changes under one write lock.
func (m *Memory) apply(ctx context.Context, changes []txn.Change) error {
	if err := live(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range changes {
		if ch.Delete {
			delete(m.data, ch.Key)
			continue
		}
		m.data[ch.Key] = ch.Data
	}
	return nil
}
