package txn

import (
	"context"
	"slices"
	"sync"

	"github.com/aweris/kvblob/internal/kv"
)

type state int

const (
	active state = iota
	committed
	rolledBack
)

// Tx is a staged transaction over a target storage.
type Tx struct {
	target  kv.Storage
	apply   ApplyFunc
	release func()

	keys  []kv.Key
	scope map[kv.Key]struct{}

	mu     sync.Mutex
	state  state
	staged map[kv.Key]Change
	order  []kv.Key
}

var _ kv.Transaction = (*Tx)(nil)

// Begin locks keys on locks and returns a transaction reading through target.
// A nil apply defaults to UndoApplier(target). Root cannot be scoped.
func Begin(ctx context.Context, target kv.Storage, locks *Locker, keys []kv.Key, apply ApplyFunc) (*Tx, error) {
	if err := kv.CheckKeys("transaction", keys...); err != nil {
		return nil, err
	}
	release, err := locks.Lock(ctx, keys)
	if err != nil {
		return nil, err
	}
	if apply == nil {
		apply = UndoApplier(target)
	}
	return newTx(target, keys, apply, release), nil
}

func newTx(target kv.Storage, keys []kv.Key, apply ApplyFunc, release func()) *Tx {
	sorted := SortedKeys(keys)
	scope := make(map[kv.Key]struct{}, len(sorted))
	for _, k := range sorted {
		scope[k] = struct{}{}
	}
	return &Tx{
		target:  target,
		apply:   apply,
		release: release,
		keys:    sorted,
		scope:   scope,
		staged:  make(map[kv.Key]Change),
	}
}

func (t *Tx) Keys() []kv.Key { return slices.Clone(t.keys) }

func (t *Tx) check(op string, keys ...kv.Key) error {
	t.mu.Lock()
	done := t.state != active
	t.mu.Unlock()
	if done {
		return kv.ErrTxDone
	}
	for _, k := range keys {
		if _, ok := t.scope[k]; !ok {
			return kv.OutOfScope(op, k)
		}
	}
	return nil
}

func (t *Tx) lookup(key kv.Key) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.staged[key]
	return ch, ok
}

func (t *Tx) stage(ch Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != active {
		return kv.ErrTxDone
	}
	if _, ok := t.staged[ch.Key]; !ok {
		t.order = append(t.order, ch.Key)
	}
	t.staged[ch.Key] = ch
	return nil
}

func (t *Tx) exists(ctx context.Context, key kv.Key) (bool, error) {
	if ch, ok := t.lookup(key); ok {
		return !ch.Delete, nil
	}
	return t.target.Exists(ctx, key)
}

func (t *Tx) Exists(ctx context.Context, key kv.Key) (bool, error) {
	if err := t.check("exists", key); err != nil {
		return false, err
	}
	return t.exists(ctx, key)
}

// List returns the in-scope keys under prefix that exist in this view.
func (t *Tx) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	if err := t.check("list"); err != nil {
		return nil, err
	}
	out := []kv.Key{}
	for _, k := range t.keys {
		if !k.HasPrefix(prefix) {
			continue
		}
		ok, err := t.exists(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (t *Tx) Save(ctx context.Context, key kv.Key, content kv.Content) error {
	if err := t.check("save", key); err != nil {
		content.Close()
		return err
	}
	data, err := kv.ReadAll(content)
	if err != nil {
		return err
	}
	return t.stage(Change{Key: key, Data: data})
}

func (t *Tx) value(ctx context.Context, op string, key kv.Key) (kv.Content, error) {
	if ch, ok := t.lookup(key); ok {
		if ch.Delete {
			return nil, kv.NotFound(op, key)
		}
		return kv.FromBytes(ch.Data), nil
	}
	return t.target.Value(ctx, key)
}

func (t *Tx) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	if err := t.check("value", key); err != nil {
		return nil, err
	}
	return t.value(ctx, "value", key)
}

func (t *Tx) Move(ctx context.Context, source, destination kv.Key) error {
	if err := t.check("move", source, destination); err != nil {
		return err
	}
	content, err := t.value(ctx, "move", source)
	if err != nil {
		return err
	}
	data, err := kv.ReadAll(content)
	if err != nil {
		return err
	}
	if source.Equal(destination) {
		return nil
	}
	if err := t.stage(Change{Key: destination, Data: data}); err != nil {
		return err
	}
	return t.stage(Change{Key: source, Delete: true})
}

func (t *Tx) Delete(ctx context.Context, key kv.Key) error {
	if err := t.check("delete", key); err != nil {
		return err
	}
	ok, err := t.exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return kv.NotFound("delete", key)
	}
	return t.stage(Change{Key: key, Delete: true})
}

// Transaction opens a nested transaction on a subset of t's scope. Its
// commit stages into t; t's locks already cover the keys.
func (t *Tx) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	if err := t.check("transaction", keys...); err != nil {
		return nil, err
	}
	apply := func(_ context.Context, changes []Change) error {
		for _, ch := range changes {
			if err := t.stage(ch); err != nil {
				return err
			}
		}
		return nil
	}
	return newTx(t, keys, apply, func() {}), nil
}

func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != active {
		t.mu.Unlock()
		return kv.ErrTxDone
	}
	t.state = committed
	changes := make([]Change, 0, len(t.order))
	for _, k := range t.order {
		changes = append(changes, t.staged[k])
	}
	t.mu.Unlock()

	defer t.release()
	if len(changes) == 0 {
		return nil
	}
	return t.apply(ctx, changes)
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case rolledBack:
		return nil
	case committed:
		return kv.ErrTxDone
	}
	t.state = rolledBack
	t.staged = nil
	t.order = nil
	t.release()
	return nil
}
