package kv

import "context"

// Wrap forwards every Storage operation to Inner unchanged. Decorators embed
// it and override only the operations they change.
type Wrap struct {
	Inner Storage
}

var _ Storage = Wrap{}

func (w Wrap) Exists(ctx context.Context, key Key) (bool, error) {
	return w.Inner.Exists(ctx, key)
}

func (w Wrap) List(ctx context.Context, prefix Key) ([]Key, error) {
	return w.Inner.List(ctx, prefix)
}

func (w Wrap) Save(ctx context.Context, key Key, content Content) error {
	return w.Inner.Save(ctx, key, content)
}

func (w Wrap) Move(ctx context.Context, source, destination Key) error {
	return w.Inner.Move(ctx, source, destination)
}

func (w Wrap) Value(ctx context.Context, key Key) (Content, error) {
	return w.Inner.Value(ctx, key)
}

func (w Wrap) Delete(ctx context.Context, key Key) error {
	return w.Inner.Delete(ctx, key)
}

func (w Wrap) Transaction(ctx context.Context, keys []Key) (Transaction, error) {
	return w.Inner.Transaction(ctx, keys)
}
