// Package kv defines the key/value blob storage contract shared by every
// backend: keys, lazy content streams, the Storage and Transaction
// interfaces, the forwarding Wrap and the error taxonomy.
package kv

import "context"

// Storage is a mutable namespace mapping keys to content.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Exists reports whether a value is stored at key.
	Exists(ctx context.Context, key Key) (bool, error)

	// List returns every stored key having prefix as a path prefix,
	// sorted by their textual form.
	List(ctx context.Context, prefix Key) ([]Key, error)

	// Save creates or overwrites the value at key. It consumes and closes
	// content on every path.
	Save(ctx context.Context, key Key, content Content) error

	// Move renames source to destination, overwriting destination.
	// Returns ErrNotFound if source does not exist.
	Move(ctx context.Context, source, destination Key) error

	// Value returns a fresh stream of the value at key. The caller closes it.
	// Returns ErrNotFound if key does not exist.
	Value(ctx context.Context, key Key) (Content, error)

	// Delete removes the value at key. Returns ErrNotFound if key does not exist.
	Delete(ctx context.Context, key Key) error

	// Transaction opens a transaction scoped to exactly keys.
	Transaction(ctx context.Context, keys []Key) (Transaction, error)
}

// Transaction is a Storage view restricted to a fixed key set. Its
// modifications are applied on Commit as a unit, or discarded on Rollback.
type Transaction interface {
	Storage

	// Keys returns the declared scope.
	Keys() []Key

	// Commit applies all staged modifications.
	Commit(ctx context.Context) error

	// Rollback discards all staged modifications.
	Rollback(ctx context.Context) error
}
