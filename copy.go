package kvblob

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sourcegraph/conc/pool"
)

// DefaultCopyConcurrency bounds parallel key transfers of a Copy.
const DefaultCopyConcurrency = 4

// Keys selects the working set of a Copy: either every key of the source or
// an explicit list.
type Keys struct {
	all  bool
	keys []Key
}

// AllKeys selects every key the source lists under Root.
func AllKeys() Keys { return Keys{all: true} }

// ExplicitKeys selects exactly keys. Duplicates are copied once.
func ExplicitKeys(keys ...Key) Keys { return Keys{keys: slices.Clone(keys)} }

// IsAll reports whether k is the AllKeys selection.
func (k Keys) IsAll() bool { return k.all }

func (k Keys) resolve(ctx context.Context, from Storage) ([]Key, error) {
	if k.all {
		keys, err := from.List(ctx, Root)
		if err != nil {
			return nil, fmt.Errorf("list source: %w", err)
		}
		return keys, nil
	}
	keys := slices.Clone(k.keys)
	slices.SortFunc(keys, Key.Compare)
	return slices.Compact(keys), nil
}

// Copy mirrors keys of one storage into another. It only adds or overwrites
// destination keys and never deletes. A failed copy may leave some keys
// transferred.
type Copy struct {
	from        Storage
	keys        Keys
	concurrency int
	logger      *slog.Logger
}

// CopyOption configures a Copy.
type CopyOption func(*Copy)

// WithKeys restricts the copy to a key selection. The default is AllKeys.
func WithKeys(keys Keys) CopyOption {
	return func(c *Copy) { c.keys = keys }
}

// WithConcurrency sets how many keys are transferred at once.
func WithConcurrency(n int) CopyOption {
	return func(c *Copy) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCopyLogger sets the logger for per-key progress. The default is
// slog.Default.
func WithCopyLogger(logger *slog.Logger) CopyOption {
	return func(c *Copy) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCopy prepares a copy from the given storage. Nothing is transferred
// until To is called.
func NewCopy(from Storage, opts ...CopyOption) *Copy {
	c := &Copy{
		from:        from,
		keys:        AllKeys(),
		concurrency: DefaultCopyConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// To resolves the working set once and transfers every key into dst. It
// returns the first failure; remaining transfers are cancelled through ctx.
func (c *Copy) To(ctx context.Context, dst Storage) error {
	keys, err := c.keys.resolve(ctx, c.from)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	p := pool.New().
		WithMaxGoroutines(c.concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, key := range keys {
		p.Go(func(ctx context.Context) error {
			return c.transfer(ctx, key, dst)
		})
	}
	return p.Wait()
}

func (c *Copy) transfer(ctx context.Context, key Key, dst Storage) error {
	content, err := c.from.Value(ctx, key)
	if err != nil {
		return fmt.Errorf("copy %s: %w", key, err)
	}
	// Save closes content on every path.
	if err := dst.Save(ctx, key, content); err != nil {
		return fmt.Errorf("copy %s: %w", key, err)
	}
	c.logger.DebugContext(ctx, "copied key", slog.String("key", key.String()))
	return nil
}
