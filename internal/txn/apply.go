package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/aweris/kvblob/internal/kv"
)

// Change is one staged modification.
type Change struct {
	Key    kv.Key
	Data   []byte
	Delete bool
}

// ApplyFunc writes a set of changes to a backend as a unit.
type ApplyFunc func(ctx context.Context, changes []Change) error

// UndoApplier returns an ApplyFunc for backends without native multi-key
// atomicity. It records the prior value of every changed key, applies the
// changes in order and restores the recorded values if any step fails.
func UndoApplier(target kv.Storage) ApplyFunc {
	return func(ctx context.Context, changes []Change) error {
		undo := make([]Change, 0, len(changes))
		for _, ch := range changes {
			prev, err := snapshot(ctx, target, ch.Key)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", ch.Key, err)
			}
			undo = append(undo, prev)
		}

		for i, ch := range changes {
			if err := applyOne(ctx, target, ch); err != nil {
				rerr := restore(context.WithoutCancel(ctx), target, undo[:i+1])
				return errors.Join(fmt.Errorf("apply %s: %w", ch.Key, err), rerr)
			}
		}
		return nil
	}
}

func snapshot(ctx context.Context, target kv.Storage, key kv.Key) (Change, error) {
	content, err := target.Value(ctx, key)
	if kv.IsNotFound(err) {
		return Change{Key: key, Delete: true}, nil
	}
	if err != nil {
		return Change{}, err
	}
	data, err := kv.ReadAll(content)
	if err != nil {
		return Change{}, err
	}
	return Change{Key: key, Data: data}, nil
}

func applyOne(ctx context.Context, target kv.Storage, ch Change) error {
	if ch.Delete {
		if err := target.Delete(ctx, ch.Key); err != nil && !kv.IsNotFound(err) {
			return err
		}
		return nil
	}
	return target.Save(ctx, ch.Key, kv.FromBytes(ch.Data))
}

func restore(ctx context.Context, target kv.Storage, undo []Change) error {
	var errs []error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := applyOne(ctx, target, undo[i]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", undo[i].Key, err))
		}
	}
	return errors.Join(errs...)
}
