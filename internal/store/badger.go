package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/txn"
)

const defaultBadgerValueLogFileSize = 128 * 1024 * 1024 // 128MB

// Badger implements kv.Storage on an embedded badger database. Multi-key
// operations (Move and transaction commits) run inside a single badger
// transaction.
type Badger struct {
	db    *badger.DB
	locks *txn.Locker
}

var _ kv.Storage = (*Badger)(nil)

type badgerConfig struct {
	valueLogFileSize int64
	inMemory         bool
}

// BadgerOption customizes how Badger is opened.
type BadgerOption func(*badgerConfig) error

// WithBadgerValueLogFileSize sets max bytes per value log (vlog) file.
func WithBadgerValueLogFileSize(sizeBytes int64) BadgerOption {
	return func(cfg *badgerConfig) error {
		if sizeBytes <= 0 {
			return fmt.Errorf("badger value log file size must be > 0, got %d", sizeBytes)
		}
		cfg.valueLogFileSize = sizeBytes
		return nil
	}
}

// WithBadgerInMemory keeps all data in memory; the path is ignored.
func WithBadgerInMemory() BadgerOption {
	return func(cfg *badgerConfig) error {
		cfg.inMemory = true
		return nil
	}
}

// NewBadger opens (or creates) a badger database at path.
func NewBadger(path string, options ...BadgerOption) (*Badger, error) {
	cfg := badgerConfig{
		valueLogFileSize: defaultBadgerValueLogFileSize,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithValueLogFileSize(cfg.valueLogFileSize)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}

	return &Badger{db: db, locks: txn.NewLocker()}, nil
}

func (s *Badger) Close() error {
	return s.db.Close()
}

func (s *Badger) Exists(ctx context.Context, key kv.Key) (bool, error) {
	if err := live(ctx); err != nil || key.IsRoot() {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (s *Badger) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	keys := []kv.Key{}
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerKey(prefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := live(ctx); err != nil {
				return err
			}
			keys = append(keys, kv.ParseKey(string(it.Item().KeyCopy(nil))))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Byte prefix "a/b" also matches "a/bc"; keep segment prefixes only.
	return filterPrefix(keys, prefix), nil
}

func (s *Badger) Save(ctx context.Context, key kv.Key, content kv.Content) error {
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
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(badgerKey(key), data)
	})
}

func (s *Badger) Move(ctx context.Context, source, destination kv.Key) error {
	if err := kv.CheckKeys("move", source, destination); err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		item, err := tx.Get(badgerKey(source))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return kv.NotFound("move", source)
		}
		if err != nil {
			return err
		}
		if source.Equal(destination) {
			return nil
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := tx.Set(badgerKey(destination), data); err != nil {
			return err
		}
		return tx.Delete(badgerKey(source))
	})
}

func (s *Badger) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	if key.IsRoot() {
		return nil, kv.NotFound("value", key)
	}
	var data []byte
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(badgerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return kv.NotFound("value", key)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return kv.FromBytes(data), nil
}

func (s *Badger) Delete(ctx context.Context, key kv.Key) error {
	if err := kv.CheckKeys("delete", key); err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		if _, err := tx.Get(badgerKey(key)); errors.Is(err, badger.ErrKeyNotFound) {
			return kv.NotFound("delete", key)
		} else if err != nil {
			return err
		}
		return tx.Delete(badgerKey(key))
	})
}

func (s *Badger) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	return txn.Begin(ctx, s, s.locks, keys, s.apply)
}

// apply commits every change in one badger transaction. Badger's own
// conflict detection still applies against concurrent non-transactional
// writers and surfaces as badger.ErrConflict.
func (s *Badger) apply(ctx context.Context, changes []txn.Change) error {
	if err := live(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		for _, ch := range changes {
			var err error
			if ch.Delete {
				err = tx.Delete(badgerKey(ch.Key))
			} else {
				err = tx.Set(badgerKey(ch.Key), ch.Data)
			}
			if err != nil {
				return fmt.Errorf("stage %s: %w", ch.Key, err)
			}
		}
		return nil
	})
}

func badgerKey(key kv.Key) []byte {
	return []byte(key.String())
}
