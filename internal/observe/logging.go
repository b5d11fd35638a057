// Package observe provides kv.Storage decorators that report every
// operation to slog and OpenTelemetry. Each decorator embeds kv.Wrap and
// overrides all methods, so they stack in any order.
package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/aweris/kvblob/internal/kv"
)

// Logging logs each operation at debug level. Failures other than not-found
// are logged at warn level.
type Logging struct {
	kv.Wrap
	logger *slog.Logger
}

var _ kv.Storage = (*Logging)(nil)

// NewLogging wraps inner. A nil logger means slog.Default().
func NewLogging(inner kv.Storage, logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{Wrap: kv.Wrap{Inner: inner}, logger: logger}
}

func (l *Logging) log(ctx context.Context, op string, start time.Time, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("op", op), slog.Duration("duration", time.Since(start)))
	level := slog.LevelDebug
	if err != nil {
		attrs = append(attrs, slog.Any("err", err))
		if !kv.IsNotFound(err) {
			level = slog.LevelWarn
		}
	}
	l.logger.LogAttrs(ctx, level, "storage operation", attrs...)
}

func (l *Logging) Exists(ctx context.Context, key kv.Key) (bool, error) {
	start := time.Now()
	ok, err := l.Wrap.Exists(ctx, key)
	l.log(ctx, "exists", start, err, slog.String("key", key.String()), slog.Bool("exists", ok))
	return ok, err
}

func (l *Logging) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	start := time.Now()
	keys, err := l.Wrap.List(ctx, prefix)
	l.log(ctx, "list", start, err, slog.String("prefix", prefix.String()), slog.Int("count", len(keys)))
	return keys, err
}

func (l *Logging) Save(ctx context.Context, key kv.Key, content kv.Content) error {
	start := time.Now()
	err := l.Wrap.Save(ctx, key, content)
	l.log(ctx, "save", start, err, slog.String("key", key.String()))
	return err
}

func (l *Logging) Move(ctx context.Context, source, destination kv.Key) error {
	start := time.Now()
	err := l.Wrap.Move(ctx, source, destination)
	l.log(ctx, "move", start, err, slog.String("key", source.String()), slog.String("destination", destination.String()))
	return err
}

func (l *Logging) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	start := time.Now()
	content, err := l.Wrap.Value(ctx, key)
	l.log(ctx, "value", start, err, slog.String("key", key.String()))
	return content, err
}

func (l *Logging) Delete(ctx context.Context, key kv.Key) error {
	start := time.Now()
	err := l.Wrap.Delete(ctx, key)
	l.log(ctx, "delete", start, err, slog.String("key", key.String()))
	return err
}

func (l *Logging) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	start := time.Now()
	tx, err := l.Wrap.Transaction(ctx, keys)
	l.log(ctx, "transaction", start, err, slog.Int("keys", len(keys)))
	if err != nil {
		return nil, err
	}
	return &loggingTx{Logging: NewLogging(tx, l.logger), tx: tx}, nil
}

// loggingTx logs operations inside a transaction and its outcome.
type loggingTx struct {
	*Logging
	tx kv.Transaction
}

func (t *loggingTx) Keys() []kv.Key { return t.tx.Keys() }

func (t *loggingTx) Commit(ctx context.Context) error {
	start := time.Now()
	err := t.tx.Commit(ctx)
	t.log(ctx, "commit", start, err, slog.Int("keys", len(t.tx.Keys())))
	return err
}

func (t *loggingTx) Rollback(ctx context.Context) error {
	start := time.Now()
	err := t.tx.Rollback(ctx)
	t.log(ctx, "rollback", start, err)
	return err
}
