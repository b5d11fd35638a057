package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aweris/kvblob/internal/kv"
)

const (
	tracerName = "github.com/aweris/kvblob"
	keyAttr    = "kvblob.key"
)

// Tracing starts one span per operation, named "kvblob.<Op>". Not-found is
// recorded as an event, not as an error status.
type Tracing struct {
	kv.Wrap
	tracer trace.Tracer
}

var _ kv.Storage = (*Tracing)(nil)

// NewTracing wraps inner. A nil provider means the global one.
func NewTracing(inner kv.Storage, provider trace.TracerProvider) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracing{Wrap: kv.Wrap{Inner: inner}, tracer: provider.Tracer(tracerName)}
}

func (t *Tracing) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "kvblob."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	defer span.End()
	switch {
	case err == nil:
	case kv.IsNotFound(err):
		span.AddEvent("not found")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (t *Tracing) Exists(ctx context.Context, key kv.Key) (bool, error) {
	ctx, span := t.start(ctx, "Exists", attribute.String(keyAttr, key.String()))
	ok, err := t.Wrap.Exists(ctx, key)
	span.SetAttributes(attribute.Bool("kvblob.exists", ok))
	end(span, err)
	return ok, err
}

func (t *Tracing) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	ctx, span := t.start(ctx, "List", attribute.String(keyAttr, prefix.String()))
	keys, err := t.Wrap.List(ctx, prefix)
	span.SetAttributes(attribute.Int("kvblob.count", len(keys)))
	end(span, err)
	return keys, err
}

func (t *Tracing) Save(ctx context.Context, key kv.Key, content kv.Content) error {
	attrs := []attribute.KeyValue{attribute.String(keyAttr, key.String())}
	if n, ok := content.Size(); ok {
		attrs = append(attrs, attribute.Int64("kvblob.size", n))
	}
	ctx, span := t.start(ctx, "Save", attrs...)
	err := t.Wrap.Save(ctx, key, content)
	end(span, err)
	return err
}

func (t *Tracing) Move(ctx context.Context, source, destination kv.Key) error {
	ctx, span := t.start(ctx, "Move",
		attribute.String(keyAttr, source.String()),
		attribute.String("kvblob.destination", destination.String()))
	err := t.Wrap.Move(ctx, source, destination)
	end(span, err)
	return err
}

func (t *Tracing) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	ctx, span := t.start(ctx, "Value", attribute.String(keyAttr, key.String()))
	content, err := t.Wrap.Value(ctx, key)
	end(span, err)
	return content, err
}

func (t *Tracing) Delete(ctx context.Context, key kv.Key) error {
	ctx, span := t.start(ctx, "Delete", attribute.String(keyAttr, key.String()))
	err := t.Wrap.Delete(ctx, key)
	end(span, err)
	return err
}

func (t *Tracing) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	ctx, span := t.start(ctx, "Transaction", attribute.Int("kvblob.keys", len(keys)))
	tx, err := t.Wrap.Transaction(ctx, keys)
	end(span, err)
	if err != nil {
		return nil, err
	}
	return &tracingTx{Tracing: &Tracing{Wrap: kv.Wrap{Inner: tx}, tracer: t.tracer}, tx: tx}, nil
}

type tracingTx struct {
	*Tracing
	tx kv.Transaction
}

func (t *tracingTx) Keys() []kv.Key { return t.tx.Keys() }

func (t *tracingTx) Commit(ctx context.Context) error {
	ctx, span := t.start(ctx, "Commit", attribute.Int("kvblob.keys", len(t.tx.Keys())))
	err := t.tx.Commit(ctx)
	end(span, err)
	return err
}

func (t *tracingTx) Rollback(ctx context.Context) error {
	ctx, span := t.start(ctx, "Rollback")
	err := t.tx.Rollback(ctx)
	end(span, err)
	return err
}
