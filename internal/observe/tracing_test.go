package observe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/store"
	"github.com/aweris/kvblob/internal/storetest"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	rec := tracetest.NewSpanRecorder()
	return rec, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, a := range span.Attributes() {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) kv.Storage {
		_, tp := newRecorder()
		return NewTracing(store.NewMemory(), tp)
	})
}

func TestTracing_Spans(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	s := NewTracing(store.NewMemory(), tp)

	require.NoError(t, s.Save(ctx, kv.ParseKey("a/b"), kv.FromBytes([]byte("xyz"))))
	_, err := s.Value(ctx, kv.ParseKey("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	save := spans[0]
	assert.Equal(t, "kvblob.Save", save.Name())
	v, ok := attr(save, "kvblob.key")
	require.True(t, ok)
	assert.Equal(t, "a/b", v.AsString())
	v, ok = attr(save, "kvblob.size")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
	assert.Equal(t, codes.Unset, save.Status().Code)

	value := spans[1]
	assert.Equal(t, "kvblob.Value", value.Name())
	assert.Equal(t, codes.Unset, value.Status().Code, "not-found is not an error")
	require.Len(t, value.Events(), 1)
	assert.Equal(t, "not found", value.Events()[0].Name)
}

type failingStorage struct{ kv.Wrap }

var errBackend = errors.New("backend down")

func (failingStorage) Delete(context.Context, kv.Key) error { return errBackend }

func TestTracing_RecordsErrors(t *testing.T) {
	rec, tp := newRecorder()
	s := NewTracing(failingStorage{kv.Wrap{Inner: store.NewMemory()}}, tp)

	err := s.Delete(context.Background(), kv.ParseKey("k"))
	require.ErrorIs(t, err, errBackend)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "backend down", spans[0].Status().Description)
}

func TestTracing_TransactionSpans(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	s := NewTracing(store.NewMemory(), tp)

	tx, err := s.Transaction(ctx, []kv.Key{kv.ParseKey("k")})
	require.NoError(t, err)
	require.NoError(t, tx.Save(ctx, kv.ParseKey("k"), kv.FromBytes([]byte("v"))))
	require.NoError(t, tx.Rollback(ctx))

	var names []string
	for _, span := range rec.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"kvblob.Transaction", "kvblob.Save", "kvblob.Rollback"}, names)
}

func TestDecorators_Stack(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	s := NewLogging(NewTracing(store.NewMemory(), tp), nil)

	storetest.Save(t, s, kv.ParseKey("k"), []byte("v"))
	assert.Equal(t, []byte("v"), storetest.Read(t, s, kv.ParseKey("k")))
	ok, err := s.Exists(ctx, kv.ParseKey("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, rec.Ended(), 3)
}
