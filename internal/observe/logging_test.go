package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/store"
	"github.com/aweris/kvblob/internal/storetest"
)

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestLogging_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) kv.Storage {
		var buf bytes.Buffer
		return NewLogging(store.NewMemory(), newBufferLogger(&buf))
	})
}

func TestLogging_Levels(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	s := NewLogging(store.NewMemory(), newBufferLogger(&buf))

	require.NoError(t, s.Save(ctx, kv.ParseKey("a/b"), kv.FromBytes([]byte("x"))))
	_, err := s.Value(ctx, kv.ParseKey("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Exists(cancelled, kv.ParseKey("a/b"))
	require.Error(t, err)

	recs := records(t, &buf)
	require.Len(t, recs, 3)

	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "save", recs[0]["op"])
	assert.Equal(t, "a/b", recs[0]["key"])
	assert.Contains(t, recs[0], "duration")

	assert.Equal(t, "DEBUG", recs[1]["level"], "not-found is routine")
	assert.Equal(t, "value", recs[1]["op"])

	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Contains(t, recs[2], "err")
}

func TestLogging_Transaction(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	s := NewLogging(store.NewMemory(), newBufferLogger(&buf))

	tx, err := s.Transaction(ctx, []kv.Key{kv.ParseKey("k")})
	require.NoError(t, err)
	require.NoError(t, tx.Save(ctx, kv.ParseKey("k"), kv.FromBytes([]byte("v"))))
	require.NoError(t, tx.Commit(ctx))

	var ops []any
	for _, rec := range records(t, &buf) {
		ops = append(ops, rec["op"])
	}
	assert.Equal(t, []any{"transaction", "save", "commit"}, ops)
}
