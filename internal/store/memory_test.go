package store

import (
	"testing"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) kv.Storage {
		return NewMemory()
	})
}
