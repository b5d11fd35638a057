package kvblob

import "github.com/aweris/kvblob/internal/kv"

var (
	ErrNotFound          = kv.ErrNotFound
	ErrOutOfScope        = kv.ErrOutOfScope
	ErrTxDone            = kv.ErrTxDone
	ErrUnsupportedScheme = kv.ErrUnsupportedScheme
	ErrInvalidKey        = kv.ErrInvalidKey
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return kv.IsNotFound(err) }
