package kv

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("kvblob: not found")
	ErrOutOfScope        = errors.New("kvblob: key out of transaction scope")
	ErrTxDone            = errors.New("kvblob: transaction already committed or rolled back")
	ErrUnsupportedScheme = errors.New("kvblob: unsupported storage scheme")
	ErrInvalidKey        = errors.New("kvblob: invalid key")
)

// KeyError records the operation and key that failed.
type KeyError struct {
	Op  string
	Key Key
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key.String(), e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// NotFound returns ErrNotFound annotated with op and key.
func NotFound(op string, key Key) error {
	return &KeyError{Op: op, Key: key, Err: ErrNotFound}
}

// OutOfScope returns ErrOutOfScope annotated with op and key.
func OutOfScope(op string, key Key) error {
	return &KeyError{Op: op, Key: key, Err: ErrOutOfScope}
}

// InvalidKey returns ErrInvalidKey annotated with op and key.
func InvalidKey(op string, key Key) error {
	return &KeyError{Op: op, Key: key, Err: ErrInvalidKey}
}

// CheckKeys rejects Root, which cannot hold a value.
func CheckKeys(op string, keys ...Key) error {
	for _, k := range keys {
		if k.IsRoot() {
			return InvalidKey(op, k)
		}
	}
	return nil
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
