package kvblob

import (
	"io"
	"iter"

	"github.com/aweris/kvblob/internal/kv"
)

// Storage is the public interface for key/value blob storage.
// Re-exported from internal/kv for convenience.
type (
	Key         = kv.Key
	Content     = kv.Content
	Storage     = kv.Storage
	Transaction = kv.Transaction
	Wrap        = kv.Wrap
	Algorithm   = kv.Algorithm
	KeyError    = kv.KeyError
)

const (
	MD5    = kv.MD5
	SHA1   = kv.SHA1
	SHA256 = kv.SHA256
	SHA512 = kv.SHA512
	BLAKE3 = kv.BLAKE3
)

// Root is the empty key, a prefix of every key.
var Root = kv.Root

func NewKey(parts ...string) Key { return kv.NewKey(parts...) }
func ParseKey(s string) Key      { return kv.ParseKey(s) }

// NewContent wraps r; a negative size means unknown.
func NewContent(r io.Reader, size int64) Content { return kv.NewContent(r, size) }
func FromBytes(b []byte) Content                 { return kv.FromBytes(b) }
func EmptyContent() Content                      { return kv.Empty() }

// ReadAll drains c into memory and closes it.
func ReadAll(c Content) ([]byte, error) { return kv.ReadAll(c) }

// Chunks yields c in chunks of at most size bytes without closing it.
func Chunks(c Content, size int) iter.Seq2[[]byte, error] { return kv.Chunks(c, size) }

func ParseAlgorithm(name string) (Algorithm, error) { return kv.ParseAlgorithm(name) }

// ParseDigest parses "<algorithm>:<hex>".
func ParseDigest(s string) (Algorithm, []byte, error) { return kv.ParseDigest(s) }

// Digest hashes c with alg and closes it.
func Digest(c Content, alg Algorithm) ([]byte, error) { return kv.Digest(c, alg) }
