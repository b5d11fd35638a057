package kvblob

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/aweris/kvblob/internal/kv"
)

// Remote supplies optional content. ok is false when there is none, which is
// not an error.
type Remote func(ctx context.Context) (content Content, ok bool, err error)

// FromStorage supplies the value of key in s, mapping ErrNotFound to absent.
func FromStorage(s Storage, key Key) Remote {
	return func(ctx context.Context) (Content, bool, error) {
		c, err := s.Value(ctx, key)
		if kv.IsNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return c, true, nil
	}
}

// CacheControl decides whether content supplied for key can be trusted.
type CacheControl interface {
	Validate(ctx context.Context, key Key, remote Remote) (bool, error)
}

// CacheControlFunc adapts a function to CacheControl.
type CacheControlFunc func(ctx context.Context, key Key, remote Remote) (bool, error)

func (f CacheControlFunc) Validate(ctx context.Context, key Key, remote Remote) (bool, error) {
	return f(ctx, key, remote)
}

var (
	// AlwaysValid trusts any content without reading it.
	AlwaysValid CacheControl = CacheControlFunc(func(context.Context, Key, Remote) (bool, error) {
		return true, nil
	})

	// NeverValid never trusts cached content.
	NeverValid CacheControl = CacheControlFunc(func(context.Context, Key, Remote) (bool, error) {
		return false, nil
	})
)

// AllOf validates only if every control does, stopping at the first that
// does not.
func AllOf(controls ...CacheControl) CacheControl {
	controls = slices.Clone(controls)
	return CacheControlFunc(func(ctx context.Context, key Key, remote Remote) (bool, error) {
		for _, c := range controls {
			ok, err := c.Validate(ctx, key, remote)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// DigestVerification checks content against a known digest. Content is hashed
// chunk by chunk and never held in memory as a whole.
type DigestVerification struct {
	algorithm Algorithm
	expected  []byte
	logger    *slog.Logger
}

var _ CacheControl = (*DigestVerification)(nil)

// NewDigestVerification accepts content whose alg digest equals expected.
func NewDigestVerification(alg Algorithm, expected []byte) *DigestVerification {
	return &DigestVerification{
		algorithm: alg,
		expected:  slices.Clone(expected),
		logger:    slog.Default(),
	}
}

// ParseDigestVerification builds a verification from "<algorithm>:<hex>".
func ParseDigestVerification(digest string) (*DigestVerification, error) {
	alg, sum, err := kv.ParseDigest(digest)
	if err != nil {
		return nil, err
	}
	return NewDigestVerification(alg, sum), nil
}

// WithLogger returns a copy of v that logs through logger.
func (v *DigestVerification) WithLogger(logger *slog.Logger) *DigestVerification {
	out := *v
	if logger != nil {
		out.logger = logger
	}
	return &out
}

func (v *DigestVerification) Algorithm() Algorithm { return v.algorithm }

// Validate reports whether remote supplies content whose digest equals the
// expected one. Absent content is false with no error. Read failures are
// returned as errors, never as a mismatch.
func (v *DigestVerification) Validate(ctx context.Context, key Key, remote Remote) (bool, error) {
	if !v.algorithm.Valid() {
		return false, errors.New("kvblob: digest verification with unsupported algorithm " + v.algorithm.String())
	}
	content, ok, err := remote(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		v.logger.DebugContext(ctx, "nothing to verify", slog.String("key", key.String()))
		return false, nil
	}

	sum, err := kv.Digest(content, v.algorithm)
	if err != nil {
		return false, err
	}
	match := bytes.Equal(sum, v.expected)
	v.logger.DebugContext(ctx, "verified digest",
		slog.String("key", key.String()),
		slog.String("algorithm", v.algorithm.String()),
		slog.Bool("match", match))
	return match, nil
}
