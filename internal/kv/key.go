package kv

import (
	"strings"
)

// Delimiter separates key segments in the textual form.
const Delimiter = "/"

// Key is an immutable hierarchical path of non-empty segments.
// The zero value is the root key, which is a prefix of every key.
type Key struct {
	path string
}

// Root is the empty key.
var Root = Key{}

// NewKey builds a key from parts. Every part is split on "/" and empty
// segments are dropped, so NewKey("a/b", "c") equals NewKey("a", "b", "c").
func NewKey(parts ...string) Key {
	var segs []string
	for _, p := range parts {
		for _, s := range strings.Split(p, Delimiter) {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	return Key{path: strings.Join(segs, Delimiter)}
}

// ParseKey parses the textual form of a key.
func ParseKey(s string) Key {
	return NewKey(s)
}

// String returns the "/"-delimited form. The root key is "".
func (k Key) String() string { return k.path }

// IsRoot reports whether k has no segments.
func (k Key) IsRoot() bool { return k.path == "" }

// Parts returns a copy of the segments.
func (k Key) Parts() []string {
	if k.path == "" {
		return nil
	}
	return strings.Split(k.path, Delimiter)
}

// Equal reports whether k and other name the same path.
func (k Key) Equal(other Key) bool { return k.path == other.path }

// HasPrefix reports whether prefix's segments are a prefix of k's segments.
// "a/b" is a prefix of "a/b/c" and of "a/b" but not of "a/bc".
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.path == "" {
		return true
	}
	rest, ok := strings.CutPrefix(k.path, prefix.path)
	return ok && (rest == "" || strings.HasPrefix(rest, Delimiter))
}

// Parent returns the key without its last segment and false for the root key.
func (k Key) Parent() (Key, bool) {
	if k.path == "" {
		return Root, false
	}
	i := strings.LastIndex(k.path, Delimiter)
	if i < 0 {
		return Root, true
	}
	return Key{path: k.path[:i]}, true
}

// Base returns the last segment.
func (k Key) Base() string {
	if i := strings.LastIndex(k.path, Delimiter); i >= 0 {
		return k.path[i+1:]
	}
	return k.path
}

// Child appends parts to k.
func (k Key) Child(parts ...string) Key {
	return NewKey(append([]string{k.path}, parts...)...)
}

// Compare orders keys by their textual form.
func (k Key) Compare(other Key) int {
	return strings.Compare(k.path, other.path)
}
