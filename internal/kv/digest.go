package kv

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/minio/sha256-simd"
	"lukechampine.com/blake3"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm int

const (
	MD5 Algorithm = iota + 1
	SHA1
	SHA256
	SHA512
	BLAKE3
)

var algorithmNames = map[Algorithm]string{
	MD5:    "md5",
	SHA1:   "sha1",
	SHA256: "sha256",
	SHA512: "sha512",
	BLAKE3: "blake3",
}

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA1, SHA256, SHA512, BLAKE3}
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := algorithmNames[a]
	return ok
}

// New returns a fresh incremental hasher. It panics for unsupported values.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	case BLAKE3:
		return blake3.New(32, nil)
	}
	panic("kvblob: unsupported digest algorithm " + a.String())
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case SHA512:
		return sha512.Size
	case BLAKE3:
		return 32
	}
	return 0
}

// ParseAlgorithm accepts names like "sha256", "SHA-256" or "md5".
func ParseAlgorithm(name string) (Algorithm, error) {
	norm := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	for a, n := range algorithmNames {
		if n == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("kvblob: unknown digest algorithm %q", name)
}

// ParseDigest parses "<algorithm>:<hex>" such as "sha256:9f86d0...".
func ParseDigest(s string) (Algorithm, []byte, error) {
	name, encoded, ok := strings.Cut(s, ":")
	if !ok {
		return 0, nil, fmt.Errorf("kvblob: digest %q has no algorithm prefix", s)
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return 0, nil, err
	}
	sum, err := hex.DecodeString(encoded)
	if err != nil {
		return 0, nil, fmt.Errorf("kvblob: invalid digest hex: %w", err)
	}
	if len(sum) != alg.Size() {
		return 0, nil, fmt.Errorf("kvblob: %s digest must be %d bytes, got %d", alg, alg.Size(), len(sum))
	}
	return alg, sum, nil
}

// Digest streams c through alg chunk by chunk and closes it.
func Digest(c Content, alg Algorithm) (sum []byte, err error) {
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if !alg.Valid() {
		return nil, fmt.Errorf("kvblob: unsupported digest algorithm %s", alg)
	}
	h := alg.New()
	for chunk, rerr := range Chunks(c, DefaultChunkSize) {
		if rerr != nil {
			return nil, fmt.Errorf("read content: %w", rerr)
		}
		h.Write(chunk)
	}
	return h.Sum(nil), nil
}
