package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/aweris/kvblob/internal/kv"
)

const (
	LayerTargetSize = 5 * 1024 * 1024  // 5MB target
	LayerMinSize    = 2 * 1024 * 1024  // 2MB minimum before combining
	LayerSoftMax    = 10 * 1024 * 1024 // 10MB soft maximum
	entryDigestLen  = 32               // raw sha256
)

// ErrCorruptEntry is returned when an unpacked entry does not match its
// recorded digest.
var ErrCorruptEntry = errors.New("kvblob: snapshot entry digest mismatch")

// Entry is one key and its value inside a layer.
type Entry struct {
	Key    kv.Key
	Data   []byte
	Digest []byte
}

// NewEntry computes the digest of data.
func NewEntry(key kv.Key, data []byte) (Entry, error) {
	sum, err := kv.Digest(kv.FromBytes(data), kv.SHA256)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Data: data, Digest: sum}, nil
}

// Verify recomputes the digest of e.Data and compares it with e.Digest.
func (e Entry) Verify() error {
	sum, err := kv.Digest(kv.FromBytes(e.Data), kv.SHA256)
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, e.Digest) {
		return &kv.KeyError{Op: "verify", Key: e.Key, Err: ErrCorruptEntry}
	}
	return nil
}

// GroupByPrefix groups entries by the first segment of their key.
func GroupByPrefix(entries []Entry) map[string][]Entry {
	result := make(map[string][]Entry)
	for _, e := range entries {
		prefix := ""
		if parts := e.Key.Parts(); len(parts) > 0 {
			prefix = parts[0]
		}
		result[prefix] = append(result[prefix], e)
	}
	return result
}

func groupSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += int64(len(e.Data))
	}
	return total
}

// PackLayer encodes entries sorted by key as
// [keyLen u16][key][sha256 32B][len u64][data]...
func PackLayer(entries []Entry) ([]byte, error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return a.Key.Compare(b.Key) })

	var buf bytes.Buffer
	var hdr [8]byte
	for _, e := range sorted {
		key := e.Key.String()
		if len(key) == 0 || len(key) > math.MaxUint16 {
			return nil, fmt.Errorf("pack %q: key length %d out of range", key, len(key))
		}
		if len(e.Digest) != entryDigestLen {
			return nil, fmt.Errorf("pack %q: digest must be %d bytes", key, entryDigestLen)
		}

		binary.BigEndian.PutUint16(hdr[:2], uint16(len(key)))
		buf.Write(hdr[:2])
		buf.WriteString(key)
		buf.Write(e.Digest)
		binary.BigEndian.PutUint64(hdr[:], uint64(len(e.Data)))
		buf.Write(hdr[:])
		buf.Write(e.Data)
	}
	return buf.Bytes(), nil
}

// UnpackLayer decodes a layer produced by PackLayer. It does not verify
// digests; see Entry.Verify.
func UnpackLayer(data []byte) ([]Entry, error) {
	var entries []Entry
	r := bytes.NewReader(data)
	var hdr [8]byte

	for r.Len() > 0 {
		if err := readFull(r, hdr[:2]); err != nil {
			return nil, fmt.Errorf("read key length: %w", err)
		}
		key := make([]byte, binary.BigEndian.Uint16(hdr[:2]))
		if err := readFull(r, key); err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}

		digest := make([]byte, entryDigestLen)
		if err := readFull(r, digest); err != nil {
			return nil, fmt.Errorf("read digest of %q: %w", key, err)
		}

		if err := readFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("read length of %q: %w", key, err)
		}
		length := binary.BigEndian.Uint64(hdr[:])
		if length > uint64(r.Len()) {
			return nil, fmt.Errorf("read data of %q: %w", key, io.ErrUnexpectedEOF)
		}
		value := make([]byte, length)
		if err := readFull(r, value); err != nil {
			return nil, fmt.Errorf("read data of %q: %w", key, err)
		}

		entries = append(entries, Entry{Key: kv.ParseKey(string(key)), Data: value, Digest: digest})
	}
	return entries, nil
}

// readFull treats running out of input inside an entry as truncation.
func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// BuildLayerPlan bins prefixes, in sorted order, into layers of roughly
// LayerTargetSize. Small trailing groups may grow a layer up to twice
// LayerSoftMax.
func BuildLayerPlan(prefixSizes map[string]int64) [][]string {
	prefixes := make([]string, 0, len(prefixSizes))
	for p := range prefixSizes {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)

	var layers [][]string
	var current []string
	var size int64

	for _, prefix := range prefixes {
		n := prefixSizes[prefix]
		switch {
		case len(current) == 0:
			current, size = []string{prefix}, n
		case size+n <= LayerSoftMax, size < LayerMinSize && size+n <= 2*LayerSoftMax:
			current = append(current, prefix)
			size += n
		default:
			layers = append(layers, current)
			current, size = []string{prefix}, n
		}
	}
	if len(current) > 0 {
		layers = append(layers, current)
	}
	return layers
}

// planLayers groups entries into layer-sized batches.
func planLayers(entries []Entry) [][]Entry {
	byPrefix := GroupByPrefix(entries)
	sizes := make(map[string]int64, len(byPrefix))
	for prefix, group := range byPrefix {
		sizes[prefix] = groupSize(group)
	}

	var out [][]Entry
	for _, prefixes := range BuildLayerPlan(sizes) {
		var batch []Entry
		for _, p := range prefixes {
			batch = append(batch, byPrefix[p]...)
		}
		out = append(out, batch)
	}
	return out
}
