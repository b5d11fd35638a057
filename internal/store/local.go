package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/aweris/kvblob/internal/compression"
	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/txn"
)

// tmpDirName holds in-flight writes. Keys whose first segment equals it are
// rejected and List never reports it.
const tmpDirName = ".kvblob-tmp"

var errNotDir = syscall.ENOTDIR

// Local implements kv.Storage on the local filesystem.
//
// Storage layout:
//
//	basePath/
//	  a/b/c              (value of key "a/b/c", optionally zstd framed)
//	  .kvblob-tmp/<uuid> (writes in progress)
//
// A value is published by renaming a fully written temp file into place, so
// readers never observe a partial value. A key and a key beneath it ("a" and
// "a/b") cannot be stored at the same time.
type Local struct {
	basePath   string
	tmpPath    string
	compressor *compression.Compressor
	cache      *valueCache
	locks      *txn.Locker

	// mu orders publishing renames against cached reads.
	mu sync.RWMutex
}

var _ kv.Storage = (*Local)(nil)

// LocalOptions configures a Local store.
type LocalOptions struct {
	Compression      bool
	CompressionLevel int
	CacheSize        int
	MaxCachedValue   int64
}

// NewLocal opens a store rooted at basePath, creating it if needed.
func NewLocal(basePath string, opts LocalOptions) (*Local, error) {
	tmpPath := filepath.Join(basePath, tmpDirName)
	if err := os.MkdirAll(tmpPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", tmpPath, err)
	}

	cache, err := newValueCache(opts.CacheSize, opts.MaxCachedValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Local{
		basePath:   basePath,
		tmpPath:    tmpPath,
		compressor: compression.NewCompressor(opts.CompressionLevel, opts.Compression),
		cache:      cache,
		locks:      txn.NewLocker(),
	}, nil
}

func (s *Local) Exists(ctx context.Context, key kv.Key) (bool, error) {
	if key.IsRoot() {
		return false, nil
	}
	path, err := s.objectPath("exists", key)
	if err != nil {
		return false, err
	}
	if err := live(ctx); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.cache.get(key); ok {
		return true, nil
	}
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
		return false, nil
	}
	return false, err
}

func (s *Local) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	root := s.basePath
	if !prefix.IsRoot() {
		var err error
		if root, err = s.objectPath("list", prefix); err != nil {
			return nil, err
		}
	}

	keys := []kv.Key{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
				return nil
			}
			return err
		}
		if err := live(ctx); err != nil {
			return err
		}
		if d.IsDir() {
			if path == s.tmpPath {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, kv.ParseKey(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	slices.SortFunc(keys, kv.Key.Compare)
	return keys, nil
}

func (s *Local) Save(ctx context.Context, key kv.Key, content kv.Content) (err error) {
	defer func() {
		if cerr := content.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	path, err := s.objectPath("save", key)
	if err != nil {
		return err
	}

	tmp, err := s.writeTemp(ctx, content)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := live(ctx); err != nil {
		return err
	}

	// prune runs under mu, so the directory survives until the rename.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish object: %w", err)
	}
	s.cache.remove(key)
	return nil
}

// writeTemp streams content into a new temp file and returns its path.
func (s *Local) writeTemp(ctx context.Context, content kv.Content) (string, error) {
	f, err := os.Create(filepath.Join(s.tmpPath, uuid.NewString()))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", err
	}

	w, err := s.compressor.NewValueWriter(f)
	if err != nil {
		return fail(fmt.Errorf("failed to create compressor: %w", err))
	}
	if _, err := io.Copy(w, contextReader{ctx: ctx, r: content}); err != nil {
		return fail(fmt.Errorf("failed to write object: %w", err))
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("failed to flush object: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync object: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	return name, nil
}

func (s *Local) Move(ctx context.Context, source, destination kv.Key) error {
	src, err := s.objectPath("move", source)
	if err != nil {
		return err
	}
	dst, err := s.objectPath("move", destination)
	if err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) || (err == nil && !info.Mode().IsRegular()) {
		return kv.NotFound("move", source)
	}
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move object: %w", err)
	}
	s.cache.remove(source, destination)
	s.prune(filepath.Dir(src))
	return nil
}

func (s *Local) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	if key.IsRoot() {
		return nil, kv.NotFound("value", key)
	}
	path, err := s.objectPath("value", key)
	if err != nil {
		return nil, err
	}
	if err := live(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if data, ok := s.cache.get(key); ok {
		s.mu.RUnlock()
		return kv.FromBytes(data), nil
	}

	f, err := os.Open(path)
	if err != nil {
		s.mu.RUnlock()
		if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
			return nil, kv.NotFound("value", key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		s.mu.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("failed to stat object: %w", err)
		}
		return nil, kv.NotFound("value", key)
	}

	if s.cache.fits(info.Size()) {
		defer s.mu.RUnlock()
		data, err := s.readAll(f)
		if err != nil {
			return nil, err
		}
		s.cache.add(key, data)
		return kv.FromBytes(data), nil
	}
	s.mu.RUnlock()

	r, compressed, err := s.compressor.NewValueReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	size := info.Size()
	if compressed {
		size = -1
	}
	return kv.NewContent(&fileReader{ReadCloser: r, file: f}, size), nil
}

func (s *Local) readAll(f *os.File) ([]byte, error) {
	defer f.Close()
	r, _, err := s.compressor.NewValueReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Local) Delete(ctx context.Context, key kv.Key) error {
	path, err := s.objectPath("delete", key)
	if err != nil {
		return err
	}
	if err := live(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) || (err == nil && !info.Mode().IsRegular()) {
		return kv.NotFound("delete", key)
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	s.cache.remove(key)
	s.prune(filepath.Dir(path))
	return nil
}

func (s *Local) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	for _, k := range keys {
		if _, err := s.objectPath("transaction", k); err != nil {
			return nil, err
		}
	}
	return txn.Begin(ctx, s, s.locks, keys, nil)
}

// Close drops cached values.
func (s *Local) Close() error {
	s.cache.purge()
	return nil
}

// objectPath maps a key to its file path. Root, keys under the temp
// directory and keys with path traversal segments are ErrInvalidKey.
func (s *Local) objectPath(op string, key kv.Key) (string, error) {
	parts := key.Parts()
	if len(parts) == 0 || parts[0] == tmpDirName {
		return "", kv.InvalidKey(op, key)
	}
	for _, p := range parts {
		if p == "." || p == ".." || filepath.Base(p) != p {
			return "", kv.InvalidKey(op, key)
		}
	}
	return filepath.Join(append([]string{s.basePath}, parts...)...), nil
}

// prune removes empty directories from dir up to the base path.
func (s *Local) prune(dir string) {
	for dir != s.basePath && dir != s.tmpPath && len(dir) > len(s.basePath) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// isNotDir reports whether err came from walking through a regular file,
// e.g. stat("a/b") when "a" is a value.
func isNotDir(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return errors.Is(pe.Err, errNotDir)
	}
	return false
}

type fileReader struct {
	io.ReadCloser
	file *os.File
}

func (r *fileReader) Close() error {
	rerr := r.ReadCloser.Close()
	if err := r.file.Close(); err != nil {
		return err
	}
	return rerr
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := live(c.ctx); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
