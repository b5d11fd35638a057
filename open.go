package kvblob

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/observe"
	"github.com/aweris/kvblob/internal/store"
)

// Handle is a storage opened with Open. Close releases the resources of the
// backend, such as a badger database.
type Handle struct {
	Storage
	uri   string
	close func() error
}

func (h *Handle) URI() string { return h.uri }

func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open creates or opens a storage for uri:
//
//	mem://                                    process memory
//	file:///var/lib/kvblob                    local directory
//	badger:///var/lib/kvblob.db               embedded badger database
//	badger://?in-memory=true                  in-memory badger database
//	s3://bucket/prefix?region=..&endpoint=..  S3 or S3 compatible bucket
//	s3://key:secret@bucket/prefix             S3 with static credentials
//
// file:// and badger:// without a path use a directory below the data dir.
func Open(ctx context.Context, uri string, opts ...OpenOption) (*Handle, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid storage uri %q: %w", uri, err)
	}

	var s Storage

	switch u.Scheme {
	case "mem", "memory":
		s = store.NewMemory()

	case "file":
		local, err := store.NewLocal(localPath(u, options.DataDir, "blobs"), store.LocalOptions{
			Compression:      options.Compression,
			CompressionLevel: options.CompressionLevel,
			CacheSize:        options.CacheSize,
			MaxCachedValue:   options.MaxCachedValue,
		})
		if err != nil {
			return nil, err
		}
		s = local

	case "badger":
		var badgerOpts []store.BadgerOption
		if inMemory, _ := strconv.ParseBool(u.Query().Get("in-memory")); inMemory {
			badgerOpts = append(badgerOpts, store.WithBadgerInMemory())
		}
		if v := u.Query().Get("value-log-size"); v != "" {
			size, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value-log-size %q: %w", v, err)
			}
			badgerOpts = append(badgerOpts, store.WithBadgerValueLogFileSize(size))
		}
		db, err := store.NewBadger(localPath(u, options.DataDir, "badger"), badgerOpts...)
		if err != nil {
			return nil, err
		}
		s = db

	case "s3":
		q := u.Query()
		cfg := store.S3Config{
			Bucket:   u.Host,
			Prefix:   strings.Trim(u.Path, "/"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if u.User != nil {
			cfg.AccessKey = u.User.Username()
			cfg.SecretKey, _ = u.User.Password()
		}
		s3, err := store.NewS3FromConfig(ctx, cfg, options.AWSConfig)
		if err != nil {
			return nil, err
		}
		s = s3

	default:
		return nil, fmt.Errorf("%w: %q", kv.ErrUnsupportedScheme, u.Scheme)
	}

	var closer func() error
	if c, ok := s.(store.Closer); ok {
		closer = c.Close
	}

	if options.Tracing {
		s = observe.NewTracing(s, options.TracerProvider)
	}
	if options.Logger != nil {
		s = observe.NewLogging(s, options.Logger)
	}

	return &Handle{Storage: s, uri: uri, close: closer}, nil
}

// localPath extracts a filesystem path from file:///abs, file://rel/dir or
// file:rel forms.
func localPath(u *url.URL, dataDir, fallback string) string {
	p := u.Opaque
	if p == "" {
		p = u.Host + u.Path
	}
	if p == "" {
		return filepath.Join(dataDir, fallback)
	}
	return filepath.FromSlash(p)
}
