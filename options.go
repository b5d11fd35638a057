package kvblob

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.opentelemetry.io/otel/trace"
)

// OpenOptions configures a storage opened with Open.
type OpenOptions struct {
	DataDir          string
	Logger           *slog.Logger
	Compression      bool
	CompressionLevel int
	CacheSize        int
	MaxCachedValue   int64
	Tracing          bool
	TracerProvider   trace.TracerProvider
	AWSConfig        *aws.Config
}

// OpenOption is a functional option for configuring Open.
type OpenOption func(*OpenOptions)

func defaultOptions() *OpenOptions {
	return &OpenOptions{
		DataDir: defaultDataDir(),
	}
}

// WithDataDir sets the directory used by file:// and badger:// URIs that
// carry no path.
func WithDataDir(dir string) OpenOption {
	return func(o *OpenOptions) { o.DataDir = dir }
}

// WithLogger wraps the storage with a logging decorator.
func WithLogger(logger *slog.Logger) OpenOption {
	return func(o *OpenOptions) { o.Logger = logger }
}

// WithCompression stores local values zstd compressed. Levels 1 to 3 trade
// speed for ratio; anything else uses the default level.
func WithCompression(level int) OpenOption {
	return func(o *OpenOptions) {
		o.Compression = true
		o.CompressionLevel = level
	}
}

// WithCacheSize keeps up to n small local values in memory.
func WithCacheSize(n int) OpenOption {
	return func(o *OpenOptions) {
		if n >= 0 {
			o.CacheSize = n
		}
	}
}

// WithMaxCachedValue bounds the size of a single cached value in bytes.
func WithMaxCachedValue(n int64) OpenOption {
	return func(o *OpenOptions) { o.MaxCachedValue = n }
}

// WithTracing wraps the storage with an OpenTelemetry tracing decorator using
// the global tracer provider.
func WithTracing(enabled bool) OpenOption {
	return func(o *OpenOptions) { o.Tracing = enabled }
}

// WithTracerProvider enables tracing with a specific provider.
func WithTracerProvider(tp trace.TracerProvider) OpenOption {
	return func(o *OpenOptions) {
		o.Tracing = true
		o.TracerProvider = tp
	}
}

// WithAWSConfig sets the AWS configuration for s3:// URIs instead of loading
// the default chain.
func WithAWSConfig(cfg aws.Config) OpenOption {
	return func(o *OpenOptions) { o.AWSConfig = &cfg }
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "kvblob")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "kvblob")
	}
	return ".kvblob"
}
