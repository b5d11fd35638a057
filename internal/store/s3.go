package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/aweris/kvblob/internal/kv"
	"github.com/aweris/kvblob/internal/txn"
)

// maxMemorySpool is the largest known-size value buffered in memory before
// upload. Larger or unknown-size values are spooled to a temp file.
const maxMemorySpool = 8 << 20

// S3API is the subset of the S3 client used by S3.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 implements kv.Storage on an S3 bucket. Keys map to object names below
// an optional prefix. Move is a copy followed by a delete; it is atomic for
// callers of the same S3 value but other clients of the bucket can observe
// both objects or, after a failed delete, a copy left behind.
type S3 struct {
	client S3API
	bucket string
	prefix string
	locks  *txn.Locker

	// mu is held exclusively by Move and shared by every other operation.
	mu sync.RWMutex
}

var _ kv.Storage = (*S3)(nil)

// S3Config describes how to reach a bucket.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3 stores objects in bucket below prefix using client.
func NewS3(client S3API, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		locks:  txn.NewLocker(),
	}
}

// NewS3FromConfig builds a client from the default AWS configuration chain,
// overridden by the non-empty fields of cfg. A custom endpoint switches the
// client to path-style addressing for S3-compatible services.
func NewS3FromConfig(ctx context.Context, cfg S3Config, base *aws.Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage: bucket is required")
	}

	var awsCfg aws.Config
	if base != nil {
		awsCfg = base.Copy()
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
		}
		loaded, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = loaded
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *S3) objectKey(key kv.Key) string {
	if s.prefix == "" {
		return key.String()
	}
	return path.Join(s.prefix, key.String())
}

func (s *S3) listPrefix(prefix kv.Key) string {
	switch {
	case s.prefix == "" && prefix.IsRoot():
		return ""
	case prefix.IsRoot():
		return s.prefix + "/"
	default:
		return s.objectKey(prefix)
	}
}

func (s *S3) Exists(ctx context.Context, key kv.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists(ctx, key)
}

func (s *S3) exists(ctx context.Context, key kv.Key) (bool, error) {
	if key.IsRoot() {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head %s: %w", key, err)
}

func (s *S3) List(ctx context.Context, prefix kv.Key) ([]kv.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []kv.Key{}
	trim := ""
	if s.prefix != "" {
		trim = s.prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.listPrefix(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasPrefix(*obj.Key, trim) {
				continue
			}
			keys = append(keys, kv.ParseKey(strings.TrimPrefix(*obj.Key, trim)))
		}
	}

	keys = filterPrefix(keys, prefix)
	slices.SortFunc(keys, kv.Key.Compare)
	return keys, nil
}

func (s *S3) Save(ctx context.Context, key kv.Key, content kv.Content) error {
	if err := kv.CheckKeys("save", key); err != nil {
		content.Close()
		return err
	}
	body, size, cleanup, err := spool(content)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := live(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// spool drains content into a seekable body so the SDK can sign and retry
// the upload. It always closes content.
func spool(content kv.Content) (io.ReadSeeker, int64, func(), error) {
	if size, ok := content.Size(); ok && size <= maxMemorySpool {
		data, err := kv.ReadAll(content)
		if err != nil {
			return nil, 0, nil, err
		}
		return bytes.NewReader(data), int64(len(data)), func() {}, nil
	}

	defer content.Close()
	f, err := os.CreateTemp("", "kvblob-s3-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	n, err := io.Copy(f, content)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("read content: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	return f, n, cleanup, nil
}

func (s *S3) Move(ctx context.Context, source, destination kv.Key) error {
	if err := kv.CheckKeys("move", source, destination); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.exists(ctx, source)
	if err != nil {
		return err
	}
	if !ok {
		return kv.NotFound("move", source)
	}
	if source.Equal(destination) {
		return nil
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(destination)),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + s.objectKey(source))),
	})
	if err != nil {
		if isS3NotFound(err) {
			return kv.NotFound("move", source)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", source, destination, err)
	}
	return s.deleteObject(ctx, source)
}

func (s *S3) Value(ctx context.Context, key kv.Key) (kv.Content, error) {
	if key.IsRoot() {
		return nil, kv.NotFound("value", key)
	}
	s.mu.RLock()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	s.mu.RUnlock()
	if err != nil {
		if isS3NotFound(err) {
			return nil, kv.NotFound("value", key)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return kv.NewContent(out.Body, size), nil
}

func (s *S3) Delete(ctx context.Context, key kv.Key) error {
	if err := kv.CheckKeys("delete", key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return kv.NotFound("delete", key)
	}
	return s.deleteObject(ctx, key)
}

func (s *S3) deleteObject(ctx context.Context, key kv.Key) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *S3) Transaction(ctx context.Context, keys []kv.Key) (kv.Transaction, error) {
	return txn.Begin(ctx, s, s.locks, keys, nil)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
