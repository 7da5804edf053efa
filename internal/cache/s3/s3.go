// Package s3 provides an S3-compatible wheel cache backend, for sharing
// a single cache across many machines instead of each keeping its own
// local disk copy.
package s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Option configures a Store.
type Option func(*Store)

// WithSSL toggles TLS when talking to the endpoint. Defaults to true.
func WithSSL(useSSL bool) Option {
	return func(s *Store) { s.useSSL = useSSL }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocalMirror keeps a copy of every object fetched from the bucket
// in dir, so a second Get for the same filename avoids the network
// round-trip entirely.
func WithLocalMirror(dir string) Option {
	return func(s *Store) { s.mirrorDir = dir }
}

// Store caches wheels in an S3-compatible bucket, keyed by filename
// under an optional prefix. It satisfies the same Store interface the
// local disk cache.Manager does, so internal/downloader can use either
// without caring which.
type Store struct {
	client    *minio.Client
	bucket    string
	prefix    string
	useSSL    bool
	mirrorDir string
	logger    *slog.Logger
}

// New connects to an S3-compatible endpoint and ensures bucket exists,
// creating it if necessary.
func New(endpoint, accessKey, secretKey, bucket, prefix string, opts ...Option) (*Store, error) {
	if endpoint == "" || bucket == "" {
		return nil, errors.New("s3 cache: endpoint and bucket are required")
	}

	s := &Store{
		bucket: bucket,
		prefix: prefix,
		useSSL: true,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: s.useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to s3 endpoint %s: %w", endpoint, err)
	}

	s.client = client

	ctx := context.Background()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
	}

	return s, nil
}

func (s *Store) key(filename string) string {
	if s.prefix == "" {
		return filename
	}

	return s.prefix + "/" + filename
}

// Get downloads filename from the bucket if present, optionally
// verifying expectedSHA256 against the locally-materialized copy, and
// returns the path to a local file the caller can read. A mirror
// directory set via WithLocalMirror is checked first.
func (s *Store) Get(filename, expectedSHA256 string) (string, bool) {
	ctx := context.Background()

	if s.mirrorDir != "" {
		path := filepath.Join(s.mirrorDir, filename)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			if expectedSHA256 == "" || hashMatches(path, expectedSHA256) {
				return path, true
			}
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(filename), minio.GetObjectOptions{})
	if err != nil {
		return "", false
	}
	defer func() { _ = obj.Close() }()

	if _, err := obj.Stat(); err != nil {
		return "", false
	}

	destDir := s.mirrorDir
	if destDir == "" {
		destDir = os.TempDir()
	}

	destPath := filepath.Join(destDir, filename)
	tmpPath := destPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		s.logger.Debug("s3 cache: local staging failed", slog.String("error", err.Error()))

		return "", false
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), obj); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return "", false
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return "", false
	}

	if expectedSHA256 != "" && hex.EncodeToString(h.Sum(nil)) != expectedSHA256 {
		_ = os.Remove(tmpPath)
		s.logger.Debug("s3 cache: digest mismatch, discarding", slog.String("file", filename))

		return "", false
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)

		return "", false
	}

	s.logger.Debug("s3 cache hit", slog.String("file", filename))

	return destPath, true
}

// Put uploads srcPath into the bucket under filename.
func (s *Store) Put(srcPath, filename string) error {
	ctx := context.Background()

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.PutObject(ctx, s.bucket, s.key(filename), f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s/%s: %w", filename, s.bucket, s.key(filename), err)
	}

	s.logger.Debug("s3 cache put", slog.String("file", filename), slog.String("bucket", s.bucket))

	return nil
}

func hashMatches(path, expected string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}

	return hex.EncodeToString(h.Sum(nil)) == expected
}
