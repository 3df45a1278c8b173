// Package objectstore stages s3:// inputs to local files and removes them after ingestion.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hyperjump/kura/internal/config"
	"go.uber.org/zap"
)

// Scheme prefixes object URIs ("s3://bucket/key").
const Scheme = "s3://"

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 downloads and deletes objects addressed by s3:// URIs.
type S3 struct {
	client  API
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an S3 store.
type Option func(*S3)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *S3) { s.logger = l }
}

// New builds an S3 store from config. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg config.ObjectStoreConfig, opts ...Option) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Timeout, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, timeout time.Duration, opts ...Option) *S3 {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &S3{client: client, timeout: timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseURI splits "s3://bucket/key" into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", "", fmt.Errorf("not an object uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("object uri needs bucket and key: %q", uri)
	}
	return rest[:i], rest[i+1:], nil
}

// IsRemote reports whether p is an object URI.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, Scheme)
}

// Stage downloads uri into dir and returns the local path. The file keeps the object's base
// name so type detection and titles still work.
func (s *S3) Stage(ctx context.Context, uri, dir string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	local := filepath.Join(dir, path.Base(key))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(local)
		return "", fmt.Errorf("download %s: %w", uri, err)
	}
	s.logger.Debug("object staged", zap.String("uri", uri), zap.String("path", local), zap.Int64("bytes", n))
	return local, nil
}

// Delete removes the object behind uri.
func (s *S3) Delete(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}
