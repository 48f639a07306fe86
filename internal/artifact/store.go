// Package artifact persists review artifacts (dry-run journals, previews)
// on local disk or in an S3-compatible bucket.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store writes an object and returns where it ended up.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// S3Config selects the bucket artifacts go to. An empty Bucket means local disk.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// New picks S3 when a bucket is configured, local disk otherwise.
func New(ctx context.Context, localDir string, s3cfg S3Config) (Store, error) {
	if s3cfg.Bucket == "" {
		if localDir == "" {
			localDir = "./artifacts"
		}
		return &LocalStore{BaseDir: localDir}, nil
	}
	client, err := newS3Client(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return &S3Store{client: client, bucket: s3cfg.Bucket}, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// LocalStore writes under BaseDir.
type LocalStore struct {
	BaseDir string
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.BaseDir, SanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// S3Store writes objects to a single bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = SanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// SanitizeKey keeps keys relative and free of parent traversal.
func SanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
