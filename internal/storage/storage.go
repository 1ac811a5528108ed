package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Storage uploads media assets to an S3-compatible object store and hands
// back publicly reachable URLs. All credentials arrive through Config; there
// is no ambient process-wide state.
type Storage struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	publicBase string
	maxBytes   int64
}

type Config struct {
	Endpoint       string
	PublicEndpoint string // used in returned URLs; falls back to Endpoint if empty
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	MaxUploadBytes int64
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "eu-central-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	publicBase := cfg.PublicEndpoint
	if publicBase == "" {
		publicBase = cfg.Endpoint
	}

	return &Storage{
		client:     client,
		uploader:   uploader,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		maxBytes:   cfg.MaxUploadBytes,
	}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload streams r into the bucket under key and returns the public URL.
func (s *Storage) Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", fmt.Errorf("file too large: %d > %d", size, s.maxBytes)
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return s.PublicURL(key), nil
}

// UploadLocalFile uploads an already-staged temp file. The caller owns the
// temp file's lifetime; removing it on every exit path is their job.
func (s *Storage) UploadLocalFile(ctx context.Context, key, contentType, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file %s: %w", path, err)
	}

	return s.Upload(ctx, key, contentType, f, info.Size())
}

func (s *Storage) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBase, s.bucket, key)
}

// NewKey builds an object key under prefix, keeping the original file
// extension so the CDN serves a sensible content type.
func NewKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%s%s", prefix, uuid.NewString(), ext)
}
