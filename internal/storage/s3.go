package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/chartmuseum/storage"
)

// S3Client implements Provider for S3-compatible services through
// chartmuseum's Amazon backend. The backend is bound to one bucket, so one is
// built lazily per bucket.
type S3Client struct {
	endpoint string
	region   string

	mu       sync.Mutex
	backends map[string]storage.Backend
}

// NewS3Client validates the settings and exports the credentials for the AWS SDK.
func NewS3Client(cfg Config) (*S3Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, credentialError("s3 access key and secret key must be provided")
	}

	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if !cfg.UseSSL {
			scheme = "http"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, strings.TrimPrefix(cfg.Endpoint, "//"))
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	os.Setenv("AWS_ACCESS_KEY_ID", cfg.AccessKey)
	os.Setenv("AWS_SECRET_ACCESS_KEY", cfg.SecretKey)
	os.Setenv("AWS_REGION", region)
	os.Setenv("AWS_DEFAULT_REGION", region)

	return &S3Client{
		endpoint: endpoint,
		region:   region,
		backends: make(map[string]storage.Backend),
	}, nil
}

func (c *S3Client) backend(bucket string) storage.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.backends[bucket]; ok {
		return b
	}
	b := storage.NewAmazonS3BackendWithOptions(
		bucket,
		"", // no prefix
		c.region,
		c.endpoint,
		"",
		&storage.AmazonS3Options{
			S3ForcePathStyle: awsBool(true),
		},
	)
	c.backends[bucket] = b
	return b
}

// Download fetches an object into localPath.
func (c *S3Client) Download(ctx context.Context, bucket, objectPath, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	object, err := c.backend(bucket).GetObject(objectPath)
	if err != nil {
		return "", fmt.Errorf("s3 download of %s/%s failed: %w", bucket, objectPath, err)
	}
	if err := writeLocal(localPath, bytes.NewReader(object.Content)); err != nil {
		return "", err
	}
	return localPath, nil
}

// Upload stores localPath under objectPath.
func (c *S3Client) Upload(ctx context.Context, localPath, bucket, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed reading %s: %w", localPath, err)
	}
	if err := c.backend(bucket).PutObject(objectPath, data); err != nil {
		return fmt.Errorf("s3 upload to %s/%s failed: %w", bucket, objectPath, err)
	}
	return nil
}

var _ Provider = (*S3Client)(nil)

func awsBool(v bool) *bool {
	return &v
}
