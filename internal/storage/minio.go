package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements Provider for any S3-compatible endpoint.
type MinioClient struct {
	client *minio.Client
}

// NewMinioClient connects and checks the credentials with a bucket listing.
func NewMinioClient(ctx context.Context, cfg Config) (*MinioClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, credentialError("minio access key and secret key must be provided")
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create minio client: %w", err)
	}

	if _, err := client.ListBuckets(ctx); err != nil {
		return nil, domain.WrapError(domain.KindCredential, err, "minio credentials rejected by %s", endpoint)
	}

	return &MinioClient{client: client}, nil
}

// Download fetches bucket/objectPath into localPath.
func (c *MinioClient) Download(ctx context.Context, bucket, objectPath, localPath string) (string, error) {
	if err := c.client.FGetObject(ctx, bucket, objectPath, localPath, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("minio download of %s/%s failed: %w", bucket, objectPath, err)
	}
	return localPath, nil
}

// Upload stores localPath under bucket/objectPath.
func (c *MinioClient) Upload(ctx context.Context, localPath, bucket, objectPath string) error {
	_, err := c.client.FPutObject(ctx, bucket, objectPath, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectPath),
	})
	if err != nil {
		return fmt.Errorf("minio upload to %s/%s failed: %w", bucket, objectPath, err)
	}
	return nil
}

var _ Provider = (*MinioClient)(nil)
