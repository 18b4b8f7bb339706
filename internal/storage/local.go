package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient serves buckets as subdirectories of a root directory.
type LocalClient struct {
	root string
}

// NewLocalClient returns a client rooted at root, creating it if needed.
func NewLocalClient(root string) (*LocalClient, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local storage root must be provided")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed resolving local storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure local storage root %s: %w", abs, err)
	}
	return &LocalClient{root: abs}, nil
}

// Download copies root/bucket/objectPath to localPath.
func (c *LocalClient) Download(ctx context.Context, bucket, objectPath, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := c.objectFile(bucket, objectPath)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("local download of %s/%s failed: %w", bucket, objectPath, err)
	}
	defer in.Close()

	if err := writeLocal(localPath, in); err != nil {
		return "", err
	}
	return localPath, nil
}

// Upload copies localPath to root/bucket/objectPath.
func (c *LocalClient) Upload(ctx context.Context, localPath, bucket, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := c.objectFile(bucket, objectPath)
	if err != nil {
		return err
	}
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("local upload of %s failed: %w", localPath, err)
	}
	defer in.Close()

	return writeLocal(dst, in)
}

func (c *LocalClient) objectFile(bucket, objectPath string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	key := strings.TrimLeft(objectPath, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and object path must be provided")
	}
	if bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	bucketDir := filepath.Join(c.root, bucket)
	if !strings.HasPrefix(bucketDir, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("bucket %q escapes storage root", bucket)
	}
	full := filepath.Join(bucketDir, filepath.FromSlash(key))
	if !strings.HasPrefix(full, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes bucket %q", objectPath, bucket)
	}
	return full, nil
}

var _ Provider = (*LocalClient)(nil)
