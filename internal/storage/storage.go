package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

// Provider moves single objects between object storage and the local filesystem.
type Provider interface {
	// Download writes bucket/objectPath to localPath and returns the local path.
	Download(ctx context.Context, bucket, objectPath, localPath string) (string, error)
	// Upload writes localPath to bucket/objectPath.
	Upload(ctx context.Context, localPath, bucket, objectPath string) error
}

// Config selects a backend and carries the settings any backend may need.
type Config struct {
	Backend         string
	CredentialsFile string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	LocalRoot       string
}

type constructor func(ctx context.Context, cfg Config) (Provider, error)

var backends = map[string]constructor{
	"gcs":   func(ctx context.Context, cfg Config) (Provider, error) { return NewGCSClient(ctx, cfg) },
	"minio": func(ctx context.Context, cfg Config) (Provider, error) { return NewMinioClient(ctx, cfg) },
	"s3":    func(ctx context.Context, cfg Config) (Provider, error) { return NewS3Client(cfg) },
	"local": func(ctx context.Context, cfg Config) (Provider, error) { return NewLocalClient(cfg.LocalRoot) },
}

// Names lists the registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the backend named by cfg.Backend. Backends that can check
// their credentials do so here and fail with a CredentialError.
func New(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q, registered backends: %s", cfg.Backend, strings.Join(Names(), ", "))
	}
	return ctor(ctx, cfg)
}

// writeLocal streams r into localPath, creating parent directories.
func writeLocal(localPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", localPath, err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed creating %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(localPath)
		return fmt.Errorf("failed writing %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed closing %s: %w", localPath, err)
	}
	return nil
}

func credentialError(format string, args ...any) error {
	return domain.NewError(domain.KindCredential, format, args...)
}

// contentTypeFor guesses an upload content type from the object extension.
func contentTypeFor(objectPath string) string {
	switch strings.ToLower(filepath.Ext(objectPath)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}
