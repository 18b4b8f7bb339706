package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gcsapi "google.golang.org/api/storage/v1"
)

// secretsKey is the single key of the mounted secrets file. Its value is the
// service account JSON, either as a string or as an embedded object.
const secretsKey = "SA"

// GCSClient implements Provider for Google Cloud Storage.
type GCSClient struct {
	srv *gcsapi.Service
}

// NewGCSClient authenticates with the service account from cfg.CredentialsFile.
func NewGCSClient(ctx context.Context, cfg Config) (*GCSClient, error) {
	sa, err := LoadServiceAccount(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	// Parse credentials from JSON
	jwtConfig, err := google.JWTConfigFromJSON(sa, gcsapi.DevstorageReadWriteScope)
	if err != nil {
		return nil, credentialError("unable to parse service account from %s: %v", cfg.CredentialsFile, err)
	}

	// Create the JWT client
	client := jwtConfig.Client(context.Background())

	srv, err := gcsapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve storage client: %w", err)
	}

	return &GCSClient{srv: srv}, nil
}

// LoadServiceAccount reads the secrets file and returns the service account JSON.
// The file must hold a JSON object whose only key is "SA".
func LoadServiceAccount(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, credentialError("no credential file found in path %s", path)
		}
		return nil, credentialError("unable to read credential file %s: %v", path, err)
	}

	var secrets map[string]json.RawMessage
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, credentialError("invalid json format for credential file %s", path)
	}

	keys := make([]string, 0, len(secrets))
	for k := range secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != secretsKey {
		return nil, credentialError("needed credential keys [%s] but found keys [%s]", secretsKey, strings.Join(keys, ", "))
	}

	value := secrets[secretsKey]
	var embedded string
	if err := json.Unmarshal(value, &embedded); err == nil {
		value = json.RawMessage(embedded)
	}
	if !json.Valid(value) {
		return nil, credentialError("service account in %s is not valid json", path)
	}
	return value, nil
}

// Download streams bucket/objectPath into localPath.
func (c *GCSClient) Download(ctx context.Context, bucket, objectPath, localPath string) (string, error) {
	resp, err := c.srv.Objects.Get(bucket, objectPath).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("gcs download of gs://%s/%s failed: %w", bucket, objectPath, err)
	}
	defer resp.Body.Close()

	if err := writeLocal(localPath, resp.Body); err != nil {
		return "", err
	}
	return localPath, nil
}

// Upload stores localPath under bucket/objectPath.
func (c *GCSClient) Upload(ctx context.Context, localPath, bucket, objectPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed opening %s: %w", localPath, err)
	}
	defer f.Close()

	object := &gcsapi.Object{Name: objectPath, ContentType: contentTypeFor(objectPath)}
	if _, err := c.srv.Objects.Insert(bucket, object).Media(f).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcs upload to gs://%s/%s failed: %w", bucket, objectPath, err)
	}
	return nil
}

var _ Provider = (*GCSClient)(nil)
