package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/keywarden/keywarden/interfaces"
)

// Factory creates blob stores from location URIs and aggregates them into
// multi-backend configurations.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a blob store factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a blob store from a location URI.
//
// Supported schemes:
//   - file:///var/lib/keywarden — local file system
//   - vault://host:8200/mount/path?token=... — HashiCorp Vault KV v2
//   - s3://bucket/prefix?region=...&endpoint=... — Amazon S3 or compatible
func (f *Factory) StoreFor(location interfaces.StorageLocation) (interfaces.BlobStore, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileStore(u)
	case "vault":
		return f.createVaultStore(u)
	case "s3":
		return f.createS3Store(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiStore builds a multi-backend store from a list of URIs,
// skipping (with a warning) any URI that can not be turned into a backend.
func (f *Factory) CreateMultiStore(locations []interfaces.StorageLocation) (interfaces.BlobStore, error) {
	backends := make([]interfaces.BlobStore, 0, len(locations))

	for _, location := range locations {
		backend, err := f.StoreFor(location)
		if err != nil {
			f.log.Warn("Failed to create blob store backend",
				slog.String("location", string(location)),
				"err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	return NewMultiStore(backends, f.log), nil
}

func (f *Factory) createFileStore(u *url.URL) (interfaces.BlobStore, error) {
	baseDir := u.Path
	if u.Host != "" {
		// Relative paths parse with the first segment as host.
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file URI without a path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileStore(baseDir, f.log)
}

func (f *Factory) createVaultStore(u *url.URL) (interfaces.BlobStore, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: vault URI requires /mount/path", interfaces.ErrInvalidLocationURI)
	}

	token := u.Query().Get("token")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}

	return NewVaultStore(fmt.Sprintf("%s://%s", scheme, u.Host), parts[0], parts[1], token, f.log)
}

func (f *Factory) createS3Store(u *url.URL) (interfaces.BlobStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: s3 URI requires a bucket", interfaces.ErrInvalidLocationURI)
	}

	q := u.Query()
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey := q.Get("access_key")
	secretKey := q.Get("secret_key")
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	return NewS3Store(u.Host, strings.TrimPrefix(u.Path, "/"), region, q.Get("endpoint"), accessKey, secretKey, f.log)
}
