package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/keywarden/keywarden/interfaces"
)

// VaultStore persists account records in HashiCorp Vault's KV v2 engine.
// The whole record is stored as one JSON value so every rewrite is atomic
// from the client's point of view.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault-backed blob store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "keywarden")
//   - token: Vault token; falls back to the VAULT_TOKEN environment variable
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Fetch reads the account's record from Vault.
func (s *VaultStore) Fetch(ctx context.Context, account interfaces.AccountID) (*interfaces.WrappedSecretBlob, error) {
	path := s.recordPath(account)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrBlobNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	record, ok := data["record"].(string)
	if !ok {
		return nil, interfaces.ErrBlobNotFound
	}

	var blob interfaces.WrappedSecretBlob
	if err := json.Unmarshal([]byte(record), &blob); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &blob, nil
}

// Store rewrites the account's record in Vault.
func (s *VaultStore) Store(ctx context.Context, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	path := s.recordPath(account)
	_, err = s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(data),
		},
	})
	if err != nil {
		s.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	return nil
}

// Available probes the Vault health endpoint.
func (s *VaultStore) Available(ctx context.Context) bool {
	health, err := s.client.Sys().HealthWithContext(ctx)
	return err == nil && health != nil && !health.Sealed
}

// Name returns the backend's location URI.
func (s *VaultStore) Name() string {
	return s.locationURI
}

func (s *VaultStore) recordPath(account interfaces.AccountID) string {
	sum := sha256.Sum256([]byte(account))
	// Vault KV v2 requires the /data/ segment between mount and path.
	return fmt.Sprintf("%s/data/%s/records/%s", s.mountPath, s.dataPath, hex.EncodeToString(sum[:]))
}
