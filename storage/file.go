package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/keywarden/keywarden/interfaces"
)

// FileStore persists account records on the local file system, one JSON file
// per account under a records/ subdirectory.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file-backed blob store rooted at baseDir.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	recordsDir := filepath.Join(baseDir, "records")
	if err := os.MkdirAll(recordsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads the account's record. Returns ErrBlobNotFound if none exists.
func (s *FileStore) Fetch(ctx context.Context, account interfaces.AccountID) (*interfaces.WrappedSecretBlob, error) {
	path := s.recordPath(account)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var blob interfaces.WrappedSecretBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	s.log.Debug("Fetched account record",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return &blob, nil
}

// Store rewrites the account's record wholesale. The record is written to a
// temporary file and renamed into place so a crash can not leave a torn
// ciphertext/locked-value/key-id triple.
func (s *FileStore) Store(ctx context.Context, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob) error {
	path := s.recordPath(account)

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record: %w", err)
	}

	s.log.Debug("Stored account record",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return nil
}

// Available reports whether the base directory is accessible.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.baseDir)
	return err == nil
}

// Name returns the backend's location URI.
func (s *FileStore) Name() string {
	return s.locationURI
}

func (s *FileStore) recordPath(account interfaces.AccountID) string {
	// Hash the account id so arbitrary ids can not escape the directory.
	sum := sha256.Sum256([]byte(account))
	return filepath.Join(s.baseDir, "records", hex.EncodeToString(sum[:])+".json")
}
