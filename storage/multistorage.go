package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keywarden/keywarden/interfaces"
)

// MultiStore aggregates several blob stores for redundancy. Records are
// written to every available backend and fetched from the first backend that
// has them.
type MultiStore struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

// NewMultiStore creates a multi-backend blob store.
func NewMultiStore(backends []interfaces.BlobStore, log *slog.Logger) *MultiStore {
	if log == nil {
		log = slog.Default()
	}
	return &MultiStore{backends: backends, log: log}
}

// Fetch returns the record from the first backend that has it.
func (m *MultiStore) Fetch(ctx context.Context, account interfaces.AccountID) (*interfaces.WrappedSecretBlob, error) {
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend", backend.Name()))
			continue
		}

		blob, err := backend.Fetch(ctx, account)
		if err == nil {
			return blob, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if len(errs) == 1 {
		return nil, errs[0]
	}
	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	return nil, fmt.Errorf("all backends failed: %v", errs)
}

// Store writes the record to every available backend. It succeeds if at
// least one backend accepted the write; failures are logged.
func (m *MultiStore) Store(ctx context.Context, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob) error {
	var stored bool
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend", backend.Name()))
			continue
		}

		if err := backend.Store(ctx, account, blob); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store record to backend",
				slog.String("backend", backend.Name()),
				"err", err)
			continue
		}
		stored = true
	}

	if !stored {
		return fmt.Errorf("no backend accepted the record: %v", errs)
	}
	return nil
}

// Available reports whether any backend is reachable.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name lists the aggregated backends.
func (m *MultiStore) Name() string {
	names := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		names = append(names, backend.Name())
	}
	return fmt.Sprintf("multi:%v", names)
}
