package interfaces

import "context"

// StorageLocation is a URI designating a blob store backend,
// e.g. file:///var/lib/keywarden, vault://vault.example.com:8200/secret/keywarden,
// s3://bucket/prefix?region=us-east-1.
type StorageLocation string

// BlobStore persists one WrappedSecretBlob per account. Records are always
// rewritten wholesale; partial updates would risk torn state across the
// ciphertext, locked value and key id.
type BlobStore interface {
	// Fetch returns the record for an account, or ErrBlobNotFound.
	Fetch(ctx context.Context, account AccountID) (*WrappedSecretBlob, error)

	// Store rewrites the account's record.
	Store(ctx context.Context, account AccountID, blob *WrappedSecretBlob) error

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns the backend's location URI for logging.
	Name() string
}
