package interfaces

import (
	"context"
	"time"
)

// AccountID identifies a custodied account. One durable record exists per account.
type AccountID string

// SessionID identifies an authenticated session. Capabilities are scoped to it.
type SessionID string

// KeyID identifies a cooperator keypair. It is the hex-encoded SHA-256 hash
// of the keypair's encrypt exponent, so clients can address retired keys
// exactly, without any best-effort selection on the cooperator side.
type KeyID string

// WrappedSecretBlob is the durable per-account record. It never contains
// plaintext secret material and is always rewritten wholesale so the
// ciphertext/locked-value/key-id triple can not end up torn.
type WrappedSecretBlob struct {
	// Ciphertext is the long-term secret, AEAD-sealed under a random KEK.
	Ciphertext []byte `json:"ciphertext"`

	// ServerLockedValue is the KEK with only the cooperator's lock applied;
	// the client's blinding was removed at registration time.
	ServerLockedValue []byte `json:"serverLockedValue"`

	// ServerKeyID names the cooperator keypair whose lock is applied.
	ServerKeyID KeyID `json:"serverKeyId"`

	// WrapKeySalt is generated once at registration and required, together
	// with the wrap-key seed, to derive the near KEK.
	WrapKeySalt []byte `json:"wrapKeySalt"`

	// RecoveryCiphertext is the long-term secret sealed under a key derived
	// from the ceremony's secondary secret. It backs the fallback unlock path.
	RecoveryCiphertext []byte `json:"recoveryCiphertext"`

	// SigningKeyCiphertext is the signing key sealed under the near KEK.
	// Only ephemeral signing units ever open it.
	SigningKeyCiphertext []byte `json:"signingKeyCiphertext"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// CeremonyResult is what the external authentication ceremony returns.
// The primary secret feeds the key derivation pipeline. The secondary secret
// backs the recovery path only and must be discarded right after use.
type CeremonyResult struct {
	PresenceConfirmed bool
	PrimarySecret     []byte
	SecondarySecret   []byte
}

// CeremonyOracle abstracts the user-interactive authentication ceremony.
// The challenge passed in is the VRF output for the current ceremony; the
// oracle binds its assertion to it. Calls may block for as long as the user
// takes and must honor context cancellation.
type CeremonyOracle interface {
	Authenticate(ctx context.Context, challenge []byte) (CeremonyResult, error)
}

// BlockRef is a ledger freshness anchor: height plus hash of a recent block.
type BlockRef struct {
	Height uint64
	Hash   [32]byte
}

// BlockSource supplies fresh block references for challenge construction.
type BlockSource interface {
	LatestBlock(ctx context.Context) (BlockRef, error)
}

// KeyInfo describes the cooperator's advertised key material. Clients use it
// to detect rotation and proactively migrate their stored locked values.
type KeyInfo struct {
	CurrentKeyID KeyID
	Modulus      []byte
	GraceKeyIDs  []KeyID
}

// LockService is the cooperator's lock interface. It is implemented both by
// the in-process Cooperator and by the HTTP client, so the custody engine
// does not care whether the cooperator is local or remote.
//
// The cooperator only ever operates on blinded values; it never sees the KEK
// or the long-term secret in the clear.
type LockService interface {
	// ApplyLock applies the cooperator's current lock to a blinded value.
	ApplyLock(ctx context.Context, blinded []byte) (doubleBlinded []byte, keyID KeyID, err error)

	// RemoveLock removes the lock identified by keyID. The keyID must match
	// the current keypair or one on the grace list exactly; otherwise
	// ErrUnknownKeyID is returned.
	RemoveLock(ctx context.Context, blinded []byte, keyID KeyID) ([]byte, error)

	// KeyInfo returns the current key id, shared modulus and grace list.
	KeyInfo(ctx context.Context) (KeyInfo, error)
}
