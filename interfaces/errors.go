package interfaces

import "errors"

// Protocol and capability errors. Callers match with errors.Is.
var (
	// ErrInvalidProof means VRF verification failed. Fatal for the ceremony;
	// the caller must restart with a fresh challenge.
	ErrInvalidProof = errors.New("invalid VRF proof")

	// ErrUnknownKeyID means the presented key id is neither the cooperator's
	// current keypair nor on its grace list. Recoverable: triggers the
	// fallback unlock and a re-wrap under the current key.
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrExpired means the session capability outlived its TTL.
	ErrExpired = errors.New("session capability expired")

	// ErrExhausted means the session capability has no remaining uses.
	ErrExhausted = errors.New("session capability exhausted")

	// ErrNotFound means no capability was minted for the session.
	ErrNotFound = errors.New("session capability not found")

	// ErrDerivationMismatch means decrypted key material failed its integrity
	// check. Fatal: signals tampering or wrong inputs, never retried silently.
	ErrDerivationMismatch = errors.New("derived key material mismatch")

	// ErrPresenceNotConfirmed means the ceremony completed without a
	// presence confirmation.
	ErrPresenceNotConfirmed = errors.New("user presence not confirmed")
)

// Storage errors.
var (
	// ErrBlobNotFound means no record exists for the account.
	ErrBlobNotFound = errors.New("account record not found")

	// ErrBackendUnavailable means the storage backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI means the storage location URI cannot be parsed.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// Handoff errors.
var (
	// ErrChannelSpent means a one-time handoff endpoint was used twice.
	ErrChannelSpent = errors.New("one-time channel already spent")
)
