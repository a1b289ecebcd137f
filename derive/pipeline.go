package derive

import (
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

// Domain-separation info strings for the HKDF chain. Outputs for different
// purposes can never collide even with identical remaining inputs.
const (
	infoPassFactor  = "wrap-pass"
	infoWrapSeed    = "wrap-seed"
	infoNearKEK     = "near-kek"
	infoRecoveryKEK = "recovery-kek"
)

// KeyLen is the byte length of every derived key in the pipeline.
const KeyLen = 32

func expand(secret, salt []byte, info string) ([]byte, error) {
	out := make([]byte, KeyLen)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand for %q: %w", info, err)
	}
	return out, nil
}

// PassFactor derives the ephemeral authentication factor from a ceremony's
// primary secret. The auth secret must come from a fresh ceremony; the
// factor alone is insufficient to derive the wrap-key seed.
func PassFactor(authSecret []byte) ([]byte, error) {
	return expand(authSecret, nil, infoPassFactor)
}

// WrapSeed combines the pass factor with the unlocked long-term secret into
// the short-lived wrap-key seed. Both inputs are required: unlocking demands
// an ephemeral authentication event and possession of the long-term secret.
func WrapSeed(passFactor, longTermSecret []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(passFactor)+len(longTermSecret))
	ikm = append(ikm, passFactor...)
	ikm = append(ikm, longTermSecret...)
	defer Wipe(ikm)
	return expand(ikm, nil, infoWrapSeed)
}

// NearKEK derives the final decryption key from the wrap-key seed and the
// per-account salt. The seed alone, without the salt, is insufficient.
// Derived fresh inside each signing unit; never cached, never transmitted.
func NearKEK(seed, salt []byte) ([]byte, error) {
	return expand(seed, salt, infoNearKEK)
}

// RecoveryKEK derives the recovery sealing key from the ceremony's secondary
// secret. Used only on the fallback unlock path.
func RecoveryKEK(secondarySecret []byte) ([]byte, error) {
	return expand(secondarySecret, nil, infoRecoveryKEK)
}

// Wipe overwrites a byte slice with zeros to clear sensitive data from
// memory as soon as it is no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b) // Prevent dead code elimination
}
