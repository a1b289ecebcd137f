package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/keywarden/keywarden/derive"
	"github.com/keywarden/keywarden/interfaces"
	"github.com/keywarden/keywarden/session"
)

// Result is the signing unit's only output.
type Result struct {
	Signature []byte
	Err       error
}

// Spawn starts an ephemeral signing unit for a single request. The unit runs
// in its own goroutine with no shared mutable state: it receives the wrap-key
// seed over the one-time channel (blocking until the cold path delivers, if
// necessary), derives the decryption key locally, opens the signing key,
// signs the payload, zeroizes everything it derived and terminates.
//
// Nothing the unit touches is re-exported: not the seed, not the derived key,
// not the decrypted signing key. The returned channel carries exactly one
// Result and is then closed.
func Spawn(ctx context.Context, rx *session.Receiver, signingKeyCiphertext, payload []byte) <-chan Result {
	results := make(chan Result, 1)

	go func() {
		defer close(results)
		results <- run(ctx, rx, signingKeyCiphertext, payload)
	}()

	return results
}

func run(ctx context.Context, rx *session.Receiver, signingKeyCiphertext, payload []byte) Result {
	seed, err := rx.Receive(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("seed handoff failed: %w", err)}
	}
	defer derive.Wipe(seed.WrapKeySeed)
	defer derive.Wipe(seed.WrapKeySalt)

	kek, err := derive.NearKEK(seed.WrapKeySeed, seed.WrapKeySalt)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to derive decryption key: %w", err)}
	}
	defer derive.Wipe(kek)

	signingKey, err := derive.Open(kek, signingKeyCiphertext)
	if err != nil {
		// Authentication failure here means wrong or tampered key material.
		// Fatal: never retried silently.
		return Result{Err: fmt.Errorf("%w: %v", interfaces.ErrDerivationMismatch, err)}
	}
	defer derive.Wipe(signingKey)

	if len(signingKey) != ed25519.PrivateKeySize {
		return Result{Err: fmt.Errorf("%w: unexpected signing key length %d",
			interfaces.ErrDerivationMismatch, len(signingKey))}
	}

	sig := ed25519.Sign(ed25519.PrivateKey(signingKey), payload)
	return Result{Signature: sig}
}
