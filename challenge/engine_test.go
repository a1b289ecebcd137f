package challenge

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"testing"

	"github.com/keywarden/keywarden/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	source := &StaticBlockSource{Block: interfaces.BlockRef{
		Height: 1_234_567,
		Hash:   sha256.Sum256([]byte("block")),
	}}
	return NewEngine(source, slog.Default())
}

func TestEvaluateVerifyRoundTrip(t *testing.T) {
	signer, pubPEM, err := GenerateSigner()
	require.NoError(t, err)

	engine := testEngine()
	in, err := engine.BuildChallenge(context.Background(), "user-1", "Example.COM", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com", in.RPID, "relying party id must be lowercased")

	proof, err := engine.Evaluate(signer, pubPEM, in)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Output)
	require.NotEmpty(t, proof.Proof)

	output, err := Verify(pubPEM, in, proof)
	require.NoError(t, err)
	assert.Equal(t, proof.Output, output)
}

func TestEvaluateOutputDeterminism(t *testing.T) {
	signer, pubPEM, err := GenerateSigner()
	require.NoError(t, err)

	engine := testEngine()
	in, err := engine.BuildChallenge(context.Background(), "user-1", "example.com", nil, nil)
	require.NoError(t, err)

	first, err := engine.Evaluate(signer, pubPEM, in)
	require.NoError(t, err)
	second, err := engine.Evaluate(signer, pubPEM, in)
	require.NoError(t, err)

	assert.Equal(t, first.Output, second.Output,
		"VRF output must be deterministic for a fixed key and input")
}

func TestVerifyRejectsTamperedInput(t *testing.T) {
	signer, pubPEM, err := GenerateSigner()
	require.NoError(t, err)

	engine := testEngine()
	in, err := engine.BuildChallenge(context.Background(), "user-1", "example.com", nil, nil)
	require.NoError(t, err)

	proof, err := engine.Evaluate(signer, pubPEM, in)
	require.NoError(t, err)

	// Different user.
	tampered := in
	tampered.UserID = "user-2"
	_, err = Verify(pubPEM, tampered, proof)
	assert.ErrorIs(t, err, interfaces.ErrInvalidProof)

	// Stale block height.
	tampered = in
	tampered.BlockHeight = in.BlockHeight - 1
	_, err = Verify(pubPEM, tampered, proof)
	assert.ErrorIs(t, err, interfaces.ErrInvalidProof)

	// Forged output.
	forged := proof
	forged.Output = append([]byte(nil), proof.Output...)
	forged.Output[0] ^= 0x01
	_, err = Verify(pubPEM, in, forged)
	assert.ErrorIs(t, err, interfaces.ErrInvalidProof)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, pubPEM, err := GenerateSigner()
	require.NoError(t, err)
	_, otherPEM, err := GenerateSigner()
	require.NoError(t, err)

	engine := testEngine()
	in, err := engine.BuildChallenge(context.Background(), "user-1", "example.com", nil, nil)
	require.NoError(t, err)

	proof, err := engine.Evaluate(signer, pubPEM, in)
	require.NoError(t, err)

	_, err = Verify(otherPEM, in, proof)
	assert.ErrorIs(t, err, interfaces.ErrInvalidProof)
}

func TestInputHashBindsOptionalDigests(t *testing.T) {
	hash := sha256.Sum256([]byte("intent"))
	base := NewInput("user-1", "example.com", 42, sha256.Sum256([]byte("block")))

	withIntent := base
	withIntent.IntentDigest = &hash

	withPolicy := base
	withPolicy.SessionPolicyDigest = &hash

	assert.NotEqual(t, base.Hash(), withIntent.Hash())
	assert.NotEqual(t, base.Hash(), withPolicy.Hash())
	assert.NotEqual(t, withIntent.Hash(), withPolicy.Hash(),
		"intent and policy digests must be domain-separated from each other")
}
