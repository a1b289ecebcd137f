package challenge

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/keytransparency/core/crypto/vrf"
	"github.com/google/keytransparency/core/crypto/vrf/p256"
	"github.com/keywarden/keywarden/interfaces"
)

// Proof is a VRF output/proof pair over a challenge input. The output is the
// externally facing challenge value; anyone holding the public key and the
// original input can verify it. Created per ceremony, consumed immediately.
type Proof struct {
	Output    []byte
	Proof     []byte
	PublicKey []byte // PEM-encoded PKIX public key
}

// Signer holds the VRF private key used to evaluate challenges.
type Signer struct {
	sk vrf.PrivateKey
}

// GenerateSigner creates a fresh P-256 VRF keypair and returns the signer
// together with the PEM-encoded public key.
func GenerateSigner() (*Signer, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate VRF key: %w", err)
	}
	return NewSigner(key)
}

// NewSigner wraps an existing P-256 key as a VRF signer.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, []byte, error) {
	sk, err := p256.NewVRFSigner(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create VRF signer: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &Signer{sk: sk}, pubPEM, nil
}

// Engine builds freshness-bound challenge inputs and evaluates and verifies
// VRF proofs over them.
type Engine struct {
	source interfaces.BlockSource
	log    *slog.Logger
}

// NewEngine creates a challenge engine backed by the given block source.
func NewEngine(source interfaces.BlockSource, log *slog.Logger) *Engine {
	return &Engine{source: source, log: log}
}

// BuildChallenge constructs a challenge input bound to the latest block the
// source supplies. Deterministic given its inputs; the verifier enforces the
// freshness window on the block reference.
func (e *Engine) BuildChallenge(ctx context.Context, userID, rpID string, intentDigest, policyDigest *[32]byte) (Input, error) {
	block, err := e.source.LatestBlock(ctx)
	if err != nil {
		return Input{}, fmt.Errorf("failed to fetch fresh block: %w", err)
	}

	in := NewInput(userID, rpID, block.Height, block.Hash)
	in.IntentDigest = intentDigest
	in.SessionPolicyDigest = policyDigest

	e.log.Debug("Built challenge input",
		slog.String("userId", userID),
		slog.String("rpId", in.RPID),
		slog.Uint64("blockHeight", block.Height))

	return in, nil
}

// Evaluate produces the VRF output and proof for a challenge input. The
// output is deterministic for a fixed (key, input) pair, which makes ceremony
// retries idempotent; the proof bytes may differ between evaluations because
// the ECVRF proof carries a nonce.
func (e *Engine) Evaluate(signer *Signer, pubPEM []byte, in Input) (Proof, error) {
	hash := in.Hash()
	output, proof := signer.sk.Evaluate(hash[:])
	return Proof{
		Output:    output[:],
		Proof:     proof,
		PublicKey: pubPEM,
	}, nil
}

// Verify recomputes the input hash, checks the proof against the public key
// and returns the output only when it matches the one claimed in the proof.
// Freshness of the block reference and binding to the externally observed
// challenge remain the caller's responsibility.
func Verify(publicKeyPEM []byte, in Input, proof Proof) ([]byte, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}

	verifier, err := p256.NewVRFVerifier(ecdsaPub)
	if err != nil {
		return nil, fmt.Errorf("failed to create VRF verifier: %w", err)
	}

	hash := in.Hash()
	output, err := verifier.ProofToHash(hash[:], proof.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	if !bytes.Equal(output[:], proof.Output) {
		return nil, fmt.Errorf("%w: output does not match proof", interfaces.ErrInvalidProof)
	}

	return output[:], nil
}
