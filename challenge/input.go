package challenge

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// DomainSeparator is prefixed to every challenge input so challenge hashes
// can never collide with hashes produced for any other purpose.
const DomainSeparator = "keywarden/challenge/v1"

// Input is the freshness-bound challenge material for one ceremony.
// Constructed fresh per ceremony, hashed before VRF evaluation, never persisted.
type Input struct {
	DomainSeparator string
	UserID          string

	// RPID is the relying-party identifier, stored lowercased.
	RPID string

	// BlockHeight and BlockHash anchor the challenge to fresh ledger state.
	// The verifier, not the engine, enforces the freshness window.
	BlockHeight uint64
	BlockHash   [32]byte

	// IntentDigest optionally binds the challenge to a specific signing intent.
	IntentDigest *[32]byte

	// SessionPolicyDigest optionally binds the session's policy parameters.
	SessionPolicyDigest *[32]byte
}

// NewInput builds a challenge input with the package domain separator and a
// lowercased relying-party id.
func NewInput(userID, rpID string, height uint64, blockHash [32]byte) Input {
	return Input{
		DomainSeparator: DomainSeparator,
		UserID:          userID,
		RPID:            strings.ToLower(rpID),
		BlockHeight:     height,
		BlockHash:       blockHash,
	}
}

// Hash computes the canonical SHA-256 digest that is fed to the VRF. Every
// variable-length field is length-prefixed and the block height is encoded
// as fixed-width little-endian, so distinct inputs can not produce the same
// byte stream.
func (in Input) Hash() [32]byte {
	h := sha256.New()

	writeField := func(b []byte) {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
		h.Write(l[:])
		h.Write(b)
	}

	writeField([]byte(in.DomainSeparator))
	writeField([]byte(in.UserID))
	writeField([]byte(strings.ToLower(in.RPID)))

	var height [8]byte
	binary.LittleEndian.PutUint64(height[:], in.BlockHeight)
	h.Write(height[:])
	h.Write(in.BlockHash[:])

	if in.IntentDigest != nil {
		h.Write([]byte{1})
		h.Write(in.IntentDigest[:])
	} else {
		h.Write([]byte{0})
	}

	if in.SessionPolicyDigest != nil {
		h.Write([]byte{1})
		h.Write(in.SessionPolicyDigest[:])
	} else {
		h.Write([]byte{0})
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
