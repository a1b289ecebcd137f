package cooperator

import (
	"fmt"
	"math/big"
)

// ClientLock is the client's ephemeral commuting lock. A fresh one is
// generated for every registration and every unlock attempt and discarded
// afterwards, so the cooperator never sees the same blinding twice.
type ClientLock struct {
	keypair *Keypair
	modulus *big.Int
}

// NewClientLock generates an ephemeral lock over the cooperator's modulus.
func NewClientLock(modulus *big.Int) (*ClientLock, error) {
	kp, err := GenerateKeypair(modulus)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client lock: %w", err)
	}
	return &ClientLock{keypair: kp, modulus: modulus}, nil
}

// Apply blinds a value with the client's lock.
func (l *ClientLock) Apply(value []byte) ([]byte, error) {
	v := new(big.Int).SetBytes(value)
	if err := checkValue(v, l.modulus); err != nil {
		return nil, fmt.Errorf("cannot blind value: %w", err)
	}
	return l.keypair.Apply(v).Bytes(), nil
}

// Remove strips the client's lock from a value. Because exponentiation
// commutes, it does not matter whether the cooperator's lock is still applied.
func (l *ClientLock) Remove(value []byte) ([]byte, error) {
	v := new(big.Int).SetBytes(value)
	if err := checkValue(v, l.modulus); err != nil {
		return nil, fmt.Errorf("cannot unblind value: %w", err)
	}
	return l.keypair.Remove(v).Bytes(), nil
}
