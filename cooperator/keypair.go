package cooperator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/keywarden/keywarden/interfaces"
)

var one = big.NewInt(1)

// Keypair is one commuting lock: an encrypt/decrypt exponent pair over a
// shared prime modulus, with the two exponents being multiplicative inverses
// mod p-1. Applying the encrypt exponent and later the decrypt exponent in
// any interleaving with another party's pair recovers the original value.
type Keypair struct {
	encryptExp *big.Int
	decryptExp *big.Int
	modulus    *big.Int
	keyID      interfaces.KeyID
}

// GenerateModulus generates a random prime modulus of the given bit size.
func GenerateModulus(bits int) (*big.Int, error) {
	if bits < 64 {
		return nil, errors.New("modulus must be at least 64 bits")
	}
	p, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate modulus: %w", err)
	}
	return p, nil
}

// GenerateKeypair picks a random exponent coprime with p-1 and computes its
// inverse. The key id is the SHA-256 hash of the encrypt exponent, so a
// keypair is addressable without revealing anything about its exponents'
// structure beyond the hash.
func GenerateKeypair(modulus *big.Int) (*Keypair, error) {
	if modulus == nil || modulus.Cmp(big.NewInt(3)) <= 0 {
		return nil, errors.New("invalid modulus")
	}

	pMinus1 := new(big.Int).Sub(modulus, one)

	for {
		e, err := rand.Int(rand.Reader, pMinus1)
		if err != nil {
			return nil, fmt.Errorf("failed to generate exponent: %w", err)
		}
		if e.Cmp(big.NewInt(2)) < 0 {
			continue
		}

		if new(big.Int).GCD(nil, nil, e, pMinus1).Cmp(one) != 0 {
			continue
		}

		d := new(big.Int).ModInverse(e, pMinus1)
		if d == nil {
			continue
		}

		return &Keypair{
			encryptExp: e,
			decryptExp: d,
			modulus:    modulus,
			keyID:      keyIDFor(e),
		}, nil
	}
}

func keyIDFor(encryptExp *big.Int) interfaces.KeyID {
	sum := sha256.Sum256(encryptExp.Bytes())
	return interfaces.KeyID(hex.EncodeToString(sum[:]))
}

// KeyID returns the keypair's identifier.
func (k *Keypair) KeyID() interfaces.KeyID {
	return k.keyID
}

// Apply raises the value to the encrypt exponent mod p, locking it.
func (k *Keypair) Apply(v *big.Int) *big.Int {
	return new(big.Int).Exp(v, k.encryptExp, k.modulus)
}

// Remove raises the value to the decrypt exponent mod p, unlocking it.
func (k *Keypair) Remove(v *big.Int) *big.Int {
	return new(big.Int).Exp(v, k.decryptExp, k.modulus)
}

// checkValue validates that a value is usable under the modulus: in (0, p).
// Zero and multiples of p would be destroyed by exponentiation.
func checkValue(v *big.Int, modulus *big.Int) error {
	if v.Sign() <= 0 || v.Cmp(modulus) >= 0 {
		return errors.New("value out of range for modulus")
	}
	return nil
}
