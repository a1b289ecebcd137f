package cooperator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/keywarden/keywarden/interfaces"
)

var (
	applyLockCounter  = vmetrics.GetOrCreateCounter("keywarden_lock_apply_total")
	removeLockCounter = vmetrics.GetOrCreateCounter("keywarden_lock_remove_total")
	unknownKeyCounter = vmetrics.GetOrCreateCounter("keywarden_lock_unknown_keyid_total")
	rotationCounter   = vmetrics.GetOrCreateCounter("keywarden_key_rotations_total")
)

// Config controls the cooperator's keyring behavior.
type Config struct {
	// ModulusBits is the bit size of the shared prime modulus.
	ModulusBits int

	// MaxGraceKeys bounds the length of the grace list.
	MaxGraceKeys int

	// MaxGraceAge bounds how long a retired keypair remains usable.
	MaxGraceAge time.Duration
}

// DefaultConfig returns production defaults: 2048-bit modulus, at most two
// retired keypairs usable for 30 days.
func DefaultConfig() Config {
	return Config{
		ModulusBits:  2048,
		MaxGraceKeys: 2,
		MaxGraceAge:  30 * 24 * time.Hour,
	}
}

type graceEntry struct {
	keypair   *Keypair
	retiredAt time.Time
}

// Cooperator is the lock-holding half of the three-message commutative
// encryption exchange. It applies and removes its persistent lock on blinded
// values supplied by clients and never observes the protected value in the
// clear. All keyring access is linearizable: a lock-removal request either
// fully succeeds against the exact keypair the client named or fails.
type Cooperator struct {
	mu      sync.RWMutex
	current *Keypair
	grace   []graceEntry
	modulus *big.Int
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// New creates a cooperator with a fresh modulus and keypair.
func New(cfg Config, log *slog.Logger) (*Cooperator, error) {
	modulus, err := GenerateModulus(cfg.ModulusBits)
	if err != nil {
		return nil, err
	}
	return NewWithModulus(cfg, modulus, log)
}

// NewWithModulus creates a cooperator over a caller-supplied prime modulus.
// Used by tests and by deployments that share a fixed well-known modulus.
func NewWithModulus(cfg Config, modulus *big.Int, log *slog.Logger) (*Cooperator, error) {
	kp, err := GenerateKeypair(modulus)
	if err != nil {
		return nil, fmt.Errorf("failed to generate initial keypair: %w", err)
	}

	return &Cooperator{
		current: kp,
		modulus: modulus,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}, nil
}

// ApplyLock applies the current keypair's lock to a blinded value.
// New locks always use the current keypair, never a grace one.
func (c *Cooperator) ApplyLock(ctx context.Context, blinded []byte) ([]byte, interfaces.KeyID, error) {
	v := new(big.Int).SetBytes(blinded)
	if err := checkValue(v, c.modulus); err != nil {
		return nil, "", fmt.Errorf("invalid blinded value: %w", err)
	}

	c.mu.RLock()
	kp := c.current
	c.mu.RUnlock()

	applyLockCounter.Inc()
	return kp.Apply(v).Bytes(), kp.KeyID(), nil
}

// RemoveLock removes the lock named by keyID from a blinded value. The key id
// must exactly match the current keypair or a live grace entry; anything else
// fails with ErrUnknownKeyID. There is no fallback or best-effort selection.
func (c *Cooperator) RemoveLock(ctx context.Context, blinded []byte, keyID interfaces.KeyID) ([]byte, error) {
	v := new(big.Int).SetBytes(blinded)
	if err := checkValue(v, c.modulus); err != nil {
		return nil, fmt.Errorf("invalid blinded value: %w", err)
	}

	c.mu.Lock()
	c.pruneGraceLocked()
	kp := c.lookupLocked(keyID)
	c.mu.Unlock()

	if kp == nil {
		unknownKeyCounter.Inc()
		c.log.Info("Lock removal with unrecognized key id", slog.String("keyId", string(keyID)))
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownKeyID, keyID)
	}

	removeLockCounter.Inc()
	return kp.Remove(v).Bytes(), nil
}

// KeyInfo returns the advertised keyring state. Clients compare the current
// key id against the one persisted with their record to detect rotation.
func (c *Cooperator) KeyInfo(ctx context.Context) (interfaces.KeyInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneGraceLocked()

	info := interfaces.KeyInfo{
		CurrentKeyID: c.current.KeyID(),
		Modulus:      c.modulus.Bytes(),
	}
	for _, g := range c.grace {
		info.GraceKeyIDs = append(info.GraceKeyIDs, g.keypair.KeyID())
	}
	return info, nil
}

// Rotate replaces the current keypair with a fresh one. With keepInGrace the
// old keypair is demoted into the grace list so previously locked values can
// still be unlocked until the entry ages out or the list is pruned for size.
func (c *Cooperator) Rotate(keepInGrace bool) (interfaces.KeyID, error) {
	kp, err := GenerateKeypair(c.modulus)
	if err != nil {
		return "", fmt.Errorf("failed to generate rotation keypair: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.current
	c.current = kp
	if keepInGrace {
		c.grace = append([]graceEntry{{keypair: previous, retiredAt: c.now()}}, c.grace...)
	}
	c.pruneGraceLocked()

	rotationCounter.Inc()
	c.log.Info("Rotated cooperator keypair",
		slog.String("newKeyId", string(kp.KeyID())),
		slog.Bool("previousInGrace", keepInGrace),
		slog.Int("graceListSize", len(c.grace)))

	return kp.KeyID(), nil
}

// Modulus returns the shared prime modulus.
func (c *Cooperator) Modulus() *big.Int {
	return new(big.Int).Set(c.modulus)
}

func (c *Cooperator) lookupLocked(keyID interfaces.KeyID) *Keypair {
	if c.current.KeyID() == keyID {
		return c.current
	}
	for _, g := range c.grace {
		if g.keypair.KeyID() == keyID {
			return g.keypair
		}
	}
	return nil
}

func (c *Cooperator) pruneGraceLocked() {
	kept := c.grace[:0]
	for _, g := range c.grace {
		if c.cfg.MaxGraceAge > 0 && c.now().Sub(g.retiredAt) > c.cfg.MaxGraceAge {
			continue
		}
		kept = append(kept, g)
	}
	c.grace = kept

	if c.cfg.MaxGraceKeys > 0 && len(c.grace) > c.cfg.MaxGraceKeys {
		c.grace = c.grace[:c.cfg.MaxGraceKeys]
	}
}
