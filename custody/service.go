package custody

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/keywarden/keywarden/challenge"
	"github.com/keywarden/keywarden/cooperator"
	"github.com/keywarden/keywarden/derive"
	"github.com/keywarden/keywarden/interfaces"
	"github.com/keywarden/keywarden/recovery"
	"github.com/keywarden/keywarden/session"
	"github.com/keywarden/keywarden/signer"
)

var (
	registrationCounter = vmetrics.GetOrCreateCounter("keywarden_registrations_total")
	coldUnlockCounter   = vmetrics.GetOrCreateCounter("keywarden_cold_unlocks_total")
	warmSignCounter     = vmetrics.GetOrCreateCounter("keywarden_warm_signs_total")
	fallbackCounter     = vmetrics.GetOrCreateCounter("keywarden_recovery_fallbacks_total")
	migrationCounter    = vmetrics.GetOrCreateCounter("keywarden_key_migrations_total")
)

// minModulusBits is the smallest cooperator modulus usable for locking a
// 32-byte KEK: every locked value must stay below the modulus.
const minModulusBits = derive.KeyLen*8 + 1

// ProgressFunc is called when an operation needs more user interaction than
// the caller asked for, e.g. when a warm signing request has to fall back to
// the cold path and a second ceremony prompt is about to appear.
type ProgressFunc func(stage string)

// Progress stages reported through ProgressFunc.
const (
	StageCeremonyRequired = "ceremony-required"
	StageRecoveryFallback = "recovery-fallback"
	StageKeyMigration     = "key-migration"
)

// Config carries the custody engine's tunables.
type Config struct {
	// RPID is the relying-party identifier bound into every challenge.
	RPID string

	// SessionTTL and SessionMaxUses bound capabilities minted by Unlock.
	SessionTTL     time.Duration
	SessionMaxUses int

	// RecoveryShares and RecoveryThreshold, when both set, make Register
	// return an offline recovery kit built from the ceremony's secondary
	// secret. Zero values disable kit generation.
	RecoveryShares    int
	RecoveryThreshold int
}

// DefaultConfig returns conservative capability bounds: ten minutes, ten uses.
func DefaultConfig(rpID string) Config {
	return Config{
		RPID:           rpID,
		SessionTTL:     10 * time.Minute,
		SessionMaxUses: 10,
	}
}

// Service orchestrates registration, the cold unlock path and the warm
// signing path across the challenge engine, the cooperator, the derivation
// pipeline, the capability store and durable blob storage.
//
// The service holds no per-account secret state between calls. Everything it
// derives during a call is wiped before returning; the only secret-adjacent
// material that outlives a call is the wrap-key seed held by the session
// capability store.
type Service struct {
	store    interfaces.BlobStore
	locks    interfaces.LockService
	sessions *session.Store
	ceremony interfaces.CeremonyOracle
	engine   *challenge.Engine

	vrfSigner *challenge.Signer
	vrfPubPEM []byte

	cfg      Config
	progress ProgressFunc
	log      *slog.Logger
}

// New assembles a custody service. A fresh VRF keypair is generated for the
// challenge engine; pass nil progress to disable progress reporting.
func New(cfg Config, store interfaces.BlobStore, locks interfaces.LockService, sessions *session.Store, ceremony interfaces.CeremonyOracle, source interfaces.BlockSource, progress ProgressFunc, log *slog.Logger) (*Service, error) {
	vrfSigner, vrfPubPEM, err := challenge.GenerateSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge keypair: %w", err)
	}

	if progress == nil {
		progress = func(string) {}
	}

	return &Service{
		store:     store,
		locks:     locks,
		sessions:  sessions,
		ceremony:  ceremony,
		engine:    challenge.NewEngine(source, log),
		vrfSigner: vrfSigner,
		vrfPubPEM: vrfPubPEM,
		cfg:       cfg,
		progress:  progress,
		log:       log,
	}, nil
}

// ChallengePublicKey returns the PEM-encoded VRF public key, so verifiers
// can check challenge proofs independently.
func (s *Service) ChallengePublicKey() []byte {
	return append([]byte(nil), s.vrfPubPEM...)
}

// runCeremony builds a freshness-bound challenge, evaluates the VRF over it
// and hands the output to the authentication ceremony. The proof is verified
// before use so a corrupted challenge path fails closed with ErrInvalidProof.
func (s *Service) runCeremony(ctx context.Context, account interfaces.AccountID) (interfaces.CeremonyResult, error) {
	in, err := s.engine.BuildChallenge(ctx, string(account), s.cfg.RPID, nil, nil)
	if err != nil {
		return interfaces.CeremonyResult{}, err
	}

	proof, err := s.engine.Evaluate(s.vrfSigner, s.vrfPubPEM, in)
	if err != nil {
		return interfaces.CeremonyResult{}, err
	}

	output, err := challenge.Verify(s.vrfPubPEM, in, proof)
	if err != nil {
		return interfaces.CeremonyResult{}, err
	}

	result, err := s.ceremony.Authenticate(ctx, output)
	if err != nil {
		return interfaces.CeremonyResult{}, fmt.Errorf("authentication ceremony failed: %w", err)
	}
	if !result.PresenceConfirmed {
		return interfaces.CeremonyResult{}, interfaces.ErrPresenceNotConfirmed
	}

	return result, nil
}

// lockValue runs the registration half of the three-message exchange: blind
// the value, have the cooperator add its lock, strip our blinding. The
// cooperator only ever sees the blinded forms.
func (s *Service) lockValue(ctx context.Context, modulus *big.Int, value []byte) ([]byte, interfaces.KeyID, error) {
	clientLock, err := cooperator.NewClientLock(modulus)
	if err != nil {
		return nil, "", err
	}

	blinded, err := clientLock.Apply(value)
	if err != nil {
		return nil, "", err
	}

	doubleBlinded, keyID, err := s.locks.ApplyLock(ctx, blinded)
	if err != nil {
		return nil, "", fmt.Errorf("cooperator could not apply lock: %w", err)
	}

	serverLocked, err := clientLock.Remove(doubleBlinded)
	if err != nil {
		return nil, "", err
	}

	return serverLocked, keyID, nil
}

// unlockValue runs the unlock half of the exchange with a fresh ephemeral
// blinding: blind the server-locked value, have the cooperator remove the
// lock named by keyID, strip our blinding. The recovered value is re-padded
// to the KEK length because big-integer encoding drops leading zero bytes.
func (s *Service) unlockValue(ctx context.Context, modulus *big.Int, serverLocked []byte, keyID interfaces.KeyID) ([]byte, error) {
	clientLock, err := cooperator.NewClientLock(modulus)
	if err != nil {
		return nil, err
	}

	blinded, err := clientLock.Apply(serverLocked)
	if err != nil {
		return nil, err
	}

	clientLocked, err := s.locks.RemoveLock(ctx, blinded, keyID)
	if err != nil {
		return nil, err
	}

	recovered, err := clientLock.Remove(clientLocked)
	if err != nil {
		return nil, err
	}

	kek := new(big.Int).SetBytes(recovered).FillBytes(make([]byte, derive.KeyLen))
	derive.Wipe(recovered)
	return kek, nil
}

func (s *Service) fetchModulus(ctx context.Context) (*big.Int, interfaces.KeyInfo, error) {
	info, err := s.locks.KeyInfo(ctx)
	if err != nil {
		return nil, interfaces.KeyInfo{}, fmt.Errorf("could not fetch cooperator key info: %w", err)
	}

	modulus := new(big.Int).SetBytes(info.Modulus)
	if modulus.BitLen() < minModulusBits {
		return nil, interfaces.KeyInfo{}, fmt.Errorf("cooperator modulus too small: %d bits, need at least %d", modulus.BitLen(), minModulusBits)
	}

	return modulus, info, nil
}

// Register enrolls an account: it runs the authentication ceremony, seals
// the account's signing key and long-term secret, splits custody of the KEK
// with the cooperator and persists the resulting record wholesale.
//
// When the config enables recovery kits, the returned kit holds shares of
// the ceremony's secondary secret; otherwise the kit is nil.
func (s *Service) Register(ctx context.Context, account interfaces.AccountID, signingKey ed25519.PrivateKey) (*recovery.Kit, error) {
	result, err := s.runCeremony(ctx, account)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(result.PrimarySecret)
	defer derive.Wipe(result.SecondarySecret)

	modulus, _, err := s.fetchModulus(ctx)
	if err != nil {
		return nil, err
	}

	longTermSecret, err := derive.RandomKey()
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(longTermSecret)

	kek, err := derive.RandomKey()
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(kek)

	salt, err := derive.RandomKey()
	if err != nil {
		return nil, err
	}

	ciphertext, err := derive.Seal(kek, longTermSecret)
	if err != nil {
		return nil, err
	}

	serverLocked, keyID, err := s.lockValue(ctx, modulus, kek)
	if err != nil {
		return nil, err
	}

	signingKeyCiphertext, err := s.sealSigningKey(result.PrimarySecret, longTermSecret, salt, signingKey)
	if err != nil {
		return nil, err
	}

	recoveryCiphertext, err := sealRecovery(result.SecondarySecret, longTermSecret)
	if err != nil {
		return nil, err
	}

	blob := &interfaces.WrappedSecretBlob{
		Ciphertext:           ciphertext,
		ServerLockedValue:    serverLocked,
		ServerKeyID:          keyID,
		WrapKeySalt:          salt,
		RecoveryCiphertext:   recoveryCiphertext,
		SigningKeyCiphertext: signingKeyCiphertext,
		UpdatedAt:            time.Now().UTC(),
	}
	if err := s.store.Store(ctx, account, blob); err != nil {
		return nil, fmt.Errorf("could not persist account record: %w", err)
	}

	var kit *recovery.Kit
	if s.cfg.RecoveryShares > 0 && s.cfg.RecoveryThreshold > 0 {
		kit, err = recovery.NewKit(result.SecondarySecret, s.cfg.RecoveryShares, s.cfg.RecoveryThreshold)
		if err != nil {
			return nil, fmt.Errorf("could not build recovery kit: %w", err)
		}
	}

	registrationCounter.Inc()
	s.log.Info("Registered account",
		slog.String("account", string(account)),
		slog.String("keyId", string(keyID)))

	return kit, nil
}

// sealSigningKey derives the near KEK from the ceremony's primary secret and
// the long-term secret and seals the signing key under it.
func (s *Service) sealSigningKey(primarySecret, longTermSecret, salt []byte, signingKey ed25519.PrivateKey) ([]byte, error) {
	passFactor, err := derive.PassFactor(primarySecret)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(passFactor)

	seed, err := derive.WrapSeed(passFactor, longTermSecret)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(seed)

	nearKEK, err := derive.NearKEK(seed, salt)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(nearKEK)

	return derive.Seal(nearKEK, signingKey)
}

func sealRecovery(secondarySecret, longTermSecret []byte) ([]byte, error) {
	recoveryKEK, err := derive.RecoveryKEK(secondarySecret)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(recoveryKEK)

	return derive.Seal(recoveryKEK, longTermSecret)
}

// Unlock runs the cold path: authentication ceremony, three-message lock
// removal with a fresh ephemeral blinding, long-term secret decryption, seed
// derivation and capability minting. The capability is minted only after
// every step succeeds.
//
// When the cooperator no longer knows the record's key id, or any other step
// of the exchange fails, Unlock falls back to the recovery ciphertext sealed
// under the ceremony's secondary secret and re-wraps the record under the
// cooperator's current key. The original error is surfaced only if the
// fallback fails too.
func (s *Service) Unlock(ctx context.Context, account interfaces.AccountID, sessionID interfaces.SessionID) error {
	blob, err := s.store.Fetch(ctx, account)
	if err != nil {
		return fmt.Errorf("could not fetch account record: %w", err)
	}

	result, err := s.runCeremony(ctx, account)
	if err != nil {
		return err
	}
	defer derive.Wipe(result.PrimarySecret)
	defer derive.Wipe(result.SecondarySecret)

	if err := ctx.Err(); err != nil {
		return err
	}

	modulus, info, err := s.fetchModulus(ctx)
	if err != nil {
		return err
	}

	longTermSecret, unlockErr := s.recoverLongTermSecret(ctx, modulus, blob)
	if unlockErr != nil {
		s.progress(StageRecoveryFallback)
		longTermSecret, err = s.recoverViaFallback(ctx, modulus, account, blob, result.SecondarySecret, unlockErr)
		if err != nil {
			return err
		}
	} else if blob.ServerKeyID != info.CurrentKeyID {
		// Lazy migration: the cooperator rotated since this record was
		// written, so re-lock the record under the current key while the
		// retired key is still on the grace list.
		s.progress(StageKeyMigration)
		if err := s.rewrap(ctx, modulus, account, blob, longTermSecret); err != nil {
			s.log.Warn("Key migration failed, record still on grace key",
				slog.String("account", string(account)),
				slog.String("err", err.Error()))
		} else {
			migrationCounter.Inc()
		}
	}
	defer derive.Wipe(longTermSecret)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.mintCapability(sessionID, result.PrimarySecret, longTermSecret, blob.WrapKeySalt); err != nil {
		return err
	}

	coldUnlockCounter.Inc()
	s.log.Info("Cold path unlock succeeded",
		slog.String("account", string(account)),
		slog.String("sessionId", string(sessionID)))

	return nil
}

// recoverLongTermSecret runs the three-message unlock exchange and opens the
// long-term secret ciphertext with the recovered KEK.
func (s *Service) recoverLongTermSecret(ctx context.Context, modulus *big.Int, blob *interfaces.WrappedSecretBlob) ([]byte, error) {
	kek, err := s.unlockValue(ctx, modulus, blob.ServerLockedValue, blob.ServerKeyID)
	if err != nil {
		return nil, err
	}
	defer derive.Wipe(kek)

	longTermSecret, err := derive.Open(kek, blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt long-term secret: %w", err)
	}

	return longTermSecret, nil
}

// recoverViaFallback opens the recovery ciphertext with a key derived from
// the ceremony's secondary secret and re-wraps the record under the
// cooperator's current key, healing it for future cold paths.
func (s *Service) recoverViaFallback(ctx context.Context, modulus *big.Int, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob, secondarySecret []byte, unlockErr error) ([]byte, error) {
	recoveryKEK, err := derive.RecoveryKEK(secondarySecret)
	if err != nil {
		return nil, unlockErr
	}
	defer derive.Wipe(recoveryKEK)

	longTermSecret, err := derive.Open(recoveryKEK, blob.RecoveryCiphertext)
	if err != nil {
		s.log.Error("Recovery fallback failed",
			slog.String("account", string(account)),
			slog.String("err", err.Error()))
		return nil, fmt.Errorf("unlock failed and recovery fallback unavailable: %w", unlockErr)
	}

	if err := s.rewrap(ctx, modulus, account, blob, longTermSecret); err != nil {
		derive.Wipe(longTermSecret)
		return nil, fmt.Errorf("unlock failed and record re-wrap failed: %w", unlockErr)
	}

	fallbackCounter.Inc()
	s.log.Warn("Recovered account via fallback path",
		slog.String("account", string(account)),
		slog.String("unlockErr", unlockErr.Error()))

	return longTermSecret, nil
}

// rewrap seals the long-term secret under a fresh KEK, locks that KEK with
// the cooperator's current key and persists the updated record wholesale.
func (s *Service) rewrap(ctx context.Context, modulus *big.Int, account interfaces.AccountID, blob *interfaces.WrappedSecretBlob, longTermSecret []byte) error {
	kek, err := derive.RandomKey()
	if err != nil {
		return err
	}
	defer derive.Wipe(kek)

	ciphertext, err := derive.Seal(kek, longTermSecret)
	if err != nil {
		return err
	}

	serverLocked, keyID, err := s.lockValue(ctx, modulus, kek)
	if err != nil {
		return err
	}

	blob.Ciphertext = ciphertext
	blob.ServerLockedValue = serverLocked
	blob.ServerKeyID = keyID
	blob.UpdatedAt = time.Now().UTC()

	return s.store.Store(ctx, account, blob)
}

func (s *Service) mintCapability(sessionID interfaces.SessionID, primarySecret, longTermSecret, salt []byte) error {
	passFactor, err := derive.PassFactor(primarySecret)
	if err != nil {
		return err
	}
	defer derive.Wipe(passFactor)

	seed, err := derive.WrapSeed(passFactor, longTermSecret)
	if err != nil {
		return err
	}
	defer derive.Wipe(seed)

	s.sessions.Mint(sessionID, seed, salt, s.cfg.SessionTTL, s.cfg.SessionMaxUses)
	return nil
}

// Sign runs the warm path: dispense one use from the session's capability
// and hand it to an ephemeral signing unit. When the capability is expired,
// exhausted or missing, Sign reports progress and falls back to the cold
// path, which re-runs the ceremony; the dispense error is surfaced if the
// cold path cannot help.
func (s *Service) Sign(ctx context.Context, account interfaces.AccountID, sessionID interfaces.SessionID, payload []byte) ([]byte, error) {
	blob, err := s.store.Fetch(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("could not fetch account record: %w", err)
	}

	rx, dispenseErr := s.sessions.Dispense(sessionID, 1)
	if dispenseErr != nil {
		if !errors.Is(dispenseErr, interfaces.ErrExpired) &&
			!errors.Is(dispenseErr, interfaces.ErrExhausted) &&
			!errors.Is(dispenseErr, interfaces.ErrNotFound) {
			return nil, dispenseErr
		}

		s.progress(StageCeremonyRequired)
		if err := s.Unlock(ctx, account, sessionID); err != nil {
			return nil, fmt.Errorf("%w (cold path also failed: %v)", dispenseErr, err)
		}

		rx, err = s.sessions.Dispense(sessionID, 1)
		if err != nil {
			return nil, err
		}
	}

	select {
	case res := <-signer.Spawn(ctx, rx, blob.SigningKeyCiphertext, payload):
		if res.Err != nil {
			return nil, res.Err
		}
		warmSignCounter.Inc()
		return res.Signature, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
