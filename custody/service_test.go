package custody

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/keywarden/keywarden/challenge"
	"github.com/keywarden/keywarden/cooperator"
	"github.com/keywarden/keywarden/interfaces"
	"github.com/keywarden/keywarden/recovery"
	"github.com/keywarden/keywarden/session"
	"github.com/keywarden/keywarden/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOracle confirms presence and returns fixed ceremony secrets. It hands
// out copies because the custody service wipes the secrets it receives.
type stubOracle struct {
	primary   []byte
	secondary []byte
	presence  bool

	calls         int
	lastChallenge []byte
}

func (o *stubOracle) Authenticate(ctx context.Context, chal []byte) (interfaces.CeremonyResult, error) {
	o.calls++
	o.lastChallenge = append([]byte(nil), chal...)
	return interfaces.CeremonyResult{
		PresenceConfirmed: o.presence,
		PrimarySecret:     append([]byte(nil), o.primary...),
		SecondarySecret:   append([]byte(nil), o.secondary...),
	}, nil
}

type testEnv struct {
	svc      *Service
	coop     *cooperator.Cooperator
	store    *storage.FileStore
	sessions *session.Store
	oracle   *stubOracle
	stages   *[]string
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
}

// testModulus is the Mersenne prime 2^521 - 1, comfortably above the 257-bit
// floor for locking a 32-byte KEK and cheap enough for test exponentiation.
func testModulus(t *testing.T) *big.Int {
	t.Helper()
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 521), big.NewInt(1))
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log := slog.Default()

	coop, err := cooperator.NewWithModulus(cooperator.Config{
		MaxGraceKeys: 2,
		MaxGraceAge:  time.Hour,
	}, testModulus(t), log)
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir(), log)
	require.NoError(t, err)

	oracle := &stubOracle{
		primary:   []byte("primary-ceremony-secret-material"),
		secondary: []byte("secondary-ceremony-secret-mat-32"),
		presence:  true,
	}

	sessions := session.NewStore(log)

	var stages []string
	progress := func(stage string) { stages = append(stages, stage) }

	source := &challenge.StaticBlockSource{Block: interfaces.BlockRef{
		Height: 1234567,
		Hash:   [32]byte{0xaa, 0xbb, 0xcc},
	}}

	svc, err := New(cfg, store, coop, sessions, oracle, source, progress, log)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &testEnv{
		svc:      svc,
		coop:     coop,
		store:    store,
		sessions: sessions,
		oracle:   oracle,
		stages:   &stages,
		pub:      pub,
		priv:     priv,
	}
}

func TestRegisterUnlockSignLifecycle(t *testing.T) {
	cfg := DefaultConfig("example.com")
	cfg.SessionTTL = 1100 * time.Millisecond
	cfg.SessionMaxUses = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	account := interfaces.AccountID("alice")
	sessionID := interfaces.SessionID("sess-1")

	kit, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)
	assert.Nil(t, kit, "no recovery kit without share policy")
	require.NotEmpty(t, env.oracle.lastChallenge, "ceremony must receive the VRF output")

	blob, err := env.store.Fetch(ctx, account)
	require.NoError(t, err)
	assert.NotEmpty(t, blob.Ciphertext)
	assert.NotEmpty(t, blob.ServerLockedValue)
	assert.NotEmpty(t, blob.ServerKeyID)
	assert.NotEmpty(t, blob.WrapKeySalt)
	assert.NotEmpty(t, blob.RecoveryCiphertext)
	assert.NotEmpty(t, blob.SigningKeyCiphertext)

	require.NoError(t, env.svc.Unlock(ctx, account, sessionID))

	payload := []byte("spend 1 wei")
	sig, err := env.svc.Sign(ctx, account, sessionID, payload)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(env.pub, payload, sig))

	// One use left; the second direct dispense exhausts the budget.
	_, err = env.sessions.Dispense(sessionID, 1)
	require.NoError(t, err)
	_, err = env.sessions.Dispense(sessionID, 1)
	assert.ErrorIs(t, err, interfaces.ErrExhausted)

	// Past the TTL the capability expires regardless of remaining budget.
	time.Sleep(1200 * time.Millisecond)
	_, err = env.sessions.Dispense(sessionID, 1)
	assert.ErrorIs(t, err, interfaces.ErrExpired)
	_, err = env.sessions.Dispense(sessionID, 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSignFallsBackToColdPath(t *testing.T) {
	cfg := DefaultConfig("example.com")
	cfg.SessionMaxUses = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	account := interfaces.AccountID("bob")
	sessionID := interfaces.SessionID("sess-warm")

	_, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)
	require.NoError(t, env.svc.Unlock(ctx, account, sessionID))

	ceremoniesBefore := env.oracle.calls

	_, err = env.svc.Sign(ctx, account, sessionID, []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, ceremoniesBefore, env.oracle.calls, "warm path must not re-run the ceremony")

	// Budget spent: the next signature needs a fresh ceremony.
	sig, err := env.svc.Sign(ctx, account, sessionID, []byte("second"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(env.pub, []byte("second"), sig))
	assert.Equal(t, ceremoniesBefore+1, env.oracle.calls)
	assert.Contains(t, *env.stages, StageCeremonyRequired)
}

func TestSignWithoutCapabilityNeedsCeremony(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))
	ctx := context.Background()

	account := interfaces.AccountID("carol")
	_, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)

	// No prior Unlock: Sign runs the cold path itself.
	sig, err := env.svc.Sign(ctx, account, interfaces.SessionID("fresh"), []byte("msg"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(env.pub, []byte("msg"), sig))
	assert.Contains(t, *env.stages, StageCeremonyRequired)
}

func TestUnlockMigratesAfterRotation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))
	ctx := context.Background()

	account := interfaces.AccountID("dave")
	_, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)

	before, err := env.store.Fetch(ctx, account)
	require.NoError(t, err)

	newKeyID, err := env.coop.Rotate(true)
	require.NoError(t, err)

	require.NoError(t, env.svc.Unlock(ctx, account, interfaces.SessionID("sess-mig")))
	assert.Contains(t, *env.stages, StageKeyMigration)

	after, err := env.store.Fetch(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, newKeyID, after.ServerKeyID)
	assert.NotEqual(t, before.ServerLockedValue, after.ServerLockedValue)
}

func TestUnlockRecoversWhenKeyRetiredWithoutGrace(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))
	ctx := context.Background()

	account := interfaces.AccountID("erin")
	sessionID := interfaces.SessionID("sess-rec")

	_, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)

	// Rotation without grace makes the stored key id unknown to the
	// cooperator: the normal exchange must fail and the fallback heal.
	_, err = env.coop.Rotate(false)
	require.NoError(t, err)

	require.NoError(t, env.svc.Unlock(ctx, account, sessionID))
	assert.Contains(t, *env.stages, StageRecoveryFallback)

	info, err := env.coop.KeyInfo(ctx)
	require.NoError(t, err)
	blob, err := env.store.Fetch(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, info.CurrentKeyID, blob.ServerKeyID, "record must be re-wrapped under the current key")

	// The healed record signs through the warm path.
	sig, err := env.svc.Sign(ctx, account, sessionID, []byte("after recovery"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(env.pub, []byte("after recovery"), sig))
}

func TestUnlockRequiresPresence(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))
	ctx := context.Background()

	account := interfaces.AccountID("frank")
	_, err := env.svc.Register(ctx, account, env.priv)
	require.NoError(t, err)

	env.oracle.presence = false
	err = env.svc.Unlock(ctx, account, interfaces.SessionID("sess-np"))
	assert.ErrorIs(t, err, interfaces.ErrPresenceNotConfirmed)

	// No capability may exist after a failed ceremony.
	_, err = env.sessions.Dispense(interfaces.SessionID("sess-np"), 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestUnlockUnknownAccount(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))
	err := env.svc.Unlock(context.Background(), interfaces.AccountID("ghost"), interfaces.SessionID("s"))
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestRegisterBuildsRecoveryKit(t *testing.T) {
	cfg := DefaultConfig("example.com")
	cfg.RecoveryShares = 3
	cfg.RecoveryThreshold = 2
	env := newTestEnv(t, cfg)

	kit, err := env.svc.Register(context.Background(), interfaces.AccountID("grace"), env.priv)
	require.NoError(t, err)
	require.NotNil(t, kit)
	require.Len(t, kit.Shares, 3)

	secret, err := recovery.Combine([][]byte{kit.Shares[2], kit.Shares[0]})
	require.NoError(t, err)
	assert.Equal(t, env.oracle.secondary, secret)
}

func TestUnlockHonorsCancellation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig("example.com"))

	account := interfaces.AccountID("heidi")
	_, err := env.svc.Register(context.Background(), account, env.priv)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = env.svc.Unlock(ctx, account, interfaces.SessionID("sess-cancel"))
	assert.Error(t, err)
}
