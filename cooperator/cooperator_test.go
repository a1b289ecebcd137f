package cooperator

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/keywarden/keywarden/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testModulus is a Mersenne prime (2^127 - 1), large enough for 15-byte test
// values and cheap enough for fast exponentiation in tests.
func testModulus(t *testing.T) *big.Int {
	t.Helper()
	p, ok := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	require.True(t, ok)
	return p
}

func testCooperator(t *testing.T, cfg Config) *Cooperator {
	t.Helper()
	c, err := NewWithModulus(cfg, testModulus(t), slog.Default())
	require.NoError(t, err)
	return c
}

func TestLockCommutativity(t *testing.T) {
	modulus := testModulus(t)
	kek := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}

	client, err := NewClientLock(modulus)
	require.NoError(t, err)
	server, err := GenerateKeypair(modulus)
	require.NoError(t, err)

	// Client locks first, server second; remove in the same order.
	blinded, err := client.Apply(kek)
	require.NoError(t, err)
	double := server.Apply(new(big.Int).SetBytes(blinded)).Bytes()

	clientRemoved, err := client.Remove(double)
	require.NoError(t, err)
	recovered := server.Remove(new(big.Int).SetBytes(clientRemoved)).Bytes()
	assert.Equal(t, kek, recovered, "removing locks in apply order must recover the value")

	// Remove in reverse order.
	serverRemoved := server.Remove(new(big.Int).SetBytes(double)).Bytes()
	recovered2, err := client.Remove(serverRemoved)
	require.NoError(t, err)
	assert.Equal(t, kek, recovered2, "removing locks in reverse order must recover the value")
}

func TestCooperatorBlindness(t *testing.T) {
	c := testCooperator(t, DefaultConfig())
	ctx := context.Background()

	kek := []byte{0x42, 0x13, 0x37, 0xfe, 0xed, 0xbe, 0xef, 0x99}

	client, err := NewClientLock(c.Modulus())
	require.NoError(t, err)

	blinded, err := client.Apply(kek)
	require.NoError(t, err)
	assert.NotEqual(t, kek, blinded, "the cooperator must never receive the plaintext KEK")

	double, keyID, err := c.ApplyLock(ctx, blinded)
	require.NoError(t, err)
	assert.NotEqual(t, kek, double)
	assert.NotEqual(t, blinded, double)

	serverLocked, err := client.Remove(double)
	require.NoError(t, err)
	assert.NotEqual(t, kek, serverLocked, "the persisted server-locked value must not equal the KEK")

	// Full unlock round trip through a fresh ephemeral lock.
	unlockLock, err := NewClientLock(c.Modulus())
	require.NoError(t, err)
	reBlinded, err := unlockLock.Apply(serverLocked)
	require.NoError(t, err)
	assert.NotEqual(t, serverLocked, reBlinded)

	serverRemoved, err := c.RemoveLock(ctx, reBlinded, keyID)
	require.NoError(t, err)
	assert.NotEqual(t, kek, serverRemoved, "the cooperator's response is still client-blinded")

	recovered, err := unlockLock.Remove(serverRemoved)
	require.NoError(t, err)
	assert.Equal(t, kek, recovered)
}

func TestRotationGracePeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGraceKeys = 2
	c := testCooperator(t, cfg)
	ctx := context.Background()

	value := []byte{0x11, 0x22, 0x33, 0x44}

	client, err := NewClientLock(c.Modulus())
	require.NoError(t, err)
	blinded, err := client.Apply(value)
	require.NoError(t, err)

	locked, oldKeyID, err := c.ApplyLock(ctx, blinded)
	require.NoError(t, err)

	newKeyID, err := c.Rotate(true)
	require.NoError(t, err)
	assert.NotEqual(t, oldKeyID, newKeyID)

	info, err := c.KeyInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, newKeyID, info.CurrentKeyID)
	assert.Contains(t, info.GraceKeyIDs, oldKeyID)

	// Old key id still unlocks during grace.
	unlocked, err := c.RemoveLock(ctx, locked, oldKeyID)
	require.NoError(t, err)
	recovered, err := client.Remove(unlocked)
	require.NoError(t, err)
	assert.Equal(t, value, recovered)
}

func TestRotationWithoutGrace(t *testing.T) {
	c := testCooperator(t, DefaultConfig())
	ctx := context.Background()

	client, err := NewClientLock(c.Modulus())
	require.NoError(t, err)
	blinded, err := client.Apply([]byte{0x01, 0x02})
	require.NoError(t, err)

	locked, oldKeyID, err := c.ApplyLock(ctx, blinded)
	require.NoError(t, err)

	_, err = c.Rotate(false)
	require.NoError(t, err)

	_, err = c.RemoveLock(ctx, locked, oldKeyID)
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyID,
		"a key rotated away without grace must be unusable")
}

func TestRemoveLockNeverIssuedKeyID(t *testing.T) {
	c := testCooperator(t, DefaultConfig())

	_, err := c.RemoveLock(context.Background(), []byte{0x01}, interfaces.KeyID("deadbeef"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyID)
}

func TestGraceListBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGraceKeys = 2
	c := testCooperator(t, cfg)
	ctx := context.Background()

	var retired []interfaces.KeyID
	for i := 0; i < 4; i++ {
		info, err := c.KeyInfo(ctx)
		require.NoError(t, err)
		retired = append(retired, info.CurrentKeyID)
		_, err = c.Rotate(true)
		require.NoError(t, err)
	}

	info, err := c.KeyInfo(ctx)
	require.NoError(t, err)
	assert.Len(t, info.GraceKeyIDs, 2, "grace list must stay within its size bound")
	// The two most recently retired keys survive.
	assert.Contains(t, info.GraceKeyIDs, retired[3])
	assert.Contains(t, info.GraceKeyIDs, retired[2])
	assert.NotContains(t, info.GraceKeyIDs, retired[0])
}

func TestGraceListAgesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGraceAge = time.Hour
	c := testCooperator(t, cfg)
	ctx := context.Background()

	info, err := c.KeyInfo(ctx)
	require.NoError(t, err)
	oldKeyID := info.CurrentKeyID

	_, err = c.Rotate(true)
	require.NoError(t, err)

	// Move the clock past the grace age.
	base := time.Now()
	c.now = func() time.Time { return base.Add(2 * time.Hour) }

	info, err = c.KeyInfo(ctx)
	require.NoError(t, err)
	assert.NotContains(t, info.GraceKeyIDs, oldKeyID, "aged-out grace entries must be pruned")

	_, err = c.RemoveLock(ctx, []byte{0x01, 0x02}, oldKeyID)
	assert.ErrorIs(t, err, interfaces.ErrUnknownKeyID)
}

func TestApplyLockRejectsOutOfRangeValues(t *testing.T) {
	c := testCooperator(t, DefaultConfig())
	ctx := context.Background()

	_, _, err := c.ApplyLock(ctx, nil)
	assert.Error(t, err, "zero value must be rejected")

	tooBig := new(big.Int).Add(c.Modulus(), big.NewInt(1))
	_, _, err = c.ApplyLock(ctx, tooBig.Bytes())
	assert.Error(t, err, "values >= modulus must be rejected")
}
