package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/keywarden/keywarden/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlob() *interfaces.WrappedSecretBlob {
	return &interfaces.WrappedSecretBlob{
		Ciphertext:           []byte{0x01, 0x02, 0x03},
		ServerLockedValue:    []byte{0x04, 0x05, 0x06},
		ServerKeyID:          "abc123",
		WrapKeySalt:          []byte{0x07, 0x08},
		RecoveryCiphertext:   []byte{0x09},
		SigningKeyCiphertext: []byte{0x0a, 0x0b},
		UpdatedAt:            time.Now().UTC().Truncate(time.Second),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Fetch(ctx, "alice")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	blob := testBlob()
	require.NoError(t, store.Store(ctx, "alice", blob))

	got, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Wholesale rewrite replaces every field.
	blob2 := testBlob()
	blob2.ServerKeyID = "def456"
	blob2.ServerLockedValue = []byte{0xff}
	require.NoError(t, store.Store(ctx, "alice", blob2))

	got, err = store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, blob2, got)

	assert.True(t, store.Available(ctx))
}

func TestFileStoreAccountIsolation(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)
	ctx := context.Background()

	blob := testBlob()
	require.NoError(t, store.Store(ctx, "alice", blob))

	_, err = store.Fetch(ctx, "bob")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestMultiStoreFallback(t *testing.T) {
	primary, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)
	secondary, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	multi := NewMultiStore([]interfaces.BlobStore{primary, secondary}, slog.Default())
	ctx := context.Background()

	blob := testBlob()
	require.NoError(t, multi.Store(ctx, "alice", blob))

	// Both backends received the record.
	got, err := primary.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	got, err = secondary.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Fetch succeeds from the secondary when the primary lost the record.
	require.NoError(t, primary.Store(ctx, "bob", blob))
	got, err = multi.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(slog.Default())

	store, err := factory.StoreFor(interfaces.StorageLocation("file://" + t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, store.Name(), "file://")

	_, err = factory.StoreFor("ftp://nope")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StoreFor("vault://host:8200/onlymount")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiStore([]interfaces.StorageLocation{
		interfaces.StorageLocation("file://" + t.TempDir()),
		"ftp://skipped",
	})
	require.NoError(t, err)
	assert.Contains(t, multi.Name(), "multi:")

	_, err = factory.CreateMultiStore([]interfaces.StorageLocation{"ftp://nope"})
	assert.Error(t, err)
}
