package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "muncher-state.sqlite")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCursorGetSetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetCursor(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetCursor(ctx, "did:plc:abc", 100))
	seq, ok, err := store.GetCursor(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), seq)

	require.NoError(t, store.SetCursor(ctx, "did:plc:abc", 200))
	seq, ok, err = store.GetCursor(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(200), seq)
}

func TestIdentityCacheRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, hit, err := store.GetIdentity(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, store.SetIdentity(ctx, "did:plc:abc", "zKey", "https://labeler.example"))

	entry, hit, err := store.GetIdentity(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "zKey", entry.SigningKey)
	require.Equal(t, "https://labeler.example", entry.ServiceEndpoint)
}

func TestServiceCacheExpiresAfterTTL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetService(ctx, "did:plc:abc", []string{"spam", "nsfw"}))

	_, err := store.db.ExecContext(ctx,
		`UPDATE service_cache SET cached_at = ? WHERE did = ?`,
		time.Now().Add(-TTL-time.Minute).Unix(), "did:plc:abc",
	)
	require.NoError(t, err)

	_, hit, err := store.GetService(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.False(t, hit, "expired entry must report a miss")

	_, hit, err = store.GetService(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.False(t, hit, "expired entry must be deleted, not merely skipped")
}

func TestServiceCacheForceExpirySentinel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetService(ctx, "did:plc:abc", []string{"spam"}))
	require.NoError(t, store.InvalidateService(ctx, "did:plc:abc"))

	_, hit, err := store.GetService(ctx, "did:plc:abc")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestInvalidateServiceNoEntryIsNotAnError(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.InvalidateService(context.Background(), "did:plc:unknown"))
}
