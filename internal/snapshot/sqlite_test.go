package snapshot

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		dbPath string
	}{
		{"empty_path", ""},
		{"whitespace_path", "   "},
		{"tabs_path", "\t\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenSQLite(ctx, tt.dbPath)
			assert.Nil(t, store)
			assert.ErrorIs(t, err, ErrStorage)
			assert.Contains(t, err.Error(), "empty database path")
		})
	}
}

func TestOpenSQLite_DirectoryCreationAndReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "deep", "snapshots.db")

	store, err := OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(dbPath))

	key := testKey("persisted", 1)
	require.NoError(t, store.Put(ctx, key, testImage(t, 4, 4, color.Black)))
	require.NoError(t, store.Close())

	// Migrations are idempotent and data survives reopening.
	store, err = OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	var ver int
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver))
	assert.Equal(t, 1, ver)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Width)
}

func TestSQLiteStore_StoresFingerprint(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	key := testKey("fp", 2)
	require.NoError(t, store.Put(ctx, key, testImage(t, 1, 1, color.White)))

	var fp string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM snapshots WHERE location=?`, key.Location()).Scan(&fp))
	assert.Equal(t, key.Fingerprint(), fp)
	assert.Equal(t, key.Location(), store.Location(key))
}

func TestSQLiteStore_Prune(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Put(ctx, testKey("old", 1), testImage(t, 1, 1, color.White)))

	store.now = func() time.Time { return base.Add(72 * time.Hour) }
	require.NoError(t, store.Put(ctx, testKey("new", 1), testImage(t, 1, 1, color.White)))

	deleted, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, testKey("new", 1).Location(), list[0].Location)
	assert.True(t, base.Add(72*time.Hour).Equal(list[0].UpdatedAt))
}
