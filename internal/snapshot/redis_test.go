package snapshot

import (
	"context"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestRedis connects to SNAPDIFF_TEST_REDIS_ADDR with a unique prefix.
func openTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("SNAPDIFF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SNAPDIFF_TEST_REDIS_ADDR not set")
	}
	store, err := OpenRedis(context.Background(), RedisConfig{
		Addr:   addr,
		Prefix: "snapdiff-test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.Prune(context.Background(), -time.Hour)
		_ = store.Close()
	})
	return store
}

func TestRedisStore_Contract(t *testing.T) {
	store := openTestRedis(t)
	ctx := context.Background()
	key := testKey("redis", 1)

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	img := testImage(t, 3, 3, color.White)
	require.NoError(t, store.Put(ctx, key, img))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Equal(img))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.Location(key), list[0].Location)
	assert.Equal(t, int64(len(img.Data)), list[0].Size)
	assert.Equal(t, 3, list[0].Width)

	require.NoError(t, store.Delete(ctx, key))
	assert.ErrorIs(t, store.Delete(ctx, key), ErrNotFound)
}

func TestRedisStore_KeyConflict(t *testing.T) {
	checkKeyConflict(t, openTestRedis(t))
}

func TestRedisStore_Prune(t *testing.T) {
	store := openTestRedis(t)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base.Add(-48 * time.Hour) }
	require.NoError(t, store.Put(ctx, testKey("old", 1), testImage(t, 1, 1, color.White)))
	store.now = func() time.Time { return base }
	require.NoError(t, store.Put(ctx, testKey("new", 1), testImage(t, 1, 1, color.White)))

	deleted, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	ok, err := store.Exists(ctx, testKey("new", 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRedis_Unreachable(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrStorage)
}
