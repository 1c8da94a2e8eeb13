package library

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisSnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisSnapshotStore(rdb, ttl), mr
}

func TestRedisSnapshots(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	testSnapshotStore(t, store)
}

func TestRedisSnapshotsExpire(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	snap := busyLibrary(t).Library().Export()
	info, err := store.SaveSnapshot(ctx, "hourly", snap)
	require.NoError(t, err)
	assert.True(t, mr.Exists(snapshotDataKey(info.ID)))
	assert.Equal(t, time.Hour, mr.TTL(snapshotDataKey(info.ID)))

	mr.FastForward(2 * time.Hour)

	_, err = store.LoadSnapshot(ctx, "hourly")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	list, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := mr.ZMembers(redisIndexKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	mr.Close()

	_, err := store.LoadSnapshot(context.Background(), "nightly")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotNotFound)
}
