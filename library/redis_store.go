package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const redisIndexKey = "lbms:snapshots"

func snapshotDataKey(id string) string { return fmt.Sprintf("lbms:snapshot:%s:data", id) }
func snapshotInfoKey(id string) string { return fmt.Sprintf("lbms:snapshot:%s:info", id) }
func latestKey(name string) string { return fmt.Sprintf("lbms:snapshot:latest:%s", name) }

// RedisSnapshotStore keeps snapshots in Redis. Each snapshot has a data key
// and an info key; the latest ID per name and a time-ordered index are kept
// alongside.
type RedisSnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSnapshotStore wraps a client. A zero ttl keeps snapshots forever.
func NewRedisSnapshotStore(rdb *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, ttl: ttl}
}

// SaveSnapshot stores s and makes it the latest snapshot for name.
func (r *RedisSnapshotStore) SaveSnapshot(ctx context.Context, name string, s Snapshot) (SnapshotInfo, error) {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return SnapshotInfo{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot id: %w", err)
	}
	info := SnapshotInfo{ID: id.String(), Name: name, TakenAt: s.TakenAt, Size: len(data)}
	meta, err := jsoniter.ConfigFastest.Marshal(info)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode snapshot info: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, snapshotDataKey(info.ID), data, r.ttl)
	pipe.Set(ctx, snapshotInfoKey(info.ID), meta, r.ttl)
	pipe.Set(ctx, latestKey(name), info.ID, r.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(info.TakenAt.UnixMilli()), Member: info.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return SnapshotInfo{}, fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return info, nil
}

// LoadSnapshot returns the latest snapshot saved under name.
func (r *RedisSnapshotStore) LoadSnapshot(ctx context.Context, name string) (Snapshot, error) {
	id, err := r.rdb.Get(ctx, latestKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	data, err := r.rdb.Get(ctx, snapshotDataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return DecodeSnapshot(data)
}

// ListSnapshots describes every indexed snapshot, newest first. Index entries
// whose keys have expired are dropped from the index.
func (r *RedisSnapshotStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	ids, err := r.rdb.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]SnapshotInfo, 0, len(ids))
	var expired []any
	for _, id := range ids {
		b, err := r.rdb.Get(ctx, snapshotInfoKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		var info SnapshotInfo
		if err := jsoniter.ConfigFastest.Unmarshal(b, &info); err != nil {
			return nil, fmt.Errorf("decode snapshot info %s: %w", id, err)
		}
		out = append(out, info)
	}
	if len(expired) > 0 {
		_ = r.rdb.ZRem(ctx, redisIndexKey, expired...).Err()
	}
	return out, nil
}
