package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// snapshotTTL bounds staleness of cached read-path snapshots. Writers
// invalidate eagerly after state changes; the TTL is the backstop.
const snapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache with per-market hashes that
// expire after snapshotTTL.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

func marketSnapshotKey(id common.Hash) string {
	return "snapshot:market:" + id.Hex()
}

func poolSnapshotKey(id common.Hash) string {
	return "snapshot:pool:" + id.Hex()
}

func (sc *SnapshotCache) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}

	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: cache snapshot %s: %w", key, err)
	}
	return nil
}

func (sc *SnapshotCache) get(ctx context.Context, key string, v interface{}) error {
	data, err := sc.rdb.HGet(ctx, key, "data").Result()
	if err != nil {
		if err == redis.Nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: read snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("redis: unmarshal snapshot %s: %w", key, err)
	}
	return nil
}

// SetMarket caches a market state snapshot.
func (sc *SnapshotCache) SetMarket(ctx context.Context, marketID common.Hash, state domain.MarketState) error {
	return sc.set(ctx, marketSnapshotKey(marketID), state)
}

// Market returns the cached market snapshot, or domain.ErrNotFound when the
// entry is missing or expired.
func (sc *SnapshotCache) Market(ctx context.Context, marketID common.Hash) (domain.MarketState, error) {
	var state domain.MarketState
	if err := sc.get(ctx, marketSnapshotKey(marketID), &state); err != nil {
		return domain.MarketState{}, err
	}
	return state, nil
}

// SetPool caches a pool state snapshot.
func (sc *SnapshotCache) SetPool(ctx context.Context, marketID common.Hash, state domain.PoolState) error {
	return sc.set(ctx, poolSnapshotKey(marketID), state)
}

// Pool returns the cached pool snapshot, or domain.ErrNotFound when the entry
// is missing or expired.
func (sc *SnapshotCache) Pool(ctx context.Context, marketID common.Hash) (domain.PoolState, error) {
	var state domain.PoolState
	if err := sc.get(ctx, poolSnapshotKey(marketID), &state); err != nil {
		return domain.PoolState{}, err
	}
	return state, nil
}

// Invalidate drops both snapshots for a market. Engines call this after any
// state-changing operation.
func (sc *SnapshotCache) Invalidate(ctx context.Context, marketID common.Hash) error {
	if err := sc.rdb.Del(ctx, marketSnapshotKey(marketID), poolSnapshotKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshots for %s: %w", marketID.Hex(), err)
	}
	return nil
}
