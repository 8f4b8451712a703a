package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LockManager provides distributed mutual exclusion. The per-market locks
// inside each engine serialize operations within one process; a LockManager
// extends that guarantee across instances.
type LockManager interface {
	// Acquire obtains the lock for key, or ErrLockHeld if another party
	// holds it. The returned unlock func is safe to call multiple times.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces a per-client request rate over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage is one durable event read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SnapshotCache holds short-lived read-path snapshots of market and pool
// state so view-heavy consumers do not hit the durable store.
type SnapshotCache interface {
	SetMarket(ctx context.Context, marketID common.Hash, state MarketState) error
	Market(ctx context.Context, marketID common.Hash) (MarketState, error)
	SetPool(ctx context.Context, marketID common.Hash, state PoolState) error
	Pool(ctx context.Context, marketID common.Hash) (PoolState, error)
	Invalidate(ctx context.Context, marketID common.Hash) error
}
