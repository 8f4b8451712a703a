package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OracleRecord is the registry entry for one attestor.
type OracleRecord struct {
	Oracle       common.Address `json:"oracle"`
	Name         string         `json:"name"`
	Registered   bool           `json:"registered"`
	Accuracy     int            `json:"accuracy"` // 0..100
	Stake        *big.Int       `json:"stake"`
	RegisteredAt int64          `json:"registered_at"`
}

// Attestation is one oracle's vote on a market outcome, immutable once
// written.
type Attestation struct {
	Oracle    common.Address `json:"oracle"`
	Outcome   Outcome        `json:"outcome"`
	Timestamp int64          `json:"timestamp"`
}

// Challenge disputes the honesty of a single attestation. Resolved exactly
// once by the admin.
type Challenge struct {
	Challenger common.Address `json:"challenger"`
	Oracle     common.Address `json:"oracle"`
	MarketID   common.Hash    `json:"market_id"`
	Reason     string         `json:"reason"`
	Stake      *big.Int       `json:"stake"`
	Timestamp  int64          `json:"timestamp"`
	Resolved   bool           `json:"resolved"`
}

// ConsensusProvider yields the decided outcome for a market, if any. The
// market state machine depends on this interface rather than on the concrete
// consensus manager so it can be exercised with a stub.
type ConsensusProvider interface {
	CheckConsensus(ctx context.Context, marketID common.Hash) (reached bool, outcome Outcome, err error)
}

// MarketResolver is the callback the consensus manager invokes when a
// resolution is finalized. It must carry the same atomicity guarantee as a
// direct call into the market state machine.
type MarketResolver interface {
	ResolveMarket(ctx context.Context, marketID common.Hash) error
}
