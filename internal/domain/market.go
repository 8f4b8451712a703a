package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is one of the two sides of a binary market.
type Outcome uint32

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// Valid reports whether the outcome is one of the two binary values.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusDisputed  MarketStatus = "disputed"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// MarketRecord is the durable per-market lifecycle state.
type MarketRecord struct {
	MarketID       common.Hash    `json:"market_id"`
	Creator        common.Address `json:"creator"`
	Status         MarketStatus   `json:"status"`
	ClosingTime    int64          `json:"closing_time"`    // unix seconds
	ResolutionTime int64          `json:"resolution_time"` // unix seconds
	YesPool        *big.Int       `json:"yes_pool"`        // revealed YES total
	NoPool         *big.Int       `json:"no_pool"`         // revealed NO total
	TotalVolume    *big.Int       `json:"total_volume"`
	PendingCount   int            `json:"pending_count"`
	WinnerShares   *big.Int       `json:"winner_shares,omitempty"`
	LoserShares    *big.Int       `json:"loser_shares,omitempty"`
	WinningOutcome *Outcome       `json:"winning_outcome,omitempty"`
}

// Commitment is a hidden prediction: the digest binds outcome and salt, the
// user binding is structural (the record is keyed by user).
type Commitment struct {
	User       common.Address `json:"user"`
	CommitHash common.Hash    `json:"commit_hash"`
	Amount     *big.Int       `json:"amount"`
	Timestamp  int64          `json:"timestamp"`
}

// UserPrediction is a revealed prediction. Claimed flips exactly once.
type UserPrediction struct {
	User      common.Address `json:"user"`
	Outcome   Outcome        `json:"outcome"`
	Amount    *big.Int       `json:"amount"`
	Claimed   bool           `json:"claimed"`
	Timestamp int64          `json:"timestamp"`
}

// DisputeRecord captures a resolution dispute raised within the window.
type DisputeRecord struct {
	User      common.Address `json:"user"`
	Reason    string         `json:"reason"`
	Stake     *big.Int       `json:"stake"`
	Timestamp int64          `json:"timestamp"`
}

// MarketState is the read-only market summary exposed to callers.
type MarketState struct {
	Status           MarketStatus `json:"status"`
	ClosingTime      int64        `json:"closing_time"`
	TotalPool        *big.Int     `json:"total_pool"`
	ParticipantCount int          `json:"participant_count"`
	WinningOutcome   *Outcome     `json:"winning_outcome,omitempty"`
}

// PredictionPhase distinguishes a committed record from a revealed one in
// UserPredictionView.
type PredictionPhase string

const (
	PhaseCommitted PredictionPhase = "committed"
	PhaseRevealed  PredictionPhase = "revealed"
)

// UserPredictionView is the per-user position view: a commitment before
// reveal, the revealed prediction afterwards.
type UserPredictionView struct {
	Phase      PredictionPhase `json:"phase"`
	CommitHash common.Hash     `json:"commit_hash,omitempty"`
	Amount     *big.Int        `json:"amount"`
	Outcome    *Outcome        `json:"outcome,omitempty"`
	Claimed    bool            `json:"claimed"`
}

// LeaderboardEntry is one row of the winners-by-payout ranking.
type LeaderboardEntry struct {
	User      common.Address `json:"user"`
	NetPayout *big.Int       `json:"net_payout"`
	Timestamp int64          `json:"timestamp"`
}

// CommitDigest computes the commitment hash over
// market_id ‖ outcome (4-byte big-endian) ‖ salt. The committing user is not
// part of the preimage; commitments are stored per user.
func CommitDigest(marketID common.Hash, outcome Outcome, salt common.Hash) common.Hash {
	var preimage [68]byte
	copy(preimage[:32], marketID[:])
	binary.BigEndian.PutUint32(preimage[32:36], uint32(outcome))
	copy(preimage[36:], salt[:])
	return sha256.Sum256(preimage[:])
}
