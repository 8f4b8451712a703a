package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a settlement event emitted for off-chain indexing. Emission is
// fire-and-forget; publishers must never fail the operation that produced
// the event, and ordering is not guaranteed to external readers.
type Event interface {
	EventType() string
}

// EventPublisher delivers events to whatever transport is wired in. Errors
// are handled (logged) by the implementation.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// ── Pool engine events ──

type PoolCreated struct {
	MarketID         common.Hash `json:"market_id"`
	InitialLiquidity *big.Int    `json:"initial_liquidity"`
	YesReserve       *big.Int    `json:"yes_reserve"`
	NoReserve        *big.Int    `json:"no_reserve"`
}

func (PoolCreated) EventType() string { return "pool_created" }

type SharesBought struct {
	Buyer     common.Address `json:"buyer"`
	MarketID  common.Hash    `json:"market_id"`
	Outcome   Outcome        `json:"outcome"`
	SharesOut *big.Int       `json:"shares_out"`
	Amount    *big.Int       `json:"amount"`
	FeeAmount *big.Int       `json:"fee_amount"`
}

func (SharesBought) EventType() string { return "shares_bought" }

type SharesSold struct {
	Seller         common.Address `json:"seller"`
	MarketID       common.Hash    `json:"market_id"`
	Outcome        Outcome        `json:"outcome"`
	Shares         *big.Int       `json:"shares"`
	PayoutAfterFee *big.Int       `json:"payout_after_fee"`
	FeeAmount      *big.Int       `json:"fee_amount"`
}

func (SharesSold) EventType() string { return "shares_sold" }

type LiquidityAdded struct {
	Provider       common.Address `json:"provider"`
	MarketID       common.Hash    `json:"market_id"`
	Amount         *big.Int       `json:"amount"`
	LPTokensMinted *big.Int       `json:"lp_tokens_minted"`
	NewK           *big.Int       `json:"new_k"`
}

func (LiquidityAdded) EventType() string { return "liquidity_added" }

type LiquidityRemoved struct {
	Provider  common.Address `json:"provider"`
	MarketID  common.Hash    `json:"market_id"`
	LPTokens  *big.Int       `json:"lp_tokens"`
	YesAmount *big.Int       `json:"yes_amount"`
	NoAmount  *big.Int       `json:"no_amount"`
}

func (LiquidityRemoved) EventType() string { return "liquidity_removed" }

// ── Market state machine events ──

type MarketInitialized struct {
	MarketID       common.Hash    `json:"market_id"`
	Creator        common.Address `json:"creator"`
	ClosingTime    int64          `json:"closing_time"`
	ResolutionTime int64          `json:"resolution_time"`
}

func (MarketInitialized) EventType() string { return "market_initialized" }

type CommitmentMade struct {
	User     common.Address `json:"user"`
	MarketID common.Hash    `json:"market_id"`
	Amount   *big.Int       `json:"amount"`
}

func (CommitmentMade) EventType() string { return "commitment_made" }

type PredictionRevealed struct {
	User      common.Address `json:"user"`
	MarketID  common.Hash    `json:"market_id"`
	Outcome   Outcome        `json:"outcome"`
	Amount    *big.Int       `json:"amount"`
	Timestamp int64          `json:"timestamp"`
}

func (PredictionRevealed) EventType() string { return "prediction_revealed" }

type MarketClosed struct {
	MarketID  common.Hash `json:"market_id"`
	Timestamp int64       `json:"timestamp"`
}

func (MarketClosed) EventType() string { return "market_closed" }

type MarketResolved struct {
	MarketID     common.Hash `json:"market_id"`
	FinalOutcome Outcome     `json:"final_outcome"`
	Timestamp    int64       `json:"timestamp"`
}

func (MarketResolved) EventType() string { return "market_resolved" }

type MarketDisputed struct {
	User      common.Address `json:"user"`
	MarketID  common.Hash    `json:"market_id"`
	Reason    string         `json:"reason"`
	Timestamp int64          `json:"timestamp"`
}

func (MarketDisputed) EventType() string { return "market_disputed" }

type WinningsClaimed struct {
	User      common.Address `json:"user"`
	MarketID  common.Hash    `json:"market_id"`
	NetPayout *big.Int       `json:"net_payout"`
}

func (WinningsClaimed) EventType() string { return "winnings_claimed" }

type MarketCancelled struct {
	MarketID  common.Hash    `json:"market_id"`
	Creator   common.Address `json:"creator"`
	Timestamp int64          `json:"timestamp"`
}

func (MarketCancelled) EventType() string { return "market_cancelled" }

// ── Consensus manager events ──

type OracleRegistered struct {
	Oracle    common.Address `json:"oracle"`
	Name      string         `json:"name"`
	Timestamp int64          `json:"timestamp"`
}

func (OracleRegistered) EventType() string { return "oracle_registered" }

type OracleDeregistered struct {
	Oracle    common.Address `json:"oracle"`
	Timestamp int64          `json:"timestamp"`
}

func (OracleDeregistered) EventType() string { return "oracle_deregistered" }

type MarketRegistered struct {
	MarketID       common.Hash `json:"market_id"`
	ResolutionTime int64       `json:"resolution_time"`
}

func (MarketRegistered) EventType() string { return "market_registered" }

type AttestationSubmitted struct {
	MarketID common.Hash    `json:"market_id"`
	Oracle   common.Address `json:"oracle"`
	Outcome  Outcome        `json:"outcome"`
}

func (AttestationSubmitted) EventType() string { return "attestation_submitted" }

type AttestationChallenged struct {
	Oracle     common.Address `json:"oracle"`
	Challenger common.Address `json:"challenger"`
	MarketID   common.Hash    `json:"market_id"`
	Reason     string         `json:"reason"`
}

func (AttestationChallenged) EventType() string { return "attestation_challenged" }

type ChallengeResolved struct {
	Oracle        common.Address `json:"oracle"`
	Challenger    common.Address `json:"challenger"`
	Valid         bool           `json:"valid"`
	NewAccuracy   int            `json:"new_accuracy"`
	SlashedAmount *big.Int       `json:"slashed_amount"`
}

func (ChallengeResolved) EventType() string { return "challenge_resolved" }

type ResolutionFinalized struct {
	MarketID     common.Hash `json:"market_id"`
	FinalOutcome Outcome     `json:"final_outcome"`
	Timestamp    int64       `json:"timestamp"`
}

func (ResolutionFinalized) EventType() string { return "resolution_finalized" }
