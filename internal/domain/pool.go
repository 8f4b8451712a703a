package domain

import "math/big"

// PoolState is the read-only snapshot of a market's liquidity pool.
type PoolState struct {
	YesReserve     *big.Int `json:"yes_reserve"`
	NoReserve      *big.Int `json:"no_reserve"`
	TotalLiquidity *big.Int `json:"total_liquidity"`
	YesOdds        int64    `json:"yes_odds"` // basis points, sums to 10000 with NoOdds
	NoOdds         int64    `json:"no_odds"`
}

// Prices holds the fee-adjusted cost of one share per outcome, in basis
// points of the unit of account (10000 = 1.00).
type Prices struct {
	Yes int64 `json:"yes"`
	No  int64 `json:"no"`
}
