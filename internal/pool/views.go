package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Odds returns the implied probability of each outcome in basis points. The
// two values always sum to exactly 10000; on uneven division the remainder
// goes to the larger side. A market with no pool reports 5000/5000.
func (e *Engine) Odds(ctx context.Context, marketID common.Hash) (yesOdds, noOdds int64, err error) {
	err = e.store.View(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyExists(marketID))
		if err != nil {
			return err
		}
		if !exists {
			yesOdds, noOdds = 5000, 5000
			return nil
		}
		yes, no, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		yesOdds, noOdds = impliedOdds(yes, no)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("pool: odds %s: %w", marketID.Hex(), err)
	}
	return yesOdds, noOdds, nil
}

// impliedOdds converts a reserve pair to basis-point probabilities. A share
// of an outcome is worth more the scarcer its reserve is, so each side's
// probability comes from the opposite reserve.
func impliedOdds(yesReserve, noReserve *big.Int) (int64, int64) {
	switch {
	case yesReserve.Sign() == 0 && noReserve.Sign() == 0:
		return 5000, 5000
	case yesReserve.Sign() == 0:
		return 10000, 0
	case noReserve.Sign() == 0:
		return 0, 10000
	}

	total := new(big.Int).Add(yesReserve, noReserve)
	yes := mulDiv(noReserve, big.NewInt(10000), total).Int64()
	no := mulDiv(yesReserve, big.NewInt(10000), total).Int64()

	// Truncation can leave the pair short of 10000; the remainder goes to
	// the larger side.
	if rem := 10000 - yes - no; rem != 0 {
		if yes >= no {
			yes += rem
		} else {
			no += rem
		}
	}
	return yes, no
}

// CurrentPrices returns the effective buy price of one share of each outcome
// in basis points, which is the implied probability marked up by the trading
// fee. Both prices are zero when the pool is missing or a reserve is empty.
func (e *Engine) CurrentPrices(ctx context.Context, marketID common.Hash) (domain.Prices, error) {
	var prices domain.Prices
	err := e.store.View(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyExists(marketID))
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		yes, no, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if yes.Sign() == 0 || no.Sign() == 0 {
			return nil
		}
		// Base prices are raw truncated ratios, not the renormalized
		// odds, so the pair may fall 1 bps short of a round total.
		total := new(big.Int).Add(yes, no)
		yesBase := mulDiv(no, big.NewInt(10000), total).Int64()
		noBase := mulDiv(yes, big.NewInt(10000), total).Int64()
		markup := feeDenominator + e.cfg.TradingFeeBps
		prices.Yes = yesBase * markup / feeDenominator
		prices.No = noBase * markup / feeDenominator
		return nil
	})
	if err != nil {
		return domain.Prices{}, fmt.Errorf("pool: prices %s: %w", marketID.Hex(), err)
	}
	return prices, nil
}

// PoolState returns a snapshot of the pool's reserves, total liquidity and
// current odds. A market with no pool reports zero reserves at 5000/5000
// rather than an error.
func (e *Engine) PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error) {
	var state domain.PoolState
	err := e.store.View(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyExists(marketID))
		if err != nil {
			return err
		}
		if !exists {
			state = domain.PoolState{
				YesReserve:     big.NewInt(0),
				NoReserve:      big.NewInt(0),
				TotalLiquidity: big.NewInt(0),
				YesOdds:        5000,
				NoOdds:         5000,
			}
			return nil
		}
		yes, no, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		state.YesReserve = yes
		state.NoReserve = no
		state.TotalLiquidity = new(big.Int).Add(yes, no)
		state.YesOdds, state.NoOdds = impliedOdds(yes, no)
		return nil
	})
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("pool: state %s: %w", marketID.Hex(), err)
	}
	return state, nil
}

// PoolK returns the stored constant product for a market.
func (e *Engine) PoolK(ctx context.Context, marketID common.Hash) (*big.Int, error) {
	var k *big.Int
	err := e.store.View(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyExists(marketID))
		if err != nil {
			return err
		}
		if !exists {
			return ErrPoolNotFound
		}
		k, err = getBigOrZero(ctx, kv, keyK(marketID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pool: k %s: %w", marketID.Hex(), err)
	}
	return k, nil
}

// ShareBalance returns a user's share balance for one outcome.
func (e *Engine) ShareBalance(ctx context.Context, marketID common.Hash, user common.Address, outcome domain.Outcome) (*big.Int, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("pool: share balance: %w", ErrInvalidOutcome)
	}
	var balance *big.Int
	err := e.store.View(ctx, func(kv domain.KV) error {
		var err error
		balance, err = getBigOrZero(ctx, kv, keyShares(marketID, user, outcome))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pool: share balance %s: %w", marketID.Hex(), err)
	}
	return balance, nil
}

// LPBalance returns a provider's LP token balance for a market.
func (e *Engine) LPBalance(ctx context.Context, marketID common.Hash, provider common.Address) (*big.Int, error) {
	var balance *big.Int
	err := e.store.View(ctx, func(kv domain.KV) error {
		var err error
		balance, err = getBigOrZero(ctx, kv, keyLPBalance(marketID, provider))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pool: lp balance %s: %w", marketID.Hex(), err)
	}
	return balance, nil
}
