package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/market"
	"github.com/alanyoungcy/marketsettle/internal/pool"
)

// cachedMarketEngine layers the snapshot cache over the market engine's
// State view and invalidates on every state-changing operation. The cache is
// best effort: read and write failures fall through to the engine.
type cachedMarketEngine struct {
	*market.Engine
	cache domain.SnapshotCache
}

func newCachedMarketEngine(engine *market.Engine, cache domain.SnapshotCache) *cachedMarketEngine {
	return &cachedMarketEngine{Engine: engine, cache: cache}
}

func (c *cachedMarketEngine) State(ctx context.Context, marketID common.Hash) (domain.MarketState, error) {
	if state, err := c.cache.Market(ctx, marketID); err == nil {
		return state, nil
	}
	state, err := c.Engine.State(ctx, marketID)
	if err != nil {
		return domain.MarketState{}, err
	}
	_ = c.cache.SetMarket(ctx, marketID, state)
	return state, nil
}

func (c *cachedMarketEngine) invalidate(ctx context.Context, marketID common.Hash) {
	_ = c.cache.Invalidate(ctx, marketID)
}

func (c *cachedMarketEngine) CommitPrediction(ctx context.Context, user common.Address, marketID common.Hash, commitHash common.Hash, amount *big.Int) error {
	err := c.Engine.CommitPrediction(ctx, user, marketID, commitHash, amount)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedMarketEngine) RevealPrediction(ctx context.Context, user common.Address, marketID common.Hash, outcome domain.Outcome, amount *big.Int, salt common.Hash) error {
	err := c.Engine.RevealPrediction(ctx, user, marketID, outcome, amount, salt)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedMarketEngine) CloseMarket(ctx context.Context, marketID common.Hash) error {
	err := c.Engine.CloseMarket(ctx, marketID)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedMarketEngine) ResolveMarket(ctx context.Context, marketID common.Hash) error {
	err := c.Engine.ResolveMarket(ctx, marketID)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedMarketEngine) ClaimWinnings(ctx context.Context, user common.Address, marketID common.Hash) (*big.Int, error) {
	payout, err := c.Engine.ClaimWinnings(ctx, user, marketID)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return payout, err
}

func (c *cachedMarketEngine) DisputeMarket(ctx context.Context, user common.Address, marketID common.Hash, reason string) error {
	err := c.Engine.DisputeMarket(ctx, user, marketID, reason)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedMarketEngine) CancelMarket(ctx context.Context, caller common.Address, marketID common.Hash) error {
	err := c.Engine.CancelMarket(ctx, caller, marketID)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

// cachedPoolEngine layers the snapshot cache over the pool engine's
// PoolState view, invalidating on every trade and liquidity change.
type cachedPoolEngine struct {
	*pool.Engine
	cache domain.SnapshotCache
}

func newCachedPoolEngine(engine *pool.Engine, cache domain.SnapshotCache) *cachedPoolEngine {
	return &cachedPoolEngine{Engine: engine, cache: cache}
}

func (c *cachedPoolEngine) PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error) {
	if state, err := c.cache.Pool(ctx, marketID); err == nil {
		return state, nil
	}
	state, err := c.Engine.PoolState(ctx, marketID)
	if err != nil {
		return domain.PoolState{}, err
	}
	_ = c.cache.SetPool(ctx, marketID, state)
	return state, nil
}

func (c *cachedPoolEngine) invalidate(ctx context.Context, marketID common.Hash) {
	_ = c.cache.Invalidate(ctx, marketID)
}

func (c *cachedPoolEngine) CreatePool(ctx context.Context, creator common.Address, marketID common.Hash, initialAmount *big.Int) error {
	err := c.Engine.CreatePool(ctx, creator, marketID, initialAmount)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return err
}

func (c *cachedPoolEngine) BuyShares(ctx context.Context, buyer common.Address, marketID common.Hash, outcome domain.Outcome, amount, minShares *big.Int) (*big.Int, error) {
	shares, err := c.Engine.BuyShares(ctx, buyer, marketID, outcome, amount, minShares)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return shares, err
}

func (c *cachedPoolEngine) SellShares(ctx context.Context, seller common.Address, marketID common.Hash, outcome domain.Outcome, shares, minPayout *big.Int) (*big.Int, error) {
	payout, err := c.Engine.SellShares(ctx, seller, marketID, outcome, shares, minPayout)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return payout, err
}

func (c *cachedPoolEngine) AddLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, amount *big.Int) (*big.Int, error) {
	minted, err := c.Engine.AddLiquidity(ctx, provider, marketID, amount)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return minted, err
}

func (c *cachedPoolEngine) RemoveLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, lpTokens *big.Int) (*big.Int, *big.Int, error) {
	yesOut, noOut, err := c.Engine.RemoveLiquidity(ctx, provider, marketID, lpTokens)
	if err == nil {
		c.invalidate(ctx, marketID)
	}
	return yesOut, noOut, err
}
