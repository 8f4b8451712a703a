// Package pool implements the constant-product market maker that prices and
// trades the two complementary outcome shares of a binary market.
//
// Each market owns one pool: a YES reserve, a NO reserve, the constant
// product k = yes*no, and LP token accounting. Buying an outcome uses the
// opposite outcome's reserve as the CPMM input side; this mapping is part of
// the product's economic behaviour and is preserved as-is.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/keylock"
)

// Trading failures. Every one of these aborts the operation with no partial
// state change.
var (
	ErrPoolExists            = errors.New("pool already exists")
	ErrPoolNotFound          = errors.New("pool does not exist")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInvalidOutcome        = errors.New("outcome must be 0 (NO) or 1 (YES)")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientShares    = errors.New("insufficient share balance")
	ErrInsufficientLPTokens  = errors.New("insufficient lp tokens")
	ErrLiquidityCapExceeded  = errors.New("max liquidity cap exceeded")
	ErrAmountTooSmall        = errors.New("amount too small")
	ErrInvariantViolation    = errors.New("constant product invariant violation")
)

const feeDenominator = 10000

// Config holds the per-instance pool engine parameters.
type Config struct {
	// Escrow is the account that holds pooled funds.
	Escrow common.Address
	// TradingFeeBps is the fee charged on trades, in basis points.
	TradingFeeBps int64
	// MaxLiquidityCap bounds total liquidity per market; nil means unbounded.
	MaxLiquidityCap *big.Int
}

// Engine owns all per-market reserve pairs and liquidity-provider accounting.
type Engine struct {
	cfg    Config
	store  domain.StateStore
	ledger domain.AssetLedger
	events domain.EventPublisher
	logger *slog.Logger
	locks  *keylock.KeyLock
}

// New creates a pool engine. A zero TradingFeeBps in cfg defaults to 20 bps.
func New(cfg Config, store domain.StateStore, ledger domain.AssetLedger, events domain.EventPublisher, logger *slog.Logger) *Engine {
	if cfg.TradingFeeBps == 0 {
		cfg.TradingFeeBps = 20
	}
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		events: events,
		logger: logger.With(slog.String("component", "pool")),
		locks:  keylock.New(),
	}
}

// ── Storage keys ──

func keyExists(id common.Hash) string { return "pool:exists:" + id.Hex() }
func keyYes(id common.Hash) string    { return "pool:yes_reserve:" + id.Hex() }
func keyNo(id common.Hash) string     { return "pool:no_reserve:" + id.Hex() }
func keyK(id common.Hash) string      { return "pool:k:" + id.Hex() }
func keySupply(id common.Hash) string { return "pool:lp_supply:" + id.Hex() }

func keyLPBalance(id common.Hash, provider common.Address) string {
	return "pool:lp_balance:" + id.Hex() + ":" + provider.Hex()
}

func keyShares(id common.Hash, user common.Address, outcome domain.Outcome) string {
	return fmt.Sprintf("pool:user_shares:%s:%s:%d", id.Hex(), user.Hex(), outcome)
}

// CreatePool initializes the liquidity pool for a market with a 50/50 split
// of initialAmount and mints LP tokens 1:1 to the creator.
func (e *Engine) CreatePool(ctx context.Context, creator common.Address, marketID common.Hash, initialAmount *big.Int) error {
	if initialAmount == nil || initialAmount.Sign() <= 0 {
		return fmt.Errorf("pool: create: %w", ErrInvalidAmount)
	}
	if err := e.checkCap(initialAmount, big.NewInt(0)); err != nil {
		return fmt.Errorf("pool: create: %w", err)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	yesReserve := new(big.Int).Quo(initialAmount, big.NewInt(2))
	noReserve := new(big.Int).Set(yesReserve)
	k := new(big.Int).Mul(yesReserve, noReserve)

	err := e.store.Update(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyExists(marketID))
		if err != nil {
			return err
		}
		if exists {
			return ErrPoolExists
		}

		if err := setBig(ctx, kv, keyYes(marketID), yesReserve); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyNo(marketID), noReserve); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyK(marketID), k); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keySupply(marketID), initialAmount); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyLPBalance(marketID, creator), initialAmount); err != nil {
			return err
		}
		if err := kv.Set(ctx, keyExists(marketID), []byte("1")); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, creator, e.cfg.Escrow, initialAmount)
	})
	if err != nil {
		return fmt.Errorf("pool: create %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.PoolCreated{
		MarketID:         marketID,
		InitialLiquidity: initialAmount,
		YesReserve:       yesReserve,
		NoReserve:        noReserve,
	})
	e.logger.InfoContext(ctx, "pool created",
		slog.String("market_id", marketID.Hex()),
		slog.String("initial_liquidity", initialAmount.String()),
	)
	return nil
}

// BuyShares spends amount to purchase shares of outcome. The fee is deducted
// from the input; the complementary outcome's reserve is the CPMM input side.
// Fails if fewer than minShares would be received.
func (e *Engine) BuyShares(ctx context.Context, buyer common.Address, marketID common.Hash, outcome domain.Outcome, amount, minShares *big.Int) (*big.Int, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("pool: buy: %w", ErrInvalidOutcome)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("pool: buy: %w", ErrInvalidAmount)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	var sharesOut, feeAmount *big.Int

	err := e.store.Update(ctx, func(kv domain.KV) error {
		yesReserve, noReserve, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if yesReserve.Sign() == 0 || noReserve.Sign() == 0 {
			return ErrInsufficientLiquidity
		}

		feeAmount = mulDiv(amount, big.NewInt(e.cfg.TradingFeeBps), big.NewInt(feeDenominator))
		amountAfterFee := new(big.Int).Sub(amount, feeAmount)

		reserveIn, reserveOut := noReserve, yesReserve
		if outcome == domain.OutcomeNo {
			reserveIn, reserveOut = yesReserve, noReserve
		}

		// shares_out = aaf * reserve_out / (reserve_in + aaf)
		denom := new(big.Int).Add(reserveIn, amountAfterFee)
		sharesOut = mulDiv(amountAfterFee, reserveOut, denom)

		if sharesOut.Sign() == 0 {
			return ErrAmountTooSmall
		}
		if minShares != nil && sharesOut.Cmp(minShares) < 0 {
			return fmt.Errorf("%w: would receive %s shares, minimum is %s",
				ErrSlippageExceeded, sharesOut, minShares)
		}

		newIn := new(big.Int).Add(reserveIn, amountAfterFee)
		newOut := new(big.Int).Sub(reserveOut, sharesOut)

		// k may only grow: fees accrue to the pool.
		oldK := new(big.Int).Mul(yesReserve, noReserve)
		newK := new(big.Int).Mul(newIn, newOut)
		if newK.Cmp(oldK) < 0 {
			return ErrInvariantViolation
		}

		newYes, newNo := newOut, newIn
		if outcome == domain.OutcomeNo {
			newYes, newNo = newIn, newOut
		}
		if err := setBig(ctx, kv, keyYes(marketID), newYes); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyNo(marketID), newNo); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyK(marketID), newK); err != nil {
			return err
		}

		shareKey := keyShares(marketID, buyer, outcome)
		current, err := getBigOrZero(ctx, kv, shareKey)
		if err != nil {
			return err
		}
		if err := setBig(ctx, kv, shareKey, new(big.Int).Add(current, sharesOut)); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, buyer, e.cfg.Escrow, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("pool: buy %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.SharesBought{
		Buyer:     buyer,
		MarketID:  marketID,
		Outcome:   outcome,
		SharesOut: sharesOut,
		Amount:    amount,
		FeeAmount: feeAmount,
	})
	return sharesOut, nil
}

// SellShares sells shares of outcome back to the pool. The fee is deducted
// from the payout. Fails if the net payout is below minPayout or either
// reserve would be drained to zero.
func (e *Engine) SellShares(ctx context.Context, seller common.Address, marketID common.Hash, outcome domain.Outcome, shares, minPayout *big.Int) (*big.Int, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("pool: sell: %w", ErrInvalidOutcome)
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, fmt.Errorf("pool: sell: %w", ErrInvalidAmount)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	var payoutAfterFee, feeAmount *big.Int

	err := e.store.Update(ctx, func(kv domain.KV) error {
		yesReserve, noReserve, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if yesReserve.Sign() == 0 || noReserve.Sign() == 0 {
			return ErrInsufficientLiquidity
		}

		shareKey := keyShares(marketID, seller, outcome)
		userShares, err := getBigOrZero(ctx, kv, shareKey)
		if err != nil {
			return err
		}
		if userShares.Cmp(shares) < 0 {
			return ErrInsufficientShares
		}

		// payout = shares * reserve_out / (reserve_in + shares), where the
		// sold outcome's reserve is the input side.
		reserveIn, reserveOut := yesReserve, noReserve
		if outcome == domain.OutcomeNo {
			reserveIn, reserveOut = noReserve, yesReserve
		}
		denom := new(big.Int).Add(reserveIn, shares)
		payout := mulDiv(shares, reserveOut, denom)
		if payout.Sign() == 0 {
			return ErrAmountTooSmall
		}

		feeAmount = mulDiv(payout, big.NewInt(e.cfg.TradingFeeBps), big.NewInt(feeDenominator))
		payoutAfterFee = new(big.Int).Sub(payout, feeAmount)
		if payoutAfterFee.Sign() == 0 {
			return ErrAmountTooSmall
		}
		if minPayout != nil && payoutAfterFee.Cmp(minPayout) < 0 {
			return fmt.Errorf("%w: would receive %s, minimum is %s",
				ErrSlippageExceeded, payoutAfterFee, minPayout)
		}

		newIn := new(big.Int).Add(reserveIn, shares)
		newOut := new(big.Int).Sub(reserveOut, payout)
		if newIn.Sign() == 0 || newOut.Sign() == 0 {
			return ErrInsufficientLiquidity
		}

		newYes, newNo := newIn, newOut
		if outcome == domain.OutcomeNo {
			newYes, newNo = newOut, newIn
		}
		if err := setBig(ctx, kv, keyYes(marketID), newYes); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyNo(marketID), newNo); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyK(marketID), new(big.Int).Mul(newYes, newNo)); err != nil {
			return err
		}
		if err := setBig(ctx, kv, shareKey, new(big.Int).Sub(userShares, shares)); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, e.cfg.Escrow, seller, payoutAfterFee)
	})
	if err != nil {
		return nil, fmt.Errorf("pool: sell %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.SharesSold{
		Seller:         seller,
		MarketID:       marketID,
		Outcome:        outcome,
		Shares:         shares,
		PayoutAfterFee: payoutAfterFee,
		FeeAmount:      feeAmount,
	})
	return payoutAfterFee, nil
}

// AddLiquidity deposits amount into an existing pool, splitting it at the
// current reserve ratio so the marginal price is unchanged, and mints LP
// tokens proportional to the existing supply.
func (e *Engine) AddLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("pool: add liquidity: %w", ErrInvalidAmount)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	var minted, newK *big.Int

	err := e.store.Update(ctx, func(kv domain.KV) error {
		yesReserve, noReserve, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}
		total := new(big.Int).Add(yesReserve, noReserve)
		if err := e.checkCap(amount, total); err != nil {
			return err
		}

		supply, err := getBigOrZero(ctx, kv, keySupply(marketID))
		if err != nil {
			return err
		}

		minted = lpTokensToMint(supply, total, amount)
		if minted.Sign() == 0 {
			return ErrAmountTooSmall
		}

		// Split the deposit in the current reserve ratio.
		var yesAdd *big.Int
		if total.Sign() == 0 {
			yesAdd = new(big.Int).Quo(amount, big.NewInt(2))
		} else {
			yesAdd = mulDiv(amount, yesReserve, total)
		}
		noAdd := new(big.Int).Sub(amount, yesAdd)
		if yesAdd.Sign() == 0 || noAdd.Sign() == 0 {
			return ErrAmountTooSmall
		}

		newYes := new(big.Int).Add(yesReserve, yesAdd)
		newNo := new(big.Int).Add(noReserve, noAdd)
		newK = new(big.Int).Mul(newYes, newNo)

		if err := setBig(ctx, kv, keyYes(marketID), newYes); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyNo(marketID), newNo); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyK(marketID), newK); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keySupply(marketID), new(big.Int).Add(supply, minted)); err != nil {
			return err
		}

		balKey := keyLPBalance(marketID, provider)
		bal, err := getBigOrZero(ctx, kv, balKey)
		if err != nil {
			return err
		}
		if err := setBig(ctx, kv, balKey, new(big.Int).Add(bal, minted)); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, provider, e.cfg.Escrow, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("pool: add liquidity %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.LiquidityAdded{
		Provider:       provider,
		MarketID:       marketID,
		Amount:         amount,
		LPTokensMinted: minted,
		NewK:           newK,
	})
	return minted, nil
}

// RemoveLiquidity burns lpTokens and withdraws the proportional share of each
// reserve. It refuses to drain either reserve to zero.
func (e *Engine) RemoveLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, lpTokens *big.Int) (yesAmount, noAmount *big.Int, err error) {
	if lpTokens == nil || lpTokens.Sign() <= 0 {
		return nil, nil, fmt.Errorf("pool: remove liquidity: %w", ErrInvalidAmount)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err = e.store.Update(ctx, func(kv domain.KV) error {
		yesReserve, noReserve, err := e.reserves(ctx, kv, marketID)
		if err != nil {
			return err
		}

		balKey := keyLPBalance(marketID, provider)
		bal, err := getBigOrZero(ctx, kv, balKey)
		if err != nil {
			return err
		}
		if bal.Cmp(lpTokens) < 0 {
			return ErrInsufficientLPTokens
		}

		supply, err := getBigOrZero(ctx, kv, keySupply(marketID))
		if err != nil {
			return err
		}
		if supply.Sign() == 0 {
			return ErrInsufficientLiquidity
		}

		yesAmount = mulDiv(lpTokens, yesReserve, supply)
		noAmount = mulDiv(lpTokens, noReserve, supply)
		if yesAmount.Sign() == 0 || noAmount.Sign() == 0 {
			return ErrAmountTooSmall
		}

		newYes := new(big.Int).Sub(yesReserve, yesAmount)
		newNo := new(big.Int).Sub(noReserve, noAmount)
		if newYes.Sign() == 0 || newNo.Sign() == 0 {
			return ErrInsufficientLiquidity
		}

		if err := setBig(ctx, kv, keyYes(marketID), newYes); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyNo(marketID), newNo); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyK(marketID), new(big.Int).Mul(newYes, newNo)); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keySupply(marketID), new(big.Int).Sub(supply, lpTokens)); err != nil {
			return err
		}

		newBal := new(big.Int).Sub(bal, lpTokens)
		if newBal.Sign() == 0 {
			if err := kv.Remove(ctx, balKey); err != nil {
				return err
			}
		} else if err := setBig(ctx, kv, balKey, newBal); err != nil {
			return err
		}

		withdrawal := new(big.Int).Add(yesAmount, noAmount)
		return e.ledger.Transfer(ctx, e.cfg.Escrow, provider, withdrawal)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pool: remove liquidity %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.LiquidityRemoved{
		Provider:  provider,
		MarketID:  marketID,
		LPTokens:  lpTokens,
		YesAmount: yesAmount,
		NoAmount:  noAmount,
	})
	return yesAmount, noAmount, nil
}

func (e *Engine) checkCap(amount, existing *big.Int) error {
	if e.cfg.MaxLiquidityCap == nil {
		return nil
	}
	if new(big.Int).Add(existing, amount).Cmp(e.cfg.MaxLiquidityCap) > 0 {
		return ErrLiquidityCapExceeded
	}
	return nil
}

// reserves loads both reserves, failing with ErrPoolNotFound when the pool
// was never created.
func (e *Engine) reserves(ctx context.Context, kv domain.KV, marketID common.Hash) (*big.Int, *big.Int, error) {
	exists, err := kv.Has(ctx, keyExists(marketID))
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, ErrPoolNotFound
	}
	yes, err := getBigOrZero(ctx, kv, keyYes(marketID))
	if err != nil {
		return nil, nil, err
	}
	no, err := getBigOrZero(ctx, kv, keyNo(marketID))
	if err != nil {
		return nil, nil, err
	}
	return yes, no, nil
}

// lpTokensToMint computes the LP tokens for a deposit: 1:1 for the first
// provider, proportional to supply afterwards.
func lpTokensToMint(supply, totalLiquidity, amount *big.Int) *big.Int {
	if supply.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	if totalLiquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, supply, totalLiquidity)
}

// mulDiv returns a*b/c with truncating division.
func mulDiv(a, b, c *big.Int) *big.Int {
	return new(big.Int).Quo(new(big.Int).Mul(a, b), c)
}
