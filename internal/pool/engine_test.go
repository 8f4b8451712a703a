package pool

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
)

var (
	escrow  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	market1 = common.HexToHash("0x01")
)

func newTestEngine(t *testing.T) (*Engine, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger()
	ledger.Mint(alice, big.NewInt(10_000_000))
	ledger.Mint(bob, big.NewInt(10_000_000))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(Config{Escrow: escrow}, memory.NewStateStore(), ledger, nil, logger)
	return engine, ledger
}

func TestCreatePool(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t)

	err := engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000))
	require.NoError(t, err)

	state, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500_000), state.YesReserve)
	assert.Equal(t, big.NewInt(500_000), state.NoReserve)
	assert.Equal(t, big.NewInt(1_000_000), state.TotalLiquidity)
	assert.Equal(t, int64(5000), state.YesOdds)
	assert.Equal(t, int64(5000), state.NoOdds)

	k, err := engine.PoolK(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250_000_000_000), k)

	lp, err := engine.LPBalance(ctx, market1, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), lp)

	bal, err := ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_000_000), bal)
	bal, err = ledger.Balance(ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), bal)
}

func TestCreatePoolAlreadyExists(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))
	err := engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrPoolExists)
}

func TestCreatePoolRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	assert.ErrorIs(t, engine.CreatePool(ctx, alice, market1, big.NewInt(0)), ErrInvalidAmount)
	assert.ErrorIs(t, engine.CreatePool(ctx, alice, market1, big.NewInt(-5)), ErrInvalidAmount)
	assert.ErrorIs(t, engine.CreatePool(ctx, alice, market1, nil), ErrInvalidAmount)
}

func TestBuyShares(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	// 100,000 in: fee 200 (20 bps), 99,800 effective.
	// shares = 99,800 * 500,000 / (500,000 + 99,800) = 83,194
	shares, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(100_000), nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(83_194), shares)

	state, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(416_806), state.YesReserve)
	assert.Equal(t, big.NewInt(599_800), state.NoReserve)

	held, err := engine.ShareBalance(ctx, market1, bob, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(83_194), held)

	bal, err := ledger.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_900_000), bal)
}

func TestBuySharesKNeverDecreases(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	prevK, err := engine.PoolK(ctx, market1)
	require.NoError(t, err)

	outcomes := []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeYes, domain.OutcomeNo}
	for _, outcome := range outcomes {
		_, err := engine.BuyShares(ctx, bob, market1, outcome, big.NewInt(50_000), nil)
		require.NoError(t, err)

		k, err := engine.PoolK(ctx, market1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, k.Cmp(prevK), 0, "k decreased after trade")
		prevK = k
	}
}

func TestBuySharesSlippage(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	before, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)

	_, err = engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(100_000), big.NewInt(90_000))
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	// The aborted trade must leave pool and ledger untouched.
	after, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, before.YesReserve, after.YesReserve)
	assert.Equal(t, before.NoReserve, after.NoReserve)

	bal, err := ledger.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10_000_000), bal)
}

func TestBuySharesValidation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrPoolNotFound)

	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	_, err = engine.BuyShares(ctx, bob, market1, domain.Outcome(2), big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	_, err = engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(1), nil)
	assert.ErrorIs(t, err, ErrAmountTooSmall)
}

func TestSellShares(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	shares, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(100_000), nil)
	require.NoError(t, err)

	// payout = 83,194 * 599,800 / (416,806 + 83,194) = 99,799
	// fee = 199, net = 99,600
	payout, err := engine.SellShares(ctx, bob, market1, domain.OutcomeYes, shares, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(99_600), payout)

	held, err := engine.ShareBalance(ctx, market1, bob, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Zero(t, held.Sign())

	// Round trip loses fees twice, never gains.
	bal, err := ledger.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_999_600), bal)

	k, err := engine.PoolK(ctx, market1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, k.Cmp(big.NewInt(250_000_000_000)), 0)
}

func TestSellSharesInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	_, err := engine.SellShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(10), nil)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestSellSharesSlippage(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	shares, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(100_000), nil)
	require.NoError(t, err)

	_, err = engine.SellShares(ctx, bob, market1, domain.OutcomeYes, shares, big.NewInt(200_000))
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestAddLiquidity(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	minted, err := engine.AddLiquidity(ctx, bob, market1, big.NewInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500_000), minted)

	state, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(750_000), state.YesReserve)
	assert.Equal(t, big.NewInt(750_000), state.NoReserve)
	assert.Equal(t, int64(5000), state.YesOdds)

	k, err := engine.PoolK(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(562_500_000_000), k)
}

func TestAddLiquidityPreservesOdds(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	// Skew the pool first, then check deposits do not move the price.
	_, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(200_000), nil)
	require.NoError(t, err)

	yesBefore, noBefore, err := engine.Odds(ctx, market1)
	require.NoError(t, err)

	_, err = engine.AddLiquidity(ctx, bob, market1, big.NewInt(300_000))
	require.NoError(t, err)

	yesAfter, noAfter, err := engine.Odds(ctx, market1)
	require.NoError(t, err)
	assert.InDelta(t, yesBefore, yesAfter, 1)
	assert.InDelta(t, noBefore, noAfter, 1)
}

func TestRemoveLiquidity(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	yesOut, noOut, err := engine.RemoveLiquidity(ctx, alice, market1, big.NewInt(400_000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200_000), yesOut)
	assert.Equal(t, big.NewInt(200_000), noOut)

	state, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300_000), state.YesReserve)
	assert.Equal(t, big.NewInt(300_000), state.NoReserve)

	lp, err := engine.LPBalance(ctx, market1, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(600_000), lp)

	bal, err := ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_400_000), bal)
}

func TestRemoveLiquidityCannotDrainPool(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	_, _, err := engine.RemoveLiquidity(ctx, alice, market1, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestRemoveLiquidityInsufficientTokens(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	_, _, err := engine.RemoveLiquidity(ctx, bob, market1, big.NewInt(100))
	assert.ErrorIs(t, err, ErrInsufficientLPTokens)
}

func TestMaxLiquidityCap(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	ledger.Mint(alice, big.NewInt(10_000_000))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(Config{Escrow: escrow, MaxLiquidityCap: big.NewInt(1_200_000)},
		memory.NewStateStore(), ledger, nil, logger)

	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	_, err := engine.AddLiquidity(ctx, alice, market1, big.NewInt(300_000))
	assert.ErrorIs(t, err, ErrLiquidityCapExceeded)

	_, err = engine.AddLiquidity(ctx, alice, market1, big.NewInt(200_000))
	assert.NoError(t, err)
}

func TestOddsSumToTenThousand(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_001)))

	amounts := []int64{333, 99_999, 250_000}
	for _, amt := range amounts {
		_, err := engine.BuyShares(ctx, bob, market1, domain.OutcomeYes, big.NewInt(amt), nil)
		require.NoError(t, err)

		yes, no, err := engine.Odds(ctx, market1)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), yes+no, "odds must sum to 10000 after buying %d", amt)
	}
}

func TestOddsEdgeCases(t *testing.T) {
	yes, no := impliedOdds(big.NewInt(0), big.NewInt(0))
	assert.Equal(t, int64(5000), yes)
	assert.Equal(t, int64(5000), no)

	yes, no = impliedOdds(big.NewInt(0), big.NewInt(1000))
	assert.Equal(t, int64(10000), yes)
	assert.Equal(t, int64(0), no)

	yes, no = impliedOdds(big.NewInt(1000), big.NewInt(0))
	assert.Equal(t, int64(0), yes)
	assert.Equal(t, int64(10000), no)
}

func TestOddsMissingPoolDefaultsEven(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	yes, no, err := engine.Odds(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), yes)
	assert.Equal(t, int64(5000), no)
}

func TestPoolStateMissingPoolDefaultsEmpty(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	state, err := engine.PoolState(ctx, market1)
	require.NoError(t, err)
	assert.Zero(t, state.YesReserve.Sign())
	assert.Zero(t, state.NoReserve.Sign())
	assert.Zero(t, state.TotalLiquidity.Sign())
	assert.Equal(t, int64(5000), state.YesOdds)
	assert.Equal(t, int64(5000), state.NoOdds)
}

func TestCurrentPrices(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	// Missing pool quotes zero on both sides.
	prices, err := engine.CurrentPrices(ctx, market1)
	require.NoError(t, err)
	assert.Zero(t, prices.Yes)
	assert.Zero(t, prices.No)

	require.NoError(t, engine.CreatePool(ctx, alice, market1, big.NewInt(1_000_000)))

	// Balanced pool: 5000 bps marked up by the 20 bps fee.
	prices, err = engine.CurrentPrices(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, int64(5010), prices.Yes)
	assert.Equal(t, int64(5010), prices.No)
}

func TestCurrentPricesTruncateBeforeMarkup(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	store := memory.NewStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(Config{Escrow: escrow}, store, ledger, nil, logger)

	// Seed a 1:2 pool so both base prices truncate: 6666 and 3333 bps.
	err := store.Update(ctx, func(kv domain.KV) error {
		if err := kv.Set(ctx, keyExists(market1), []byte("1")); err != nil {
			return err
		}
		if err := setBig(ctx, kv, keyYes(market1), big.NewInt(1)); err != nil {
			return err
		}
		return setBig(ctx, kv, keyNo(market1), big.NewInt(2))
	})
	require.NoError(t, err)

	// The markup applies to the truncated base prices, not the odds
	// rounded up to a 10000 total. Renormalizing first would quote
	// 6680 on the yes side instead.
	prices, err := engine.CurrentPrices(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, int64(6679), prices.Yes)
	assert.Equal(t, int64(3339), prices.No)
}
