package market

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

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
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	market1 = common.HexToHash("0x01")

	saltA = common.HexToHash("0xaa")
	saltB = common.HexToHash("0xbb")
	saltC = common.HexToHash("0xcc")
)

const (
	closingTime    = int64(1_000)
	resolutionTime = int64(2_000)
)

type manualClock struct{ now int64 }

func (c *manualClock) Now() time.Time { return time.Unix(c.now, 0) }

type stubConsensus struct {
	reached bool
	outcome domain.Outcome
}

func (s *stubConsensus) CheckConsensus(context.Context, common.Hash) (bool, domain.Outcome, error) {
	return s.reached, s.outcome, nil
}

type fixture struct {
	engine    *Engine
	ledger    *memory.Ledger
	clock     *manualClock
	consensus *stubConsensus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	for _, account := range []common.Address{alice, bob, carol} {
		ledger.Mint(account, big.NewInt(100_000))
	}
	clock := &manualClock{now: 100}
	consensus := &stubConsensus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(Config{Escrow: escrow}, memory.NewStateStore(), ledger, clock, consensus, nil, logger)
	return &fixture{engine: engine, ledger: ledger, clock: clock, consensus: consensus}
}

func (f *fixture) initMarket(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.InitializeMarket(context.Background(), alice, market1, closingTime, resolutionTime))
}

func (f *fixture) commitAndReveal(t *testing.T, user common.Address, outcome domain.Outcome, amount int64, salt common.Hash) {
	t.Helper()
	ctx := context.Background()
	digest := domain.CommitDigest(market1, outcome, salt)
	require.NoError(t, f.engine.CommitPrediction(ctx, user, market1, digest, big.NewInt(amount)))
	require.NoError(t, f.engine.RevealPrediction(ctx, user, market1, outcome, big.NewInt(amount), salt))
}

// resolveYes walks the market to RESOLVED with YES winning:
// alice 500 YES, bob 500 YES, carol 500 NO.
func (f *fixture) resolveYes(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.initMarket(t)
	f.commitAndReveal(t, alice, domain.OutcomeYes, 500, saltA)
	f.commitAndReveal(t, bob, domain.OutcomeYes, 500, saltB)
	f.commitAndReveal(t, carol, domain.OutcomeNo, 500, saltC)

	f.clock.now = closingTime
	require.NoError(t, f.engine.CloseMarket(ctx, market1))

	f.clock.now = resolutionTime
	f.consensus.reached = true
	f.consensus.outcome = domain.OutcomeYes
	require.NoError(t, f.engine.ResolveMarket(ctx, market1))
}

func TestInitializeMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	state, err := f.engine.State(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, state.Status)
	assert.Equal(t, closingTime, state.ClosingTime)
	assert.Zero(t, state.TotalPool.Sign())
	assert.Zero(t, state.ParticipantCount)

	err = f.engine.InitializeMarket(ctx, alice, market1, closingTime, resolutionTime)
	assert.ErrorIs(t, err, ErrMarketExists)
}

func TestInitializeMarketValidatesTimes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clock.now = 5_000

	err := f.engine.InitializeMarket(ctx, alice, market1, closingTime, resolutionTime)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	err = f.engine.InitializeMarket(ctx, alice, market1, 6_000, 5_500)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCommitPrediction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	digest := domain.CommitDigest(market1, domain.OutcomeYes, saltA)
	require.NoError(t, f.engine.CommitPrediction(ctx, alice, market1, digest, big.NewInt(500)))

	view, err := f.engine.UserPrediction(ctx, market1, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCommitted, view.Phase)
	assert.Equal(t, digest, view.CommitHash)
	assert.Equal(t, big.NewInt(500), view.Amount)

	pending, err := f.engine.PendingReveals(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	bal, err := f.ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(99_500), bal)
}

func TestCommitPredictionGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	digest := domain.CommitDigest(market1, domain.OutcomeYes, saltA)
	require.NoError(t, f.engine.CommitPrediction(ctx, alice, market1, digest, big.NewInt(500)))

	err := f.engine.CommitPrediction(ctx, alice, market1, digest, big.NewInt(500))
	assert.ErrorIs(t, err, domain.ErrDuplicateCommit)

	err = f.engine.CommitPrediction(ctx, bob, market1, digest, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	f.clock.now = closingTime
	err = f.engine.CommitPrediction(ctx, bob, market1, digest, big.NewInt(500))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestRevealPredictionRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)
	f.commitAndReveal(t, alice, domain.OutcomeYes, 500, saltA)

	view, err := f.engine.UserPrediction(ctx, market1, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRevealed, view.Phase)
	require.NotNil(t, view.Outcome)
	assert.Equal(t, domain.OutcomeYes, *view.Outcome)
	assert.False(t, view.Claimed)

	record, err := f.engine.Record(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), record.YesPool)
	assert.Zero(t, record.NoPool.Sign())
	assert.Equal(t, big.NewInt(500), record.TotalVolume)
	assert.Zero(t, record.PendingCount)
}

func TestRevealPredictionMismatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	digest := domain.CommitDigest(market1, domain.OutcomeYes, saltA)
	require.NoError(t, f.engine.CommitPrediction(ctx, alice, market1, digest, big.NewInt(500)))

	// Wrong outcome.
	err := f.engine.RevealPrediction(ctx, alice, market1, domain.OutcomeNo, big.NewInt(500), saltA)
	assert.ErrorIs(t, err, domain.ErrInvalidReveal)

	// Wrong salt.
	err = f.engine.RevealPrediction(ctx, alice, market1, domain.OutcomeYes, big.NewInt(500), saltB)
	assert.ErrorIs(t, err, domain.ErrInvalidReveal)

	// Wrong amount.
	err = f.engine.RevealPrediction(ctx, alice, market1, domain.OutcomeYes, big.NewInt(400), saltA)
	assert.ErrorIs(t, err, domain.ErrInvalidReveal)

	// No commitment at all.
	err = f.engine.RevealPrediction(ctx, bob, market1, domain.OutcomeYes, big.NewInt(500), saltA)
	assert.ErrorIs(t, err, domain.ErrNoPrediction)

	// The failed attempts must not consume the commitment.
	require.NoError(t, f.engine.RevealPrediction(ctx, alice, market1, domain.OutcomeYes, big.NewInt(500), saltA))

	err = f.engine.RevealPrediction(ctx, alice, market1, domain.OutcomeYes, big.NewInt(500), saltA)
	assert.ErrorIs(t, err, domain.ErrDuplicateReveal)
}

func TestCloseMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	err := f.engine.CloseMarket(ctx, market1)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)

	f.clock.now = closingTime
	require.NoError(t, f.engine.CloseMarket(ctx, market1))

	state, err := f.engine.State(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, state.Status)

	err = f.engine.CloseMarket(ctx, market1)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestResolveMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	record, err := f.engine.Record(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, record.Status)
	require.NotNil(t, record.WinningOutcome)
	assert.Equal(t, domain.OutcomeYes, *record.WinningOutcome)
	assert.Equal(t, big.NewInt(1_000), record.WinnerShares)
	assert.Equal(t, big.NewInt(500), record.LoserShares)
}

func TestResolveMarketRequiresConsensus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	f.clock.now = closingTime
	require.NoError(t, f.engine.CloseMarket(ctx, market1))

	f.clock.now = resolutionTime
	err := f.engine.ResolveMarket(ctx, market1)
	assert.ErrorIs(t, err, domain.ErrNotResolved)
}

func TestResolveMarketRequiresResolutionTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	f.clock.now = closingTime
	require.NoError(t, f.engine.CloseMarket(ctx, market1))

	f.consensus.reached = true
	f.consensus.outcome = domain.OutcomeYes
	err := f.engine.ResolveMarket(ctx, market1)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestClaimWinnings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	// gross = 500 * 1500 / 1000 = 750, fee = 75, net = 675
	payout, err := f.engine.ClaimWinnings(ctx, alice, market1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(675), payout)

	bal, err := f.ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100_175), bal)
}

func TestClaimWinningsIdempotenceGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	_, err := f.engine.ClaimWinnings(ctx, alice, market1)
	require.NoError(t, err)

	_, err = f.engine.ClaimWinnings(ctx, alice, market1)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	bal, err := f.ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100_175), bal)
}

func TestClaimWinningsGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	_, err := f.engine.ClaimWinnings(ctx, carol, market1)
	assert.ErrorIs(t, err, domain.ErrNotWinner)

	_, err = f.engine.ClaimWinnings(ctx, common.HexToAddress("0xdd"), market1)
	assert.ErrorIs(t, err, domain.ErrNoPrediction)
}

func TestClaimWinningsRequiresResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)
	f.commitAndReveal(t, alice, domain.OutcomeYes, 500, saltA)

	_, err := f.engine.ClaimWinnings(ctx, alice, market1)
	assert.ErrorIs(t, err, domain.ErrNotResolved)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)
	f.commitAndReveal(t, alice, domain.OutcomeYes, 800, saltA)
	f.commitAndReveal(t, bob, domain.OutcomeYes, 200, saltB)
	f.commitAndReveal(t, carol, domain.OutcomeNo, 500, saltC)

	f.clock.now = closingTime
	require.NoError(t, f.engine.CloseMarket(ctx, market1))
	f.clock.now = resolutionTime
	f.consensus.reached = true
	f.consensus.outcome = domain.OutcomeYes
	require.NoError(t, f.engine.ResolveMarket(ctx, market1))

	_, err := f.engine.ClaimWinnings(ctx, bob, market1)
	require.NoError(t, err)
	_, err = f.engine.ClaimWinnings(ctx, alice, market1)
	require.NoError(t, err)

	entries, err := f.engine.Leaderboard(ctx, market1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, alice, entries[0].User)
	assert.Equal(t, bob, entries[1].User)
	assert.Greater(t, entries[0].NetPayout.Cmp(entries[1].NetPayout), 0)
}

func TestDisputeMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	require.NoError(t, f.engine.DisputeMarket(ctx, carol, market1, "oracle collusion"))

	state, err := f.engine.State(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusDisputed, state.Status)

	dispute, err := f.engine.Dispute(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, carol, dispute.User)
	assert.Equal(t, big.NewInt(1_000), dispute.Stake)

	// A disputed market blocks claims.
	_, err = f.engine.ClaimWinnings(ctx, alice, market1)
	assert.ErrorIs(t, err, domain.ErrNotResolved)
}

func TestDisputeMarketWindowElapsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	f.clock.now = resolutionTime + 7*24*3600 + 1
	err := f.engine.DisputeMarket(ctx, carol, market1, "too late")
	assert.ErrorIs(t, err, ErrDisputeWindow)
}

func TestDisputeMarketWindowBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	// The instant the window elapses is already too late; this is also the
	// first moment finalization becomes possible, so the two never overlap.
	f.clock.now = resolutionTime + 7*24*3600
	err := f.engine.DisputeMarket(ctx, carol, market1, "boundary")
	assert.ErrorIs(t, err, ErrDisputeWindow)

	f.clock.now = resolutionTime + 7*24*3600 - 1
	require.NoError(t, f.engine.DisputeMarket(ctx, carol, market1, "in time"))
}

func TestCancelMarketRefundsParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	// alice revealed, bob still committed.
	f.commitAndReveal(t, alice, domain.OutcomeYes, 500, saltA)
	digest := domain.CommitDigest(market1, domain.OutcomeNo, saltB)
	require.NoError(t, f.engine.CommitPrediction(ctx, bob, market1, digest, big.NewInt(300)))

	require.NoError(t, f.engine.CancelMarket(ctx, alice, market1))

	state, err := f.engine.State(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusCancelled, state.Status)
	assert.Zero(t, state.ParticipantCount)

	for _, account := range []common.Address{alice, bob} {
		bal, err := f.ledger.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(100_000), bal, "account %s not made whole", account.Hex())
	}
}

func TestCancelMarketUnderfundedEscrowAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	f.commitAndReveal(t, alice, domain.OutcomeYes, 500, saltA)
	digest := domain.CommitDigest(market1, domain.OutcomeNo, saltB)
	require.NoError(t, f.engine.CommitPrediction(ctx, bob, market1, digest, big.NewInt(500)))

	// Drain part of the escrow so the refunds cannot all be covered.
	require.NoError(t, f.ledger.Transfer(ctx, escrow, carol, big.NewInt(300)))

	err := f.engine.CancelMarket(ctx, alice, market1)
	require.Error(t, err)

	// Nothing moved and nothing was staged: no participant was paid and the
	// market is still open with both stakes intact.
	for _, account := range []common.Address{alice, bob} {
		bal, err := f.ledger.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(99_500), bal, "account %s", account.Hex())
	}
	state, err := f.engine.State(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, state.Status)
	assert.Equal(t, 2, state.ParticipantCount)

	// After the escrow is made whole a retry refunds everyone exactly once.
	f.ledger.Mint(escrow, big.NewInt(300))
	require.NoError(t, f.engine.CancelMarket(ctx, alice, market1))
	for _, account := range []common.Address{alice, bob} {
		bal, err := f.ledger.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(100_000), bal, "account %s", account.Hex())
	}
}

func TestCancelMarketAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initMarket(t)

	err := f.engine.CancelMarket(ctx, bob, market1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCancelMarketOnlyBeforeResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolveYes(t)

	err := f.engine.CancelMarket(ctx, alice, market1)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestCommitDigestIsPositionDependent(t *testing.T) {
	d1 := domain.CommitDigest(market1, domain.OutcomeYes, saltA)
	d2 := domain.CommitDigest(market1, domain.OutcomeNo, saltA)
	d3 := domain.CommitDigest(market1, domain.OutcomeYes, saltB)
	d4 := domain.CommitDigest(common.HexToHash("0x02"), domain.OutcomeYes, saltA)

	assert.NotEqual(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.NotEqual(t, d1, d4)
}
