package oracle

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
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	escrow     = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	oracle1    = common.HexToAddress("0x0000000000000000000000000000000000000011")
	oracle2    = common.HexToAddress("0x0000000000000000000000000000000000000022")
	oracle3    = common.HexToAddress("0x0000000000000000000000000000000000000033")
	challenger = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	market1    = common.HexToHash("0x01")
	market2    = common.HexToHash("0x02")
	market3    = common.HexToHash("0x03")
)

const resolutionTime = int64(1_000)

type manualClock struct{ now int64 }

func (c *manualClock) Now() time.Time { return time.Unix(c.now, 0) }

type recordingResolver struct {
	resolved []common.Hash
}

func (r *recordingResolver) ResolveMarket(_ context.Context, marketID common.Hash) error {
	r.resolved = append(r.resolved, marketID)
	return nil
}

type fixture struct {
	manager  *Manager
	ledger   *memory.Ledger
	clock    *manualClock
	resolver *recordingResolver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cfg.Admin = admin
	cfg.Escrow = escrow

	ledger := memory.NewLedger()
	for _, account := range []common.Address{oracle1, oracle2, oracle3, challenger} {
		ledger.Mint(account, big.NewInt(100_000))
	}
	clock := &manualClock{now: 100}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := New(cfg, memory.NewStateStore(), ledger, clock, nil, logger)

	resolver := &recordingResolver{}
	manager.SetResolver(resolver)
	return &fixture{manager: manager, ledger: ledger, clock: clock, resolver: resolver}
}

func (f *fixture) registerAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle1, "alpha"))
	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle2, "beta"))
	require.NoError(t, f.manager.RegisterMarket(ctx, admin, market1, resolutionTime))
}

func TestRegisterOracle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle1, "alpha"))

	record, err := f.manager.Oracle(ctx, oracle1)
	require.NoError(t, err)
	assert.True(t, record.Registered)
	assert.Equal(t, 100, record.Accuracy)
	assert.Equal(t, big.NewInt(10_000), record.Stake)

	// Registration stake is ten times the minimum challenge stake.
	bal, err := f.ledger.Balance(ctx, oracle1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(90_000), bal)

	count, err := f.manager.OracleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterOracleAdminOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	err := f.manager.RegisterOracle(ctx, oracle1, oracle1, "alpha")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterOracleDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle1, "alpha"))
	err := f.manager.RegisterOracle(ctx, admin, oracle1, "alpha")
	assert.ErrorIs(t, err, ErrOracleExists)
}

func TestRegisterOracleLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxOracles: 2})

	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle1, "alpha"))
	require.NoError(t, f.manager.RegisterOracle(ctx, admin, oracle2, "beta"))
	err := f.manager.RegisterOracle(ctx, admin, oracle3, "gamma")
	assert.ErrorIs(t, err, ErrOracleLimitReached)
}

func TestRegisterMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	err := f.manager.RegisterMarket(ctx, oracle1, market1, resolutionTime)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, f.manager.RegisterMarket(ctx, admin, market1, resolutionTime))
	err = f.manager.RegisterMarket(ctx, admin, market1, resolutionTime)
	assert.ErrorIs(t, err, ErrMarketExists)

	rt, err := f.manager.ResolutionTime(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, resolutionTime, rt)

	_, err = f.manager.ResolutionTime(ctx, market2)
	assert.ErrorIs(t, err, ErrMarketNotRegistered)
}

func TestSubmitAttestation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)

	// Attestation is gated on the market's resolution time.
	err := f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes)
	assert.ErrorIs(t, err, ErrAttestationEarly)

	f.clock.now = resolutionTime
	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))

	yes, no, err := f.manager.Votes(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, 1, yes)
	assert.Equal(t, 0, no)

	voters, err := f.manager.Voters(ctx, market1)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{oracle1}, voters)

	err = f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes)
	assert.ErrorIs(t, err, ErrDuplicateVote)
}

func TestSubmitAttestationGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)
	f.clock.now = resolutionTime

	err := f.manager.SubmitAttestation(ctx, oracle3, market1, domain.OutcomeYes)
	assert.ErrorIs(t, err, ErrOracleNotRegistered)

	err = f.manager.SubmitAttestation(ctx, oracle1, market1, domain.Outcome(7))
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	err = f.manager.SubmitAttestation(ctx, oracle1, market2, domain.OutcomeYes)
	assert.ErrorIs(t, err, ErrMarketNotRegistered)
}

func TestCheckConsensusMajority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConsensusThreshold: 2})
	f.registerAll(t)
	f.clock.now = resolutionTime

	// Two matching votes at threshold 2 decide the market.
	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))

	reached, _, err := f.manager.CheckConsensus(ctx, market1)
	require.NoError(t, err)
	assert.False(t, reached)

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle2, market1, domain.OutcomeYes))

	reached, outcome, err := f.manager.CheckConsensus(ctx, market1)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, domain.OutcomeYes, outcome)
}

func TestCheckConsensusTieNotReached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConsensusThreshold: 1})
	f.registerAll(t)
	f.clock.now = resolutionTime

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle2, market1, domain.OutcomeNo))

	// Both sides meet the threshold with equal counts: never decided.
	reached, _, err := f.manager.CheckConsensus(ctx, market1)
	require.NoError(t, err)
	assert.False(t, reached)
}

func TestChallengeAttestation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)
	f.clock.now = resolutionTime

	err := f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "no vote yet")
	assert.ErrorIs(t, err, ErrNoAttestation)

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "bad data source"))

	challenge, err := f.manager.ChallengeOf(ctx, market1, oracle1)
	require.NoError(t, err)
	assert.Equal(t, challenger, challenge.Challenger)
	assert.Equal(t, big.NewInt(1_000), challenge.Stake)
	assert.False(t, challenge.Resolved)

	bal, err := f.ledger.Balance(ctx, challenger)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(99_000), bal)

	err = f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "again")
	assert.ErrorIs(t, err, ErrDuplicateChallenge)
}

func TestResolveChallengeValid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)
	f.clock.now = resolutionTime

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "dishonest"))

	require.NoError(t, f.manager.ResolveChallenge(ctx, admin, oracle1, market1, true))

	record, err := f.manager.Oracle(ctx, oracle1)
	require.NoError(t, err)
	assert.Equal(t, 80, record.Accuracy)
	assert.Equal(t, big.NewInt(5_000), record.Stake)
	assert.True(t, record.Registered)

	// Challenger gets the slashed half plus their stake back, and the
	// payout is tallied against their reward balance.
	bal, err := f.ledger.Balance(ctx, challenger)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(105_000), bal)

	rewards, err := f.manager.RewardBalance(ctx, challenger)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6_000), rewards)

	err = f.manager.ResolveChallenge(ctx, admin, oracle1, market1, true)
	assert.ErrorIs(t, err, ErrChallengeResolved)
}

func TestResolveChallengeInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)
	f.clock.now = resolutionTime

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "frivolous"))

	require.NoError(t, f.manager.ResolveChallenge(ctx, admin, oracle1, market1, false))

	record, err := f.manager.Oracle(ctx, oracle1)
	require.NoError(t, err)
	assert.Equal(t, 100, record.Accuracy, "accuracy caps at 100")
	assert.Equal(t, big.NewInt(11_000), record.Stake, "forfeited stake joins the oracle's")

	bal, err := f.ledger.Balance(ctx, challenger)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(99_000), bal, "challenger stake forfeited")

	rewards, err := f.manager.RewardBalance(ctx, oracle1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000), rewards, "forfeited stake tallied as oracle reward")
}

func TestResolveChallengeAdminOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	err := f.manager.ResolveChallenge(ctx, challenger, oracle1, market1, true)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.manager.ResolveChallenge(ctx, admin, oracle1, market1, true)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRepeatedValidChallengesDeregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.registerAll(t)
	require.NoError(t, f.manager.RegisterMarket(ctx, admin, market2, resolutionTime))
	require.NoError(t, f.manager.RegisterMarket(ctx, admin, market3, resolutionTime))
	f.clock.now = resolutionTime

	// Three lost challenges: accuracy 100 -> 80 -> 60 -> 40, below the
	// cutoff of 50 on the third.
	for _, id := range []common.Hash{market1, market2, market3} {
		require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, id, domain.OutcomeYes))
		require.NoError(t, f.manager.ChallengeAttestation(ctx, challenger, oracle1, id, "dishonest"))
		require.NoError(t, f.manager.ResolveChallenge(ctx, admin, oracle1, id, true))
	}

	record, err := f.manager.Oracle(ctx, oracle1)
	require.NoError(t, err)
	assert.Equal(t, 40, record.Accuracy)
	assert.False(t, record.Registered)
	assert.Equal(t, big.NewInt(1_250), record.Stake)

	count, err := f.manager.OracleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A deregistered oracle can no longer vote.
	require.NoError(t, f.manager.RegisterMarket(ctx, admin, common.HexToHash("0x04"), resolutionTime))
	err = f.manager.SubmitAttestation(ctx, oracle1, common.HexToHash("0x04"), domain.OutcomeYes)
	assert.ErrorIs(t, err, ErrOracleNotRegistered)
}

func TestFinalizeResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConsensusThreshold: 2})
	f.registerAll(t)
	f.clock.now = resolutionTime

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle2, market1, domain.OutcomeYes))

	// The challenge period must elapse first.
	err := f.manager.FinalizeResolution(ctx, market1)
	assert.ErrorIs(t, err, ErrFinalizeEarly)

	f.clock.now = resolutionTime + 7*24*3600
	require.NoError(t, f.manager.FinalizeResolution(ctx, market1))

	finalized, outcome, err := f.manager.Finalized(ctx, market1)
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.Equal(t, domain.OutcomeYes, outcome)
	assert.Equal(t, []common.Hash{market1}, f.resolver.resolved)

	err = f.manager.FinalizeResolution(ctx, market1)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestFinalizeResolutionRequiresConsensus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConsensusThreshold: 2})
	f.registerAll(t)
	f.clock.now = resolutionTime + 7*24*3600

	err := f.manager.FinalizeResolution(ctx, market1)
	assert.ErrorIs(t, err, ErrConsensusNotReached)
}

func TestFinalizeResolutionBlockedByChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConsensusThreshold: 2})
	f.registerAll(t)
	f.clock.now = resolutionTime

	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle1, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.SubmitAttestation(ctx, oracle2, market1, domain.OutcomeYes))
	require.NoError(t, f.manager.ChallengeAttestation(ctx, challenger, oracle1, market1, "dishonest"))

	f.clock.now = resolutionTime + 7*24*3600
	err := f.manager.FinalizeResolution(ctx, market1)
	assert.ErrorIs(t, err, ErrActiveChallenge)

	// Arbitration clears the flag; finalization can proceed.
	require.NoError(t, f.manager.ResolveChallenge(ctx, admin, oracle1, market1, false))
	require.NoError(t, f.manager.FinalizeResolution(ctx, market1))
}
