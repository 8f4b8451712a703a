// Package oracle implements the attestation and consensus manager: an
// admin-curated registry of staked attestors, per-market vote tallies, a
// threshold consensus rule, and economic challenge-and-slash arbitration.
package oracle

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

var (
	ErrOracleExists        = errors.New("oracle already registered")
	ErrOracleNotRegistered = errors.New("oracle not registered")
	ErrOracleLimitReached  = errors.New("oracle limit reached")
	ErrMarketExists        = errors.New("market already registered")
	ErrMarketNotRegistered = errors.New("market not registered")
	ErrAttestationEarly    = errors.New("market resolution time not reached")
	ErrDuplicateVote       = errors.New("oracle already attested for this market")
	ErrInvalidOutcome      = errors.New("outcome must be 0 (NO) or 1 (YES)")
	ErrNoAttestation       = errors.New("no attestation to challenge")
	ErrDuplicateChallenge  = errors.New("attestation already challenged")
	ErrNoChallenge         = errors.New("no challenge found")
	ErrChallengeResolved   = errors.New("challenge already resolved")
	ErrActiveChallenge     = errors.New("market has an active challenge")
	ErrConsensusNotReached = errors.New("consensus not reached")
	ErrAlreadyFinalized    = errors.New("resolution already finalized")
	ErrFinalizeEarly       = errors.New("challenge period still open")
)

// Accuracy adjustments applied by challenge resolution.
const (
	accuracyPenalty   = 20
	accuracyReward    = 5
	accuracyFloor     = 0
	accuracyCap       = 100
	deregisterCutoff  = 50
	slashNumerator    = 1 // slash 1/2 of remaining stake
	slashDenominator  = 2
	stakeMultiplier   = 10
	defaultMaxOracles = 10
)

// Config holds the per-instance consensus manager parameters.
type Config struct {
	// Admin is the only account allowed to register oracles and markets
	// and to arbitrate challenges.
	Admin common.Address
	// Escrow holds oracle and challenger stakes.
	Escrow common.Address
	// ConsensusThreshold is the minimum matching votes for a decision.
	ConsensusThreshold int
	// MaxOracles caps the registry. Zero defaults to 10.
	MaxOracles int
	// MinChallengeStake is the stake escrowed per challenge; the oracle
	// registration stake is ten times this. Nil defaults to 1000.
	MinChallengeStake *big.Int
	// ChallengePeriodSecs must elapse past a market's resolution time
	// before finalization. Zero defaults to 7 days.
	ChallengePeriodSecs int64
}

func (c *Config) applyDefaults() {
	if c.MaxOracles == 0 {
		c.MaxOracles = defaultMaxOracles
	}
	if c.MinChallengeStake == nil {
		c.MinChallengeStake = big.NewInt(1000)
	}
	if c.ChallengePeriodSecs == 0 {
		c.ChallengePeriodSecs = 7 * 24 * 3600
	}
	if c.ConsensusThreshold == 0 {
		c.ConsensusThreshold = 2
	}
}

// Manager owns the oracle registry, vote tallies, and challenge arbitration.
type Manager struct {
	cfg      Config
	store    domain.StateStore
	ledger   domain.AssetLedger
	clock    domain.Clock
	events   domain.EventPublisher
	logger   *slog.Logger
	locks    *keylock.KeyLock
	resolver domain.MarketResolver
}

func New(cfg Config, store domain.StateStore, ledger domain.AssetLedger, clock domain.Clock, events domain.EventPublisher, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		clock:  clock,
		events: events,
		logger: logger.With(slog.String("component", "oracle")),
		locks:  keylock.New(),
	}
}

var _ domain.ConsensusProvider = (*Manager)(nil)

// SetResolver wires the market state machine's resolve entry point.
// FinalizeResolution invokes it once per market. Must be called before any
// FinalizeResolution; the two engines reference each other so the hookup
// happens after both are constructed.
func (m *Manager) SetResolver(resolver domain.MarketResolver) { m.resolver = resolver }

// marketMeta is the per-market consensus bookkeeping record.
type marketMeta struct {
	ResolutionTime int64           `json:"resolution_time"`
	YesVotes       int             `json:"yes_votes"`
	NoVotes        int             `json:"no_votes"`
	Challenged     bool            `json:"challenged"`
	Finalized      bool            `json:"finalized"`
	FinalOutcome   *domain.Outcome `json:"final_outcome,omitempty"`
}

// ── Storage keys ──

func keyOracle(oracle common.Address) string { return "oracle:record:" + oracle.Hex() }
func keyMarket(id common.Hash) string        { return "oracle:market:" + id.Hex() }
func keyVoters(id common.Hash) string        { return "oracle:voters:" + id.Hex() }

const keyCount = "oracle:count"

func keyAttestation(id common.Hash, oracle common.Address) string {
	return "oracle:attestation:" + id.Hex() + ":" + oracle.Hex()
}

func keyChallenge(id common.Hash, oracle common.Address) string {
	return "oracle:challenge:" + id.Hex() + ":" + oracle.Hex()
}

func keyReward(account common.Address) string { return "oracle:reward:" + account.Hex() }

// accrueReward bumps an account's lifetime arbitration winnings tally.
func accrueReward(ctx context.Context, kv domain.KV, account common.Address, amount *big.Int) error {
	total, err := domain.GetBigOrZero(ctx, kv, keyReward(account))
	if err != nil {
		return err
	}
	return domain.PutBig(ctx, kv, keyReward(account), new(big.Int).Add(total, amount))
}

// RegisterOracle admits a new attestor. Admin only, capped at the configured
// registry size; the oracle escrows ten times the minimum challenge stake
// and starts at accuracy 100.
func (m *Manager) RegisterOracle(ctx context.Context, caller, oracle common.Address, name string) error {
	if caller != m.cfg.Admin {
		return fmt.Errorf("oracle: register: %w", domain.ErrUnauthorized)
	}

	now := m.clock.Now().Unix()
	stake := new(big.Int).Mul(m.cfg.MinChallengeStake, big.NewInt(stakeMultiplier))

	err := m.store.Update(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyOracle(oracle))
		if err != nil {
			return err
		}
		if exists {
			var record domain.OracleRecord
			if err := domain.GetJSON(ctx, kv, keyOracle(oracle), &record); err != nil {
				return err
			}
			if record.Registered {
				return ErrOracleExists
			}
		}

		count, err := domain.GetBigOrZero(ctx, kv, keyCount)
		if err != nil {
			return err
		}
		if count.Int64() >= int64(m.cfg.MaxOracles) {
			return ErrOracleLimitReached
		}

		record := domain.OracleRecord{
			Oracle:       oracle,
			Name:         name,
			Registered:   true,
			Accuracy:     accuracyCap,
			Stake:        stake,
			RegisteredAt: now,
		}
		if err := domain.PutJSON(ctx, kv, keyOracle(oracle), record); err != nil {
			return err
		}
		if err := domain.PutBig(ctx, kv, keyCount, new(big.Int).Add(count, big.NewInt(1))); err != nil {
			return err
		}

		return m.ledger.Transfer(ctx, oracle, m.cfg.Escrow, stake)
	})
	if err != nil {
		return fmt.Errorf("oracle: register %s: %w", oracle.Hex(), err)
	}

	m.events.Publish(ctx, domain.OracleRegistered{Oracle: oracle, Name: name, Timestamp: now})
	m.logger.InfoContext(ctx, "oracle registered",
		slog.String("oracle", oracle.Hex()),
		slog.String("name", name),
	)
	return nil
}

// RegisterMarket opens a market for attestation. Admin only; must precede
// any vote for that market.
func (m *Manager) RegisterMarket(ctx context.Context, caller common.Address, marketID common.Hash, resolutionTime int64) error {
	if caller != m.cfg.Admin {
		return fmt.Errorf("oracle: register market: %w", domain.ErrUnauthorized)
	}

	err := m.store.Update(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyMarket(marketID))
		if err != nil {
			return err
		}
		if exists {
			return ErrMarketExists
		}
		return domain.PutJSON(ctx, kv, keyMarket(marketID), marketMeta{ResolutionTime: resolutionTime})
	})
	if err != nil {
		return fmt.Errorf("oracle: register market %s: %w", marketID.Hex(), err)
	}

	m.events.Publish(ctx, domain.MarketRegistered{MarketID: marketID, ResolutionTime: resolutionTime})
	return nil
}

// SubmitAttestation records one oracle's vote on a market outcome. One vote
// per oracle per market, only after the market's resolution time.
func (m *Manager) SubmitAttestation(ctx context.Context, oracle common.Address, marketID common.Hash, outcome domain.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("oracle: attest: %w", ErrInvalidOutcome)
	}

	now := m.clock.Now().Unix()
	unlock := m.locks.Lock(marketID.Hex())
	defer unlock()

	err := m.store.Update(ctx, func(kv domain.KV) error {
		record, err := m.loadOracle(ctx, kv, oracle)
		if err != nil {
			return err
		}
		if !record.Registered {
			return ErrOracleNotRegistered
		}

		meta, err := m.loadMarket(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if now < meta.ResolutionTime {
			return ErrAttestationEarly
		}

		voted, err := kv.Has(ctx, keyAttestation(marketID, oracle))
		if err != nil {
			return err
		}
		if voted {
			return ErrDuplicateVote
		}

		attestation := domain.Attestation{Oracle: oracle, Outcome: outcome, Timestamp: now}
		if err := domain.PutJSON(ctx, kv, keyAttestation(marketID, oracle), attestation); err != nil {
			return err
		}

		if outcome == domain.OutcomeYes {
			meta.YesVotes++
		} else {
			meta.NoVotes++
		}
		if err := domain.PutJSON(ctx, kv, keyMarket(marketID), meta); err != nil {
			return err
		}

		var voters []common.Address
		if err := domain.GetJSON(ctx, kv, keyVoters(marketID), &voters); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.PutJSON(ctx, kv, keyVoters(marketID), append(voters, oracle))
	})
	if err != nil {
		return fmt.Errorf("oracle: attest %s: %w", marketID.Hex(), err)
	}

	m.events.Publish(ctx, domain.AttestationSubmitted{MarketID: marketID, Oracle: oracle, Outcome: outcome})
	return nil
}

// CheckConsensus reports whether the vote threshold has decided the market.
// Exactly one outcome must both reach the threshold and strictly lead; a tie
// at or above the threshold is never decided automatically.
func (m *Manager) CheckConsensus(ctx context.Context, marketID common.Hash) (bool, domain.Outcome, error) {
	var meta marketMeta
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		meta, err = m.loadMarket(ctx, kv, marketID)
		return err
	})
	if err != nil {
		return false, 0, fmt.Errorf("oracle: check consensus %s: %w", marketID.Hex(), err)
	}

	threshold := m.cfg.ConsensusThreshold
	switch {
	case meta.YesVotes >= threshold && meta.YesVotes > meta.NoVotes:
		return true, domain.OutcomeYes, nil
	case meta.NoVotes >= threshold && meta.NoVotes > meta.YesVotes:
		return true, domain.OutcomeNo, nil
	default:
		return false, 0, nil
	}
}

// ChallengeAttestation disputes one oracle's vote. The challenger escrows
// the minimum stake; the market is flagged so finalization blocks until the
// admin arbitrates.
func (m *Manager) ChallengeAttestation(ctx context.Context, challenger, oracle common.Address, marketID common.Hash, reason string) error {
	now := m.clock.Now().Unix()
	unlock := m.locks.Lock(marketID.Hex())
	defer unlock()

	err := m.store.Update(ctx, func(kv domain.KV) error {
		attested, err := kv.Has(ctx, keyAttestation(marketID, oracle))
		if err != nil {
			return err
		}
		if !attested {
			return ErrNoAttestation
		}

		challenged, err := kv.Has(ctx, keyChallenge(marketID, oracle))
		if err != nil {
			return err
		}
		if challenged {
			return ErrDuplicateChallenge
		}

		challenge := domain.Challenge{
			Challenger: challenger,
			Oracle:     oracle,
			MarketID:   marketID,
			Reason:     reason,
			Stake:      m.cfg.MinChallengeStake,
			Timestamp:  now,
		}
		if err := domain.PutJSON(ctx, kv, keyChallenge(marketID, oracle), challenge); err != nil {
			return err
		}

		meta, err := m.loadMarket(ctx, kv, marketID)
		if err != nil {
			return err
		}
		meta.Challenged = true
		if err := domain.PutJSON(ctx, kv, keyMarket(marketID), meta); err != nil {
			return err
		}

		return m.ledger.Transfer(ctx, challenger, m.cfg.Escrow, m.cfg.MinChallengeStake)
	})
	if err != nil {
		return fmt.Errorf("oracle: challenge %s: %w", marketID.Hex(), err)
	}

	m.events.Publish(ctx, domain.AttestationChallenged{
		Oracle:     oracle,
		Challenger: challenger,
		MarketID:   marketID,
		Reason:     reason,
	})
	return nil
}

// ResolveChallenge arbitrates a challenge, exactly once, admin only.
//
// A valid challenge (the oracle was dishonest) costs the oracle 20 accuracy
// points and half its remaining stake; the slashed amount plus the
// challenger's returned stake go to the challenger, and the oracle is
// deregistered if accuracy falls below 50. An invalid challenge forfeits the
// challenger's stake to the oracle and earns the oracle 5 accuracy points.
func (m *Manager) ResolveChallenge(ctx context.Context, caller, oracle common.Address, marketID common.Hash, valid bool) error {
	if caller != m.cfg.Admin {
		return fmt.Errorf("oracle: resolve challenge: %w", domain.ErrUnauthorized)
	}

	unlock := m.locks.Lock(marketID.Hex())
	defer unlock()

	var (
		newAccuracy int
		slashed     = big.NewInt(0)
		payout      *big.Int
		challenger  common.Address
	)

	err := m.store.Update(ctx, func(kv domain.KV) error {
		var challenge domain.Challenge
		if err := domain.GetJSON(ctx, kv, keyChallenge(marketID, oracle), &challenge); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNoChallenge
			}
			return err
		}
		if challenge.Resolved {
			return ErrChallengeResolved
		}
		challenger = challenge.Challenger

		record, err := m.loadOracle(ctx, kv, oracle)
		if err != nil {
			return err
		}

		if valid {
			record.Accuracy -= accuracyPenalty
			if record.Accuracy < accuracyFloor {
				record.Accuracy = accuracyFloor
			}

			slashed = new(big.Int).Quo(
				new(big.Int).Mul(record.Stake, big.NewInt(slashNumerator)),
				big.NewInt(slashDenominator),
			)
			record.Stake = new(big.Int).Sub(record.Stake, slashed)

			if record.Accuracy < deregisterCutoff && record.Registered {
				record.Registered = false
				count, err := domain.GetBigOrZero(ctx, kv, keyCount)
				if err != nil {
					return err
				}
				if err := domain.PutBig(ctx, kv, keyCount, new(big.Int).Sub(count, big.NewInt(1))); err != nil {
					return err
				}
			}

			payout = new(big.Int).Add(slashed, challenge.Stake)
			if err := accrueReward(ctx, kv, challenger, payout); err != nil {
				return err
			}
		} else {
			record.Accuracy += accuracyReward
			if record.Accuracy > accuracyCap {
				record.Accuracy = accuracyCap
			}
			// Forfeited stake joins the oracle's own stake, custody
			// stays with the escrow.
			record.Stake = new(big.Int).Add(record.Stake, challenge.Stake)
			if err := accrueReward(ctx, kv, oracle, challenge.Stake); err != nil {
				return err
			}
		}
		newAccuracy = record.Accuracy

		if err := domain.PutJSON(ctx, kv, keyOracle(oracle), record); err != nil {
			return err
		}

		challenge.Resolved = true
		if err := domain.PutJSON(ctx, kv, keyChallenge(marketID, oracle), challenge); err != nil {
			return err
		}

		meta, err := m.loadMarket(ctx, kv, marketID)
		if err != nil {
			return err
		}
		meta.Challenged = false
		if err := domain.PutJSON(ctx, kv, keyMarket(marketID), meta); err != nil {
			return err
		}

		if payout != nil {
			return m.ledger.Transfer(ctx, m.cfg.Escrow, challenger, payout)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("oracle: resolve challenge %s: %w", marketID.Hex(), err)
	}

	m.events.Publish(ctx, domain.ChallengeResolved{
		Oracle:        oracle,
		Challenger:    challenger,
		Valid:         valid,
		NewAccuracy:   newAccuracy,
		SlashedAmount: slashed,
	})
	m.logger.InfoContext(ctx, "challenge resolved",
		slog.String("oracle", oracle.Hex()),
		slog.Bool("valid", valid),
		slog.Int("accuracy", newAccuracy),
	)
	return nil
}

// FinalizeResolution permanently records the consensus outcome once the
// challenge period has elapsed with no open challenge, then triggers the
// market state machine's resolve transition.
func (m *Manager) FinalizeResolution(ctx context.Context, marketID common.Hash) error {
	now := m.clock.Now().Unix()

	reached, outcome, err := m.CheckConsensus(ctx, marketID)
	if err != nil {
		return err
	}
	if !reached {
		return fmt.Errorf("oracle: finalize %s: %w", marketID.Hex(), ErrConsensusNotReached)
	}

	unlock := m.locks.Lock(marketID.Hex())
	defer unlock()

	err = m.store.Update(ctx, func(kv domain.KV) error {
		meta, err := m.loadMarket(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if meta.Finalized {
			return ErrAlreadyFinalized
		}
		if meta.Challenged {
			return ErrActiveChallenge
		}
		if now < meta.ResolutionTime+m.cfg.ChallengePeriodSecs {
			return ErrFinalizeEarly
		}

		meta.Finalized = true
		meta.FinalOutcome = &outcome
		return domain.PutJSON(ctx, kv, keyMarket(marketID), meta)
	})
	if err != nil {
		return fmt.Errorf("oracle: finalize %s: %w", marketID.Hex(), err)
	}

	if m.resolver != nil {
		if err := m.resolver.ResolveMarket(ctx, marketID); err != nil {
			return fmt.Errorf("oracle: finalize %s: resolve callback: %w", marketID.Hex(), err)
		}
	}

	m.events.Publish(ctx, domain.ResolutionFinalized{
		MarketID:     marketID,
		FinalOutcome: outcome,
		Timestamp:    now,
	})
	m.logger.InfoContext(ctx, "resolution finalized",
		slog.String("market_id", marketID.Hex()),
		slog.Uint64("outcome", uint64(outcome)),
	)
	return nil
}

func (m *Manager) loadOracle(ctx context.Context, kv domain.KV, oracle common.Address) (domain.OracleRecord, error) {
	var record domain.OracleRecord
	if err := domain.GetJSON(ctx, kv, keyOracle(oracle), &record); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OracleRecord{}, ErrOracleNotRegistered
		}
		return domain.OracleRecord{}, err
	}
	return record, nil
}

func (m *Manager) loadMarket(ctx context.Context, kv domain.KV, marketID common.Hash) (marketMeta, error) {
	var meta marketMeta
	if err := domain.GetJSON(ctx, kv, keyMarket(marketID), &meta); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return marketMeta{}, ErrMarketNotRegistered
		}
		return marketMeta{}, err
	}
	return meta, nil
}
