// Package market implements the lifecycle state machine for a binary
// prediction market: commit-then-reveal entry, deadline-gated transitions,
// consensus-driven resolution, and pro-rata payout with fee deduction.
package market

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
	ErrMarketExists   = errors.New("market already initialized")
	ErrDisputeWindow  = errors.New("dispute window elapsed")
	ErrNoWinnerShares = errors.New("no shares on the winning outcome")
)

const bpsDenominator = 10000

// Config holds the per-instance market engine parameters.
type Config struct {
	// Escrow holds committed stakes and the payout pool.
	Escrow common.Address
	// PayoutFeeBps is the fee taken from each gross payout. Zero defaults
	// to 1000 (10%).
	PayoutFeeBps int64
	// DisputeWindowSecs is how long after resolution_time a resolution can
	// be disputed. Zero defaults to 7 days.
	DisputeWindowSecs int64
	// DisputeStake is the minimum stake escrowed to open a dispute. Nil
	// defaults to 1000.
	DisputeStake *big.Int
}

func (c *Config) applyDefaults() {
	if c.PayoutFeeBps == 0 {
		c.PayoutFeeBps = 1000
	}
	if c.DisputeWindowSecs == 0 {
		c.DisputeWindowSecs = 7 * 24 * 3600
	}
	if c.DisputeStake == nil {
		c.DisputeStake = big.NewInt(1000)
	}
}

// Engine owns commitments, revealed predictions, lifecycle transitions, and
// payout computation for every market it hosts.
type Engine struct {
	cfg       Config
	store     domain.StateStore
	ledger    domain.AssetLedger
	clock     domain.Clock
	consensus domain.ConsensusProvider
	events    domain.EventPublisher
	logger    *slog.Logger
	locks     *keylock.KeyLock
}

func New(cfg Config, store domain.StateStore, ledger domain.AssetLedger, clock domain.Clock, consensus domain.ConsensusProvider, events domain.EventPublisher, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		clock:     clock,
		consensus: consensus,
		events:    events,
		logger:    logger.With(slog.String("component", "market")),
		locks:     keylock.New(),
	}
}

var _ domain.MarketResolver = (*Engine)(nil)

// ── Storage keys ──

func keyRecord(id common.Hash) string { return "market:record:" + id.Hex() }

func keyCommit(id common.Hash, user common.Address) string {
	return "market:commitment:" + id.Hex() + ":" + user.Hex()
}

func keyPrediction(id common.Hash, user common.Address) string {
	return "market:prediction:" + id.Hex() + ":" + user.Hex()
}

func keyParticipants(id common.Hash) string { return "market:participants:" + id.Hex() }
func keyDispute(id common.Hash) string      { return "market:dispute:" + id.Hex() }
func keyClaims(id common.Hash) string       { return "market:claims:" + id.Hex() }

// InitializeMarket creates a new market in the OPEN state. closingTime and
// resolutionTime are unix seconds; predictions are accepted until
// closingTime, and resolution cannot happen before resolutionTime.
func (e *Engine) InitializeMarket(ctx context.Context, creator common.Address, marketID common.Hash, closingTime, resolutionTime int64) error {
	now := e.clock.Now().Unix()
	if closingTime <= now {
		return fmt.Errorf("market: initialize: closing time %d is in the past: %w", closingTime, domain.ErrInvalidAmount)
	}
	if resolutionTime < closingTime {
		return fmt.Errorf("market: initialize: resolution time precedes closing time: %w", domain.ErrInvalidAmount)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	record := domain.MarketRecord{
		MarketID:       marketID,
		Creator:        creator,
		Status:         domain.MarketStatusOpen,
		ClosingTime:    closingTime,
		ResolutionTime: resolutionTime,
		YesPool:        big.NewInt(0),
		NoPool:         big.NewInt(0),
		TotalVolume:    big.NewInt(0),
	}

	err := e.store.Update(ctx, func(kv domain.KV) error {
		exists, err := kv.Has(ctx, keyRecord(marketID))
		if err != nil {
			return err
		}
		if exists {
			return ErrMarketExists
		}
		return domain.PutJSON(ctx, kv, keyRecord(marketID), record)
	})
	if err != nil {
		return fmt.Errorf("market: initialize %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.MarketInitialized{
		MarketID:       marketID,
		Creator:        creator,
		ClosingTime:    closingTime,
		ResolutionTime: resolutionTime,
	})
	e.logger.InfoContext(ctx, "market initialized",
		slog.String("market_id", marketID.Hex()),
		slog.Int64("closing_time", closingTime),
		slog.Int64("resolution_time", resolutionTime),
	)
	return nil
}

// CommitPrediction escrows amount behind a hash commitment. One live
// commitment per user per market; valid only while the market is OPEN and
// before its closing time.
func (e *Engine) CommitPrediction(ctx context.Context, user common.Address, marketID common.Hash, commitHash common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("market: commit: %w", domain.ErrInvalidAmount)
	}

	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusOpen {
			return domain.ErrInvalidMarketState
		}
		if now >= record.ClosingTime {
			return domain.ErrMarketClosed
		}

		committed, err := kv.Has(ctx, keyCommit(marketID, user))
		if err != nil {
			return err
		}
		revealed, err := kv.Has(ctx, keyPrediction(marketID, user))
		if err != nil {
			return err
		}
		if committed || revealed {
			return domain.ErrDuplicateCommit
		}

		commitment := domain.Commitment{
			User:       user,
			CommitHash: commitHash,
			Amount:     amount,
			Timestamp:  now,
		}
		if err := domain.PutJSON(ctx, kv, keyCommit(marketID, user), commitment); err != nil {
			return err
		}
		if err := e.appendParticipant(ctx, kv, marketID, user); err != nil {
			return err
		}

		record.PendingCount++
		if err := domain.PutJSON(ctx, kv, keyRecord(marketID), record); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, user, e.cfg.Escrow, amount)
	})
	if err != nil {
		return fmt.Errorf("market: commit %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.CommitmentMade{User: user, MarketID: marketID, Amount: amount})
	return nil
}

// RevealPrediction opens a commitment. The reveal succeeds only if
// sha256(market_id || outcome || salt) equals the committed hash and amount
// equals the committed amount exactly; the revealed amount then joins the
// outcome's pool total and the commitment is deleted.
func (e *Engine) RevealPrediction(ctx context.Context, user common.Address, marketID common.Hash, outcome domain.Outcome, amount *big.Int, salt common.Hash) error {
	if !outcome.Valid() {
		return fmt.Errorf("market: reveal: %w", domain.ErrInvalidReveal)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("market: reveal: %w", domain.ErrInvalidAmount)
	}

	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusOpen {
			return domain.ErrInvalidMarketState
		}
		if now >= record.ClosingTime {
			return domain.ErrMarketClosed
		}

		revealed, err := kv.Has(ctx, keyPrediction(marketID, user))
		if err != nil {
			return err
		}
		if revealed {
			return domain.ErrDuplicateReveal
		}

		var commitment domain.Commitment
		if err := domain.GetJSON(ctx, kv, keyCommit(marketID, user), &commitment); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoPrediction
			}
			return err
		}

		digest := domain.CommitDigest(marketID, outcome, salt)
		if digest != commitment.CommitHash || amount.Cmp(commitment.Amount) != 0 {
			return domain.ErrInvalidReveal
		}

		prediction := domain.UserPrediction{
			User:      user,
			Outcome:   outcome,
			Amount:    amount,
			Timestamp: now,
		}
		if err := domain.PutJSON(ctx, kv, keyPrediction(marketID, user), prediction); err != nil {
			return err
		}
		if err := kv.Remove(ctx, keyCommit(marketID, user)); err != nil {
			return err
		}

		if outcome == domain.OutcomeYes {
			record.YesPool = new(big.Int).Add(record.YesPool, amount)
		} else {
			record.NoPool = new(big.Int).Add(record.NoPool, amount)
		}
		record.TotalVolume = new(big.Int).Add(record.TotalVolume, amount)
		record.PendingCount--
		return domain.PutJSON(ctx, kv, keyRecord(marketID), record)
	})
	if err != nil {
		return fmt.Errorf("market: reveal %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.PredictionRevealed{
		User:      user,
		MarketID:  marketID,
		Outcome:   outcome,
		Amount:    amount,
		Timestamp: now,
	})
	return nil
}

// CloseMarket transitions OPEN to CLOSED once the closing time has passed.
// Anyone may call it; the deadline is the authorization.
func (e *Engine) CloseMarket(ctx context.Context, marketID common.Hash) error {
	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusOpen {
			return domain.ErrInvalidMarketState
		}
		if now < record.ClosingTime {
			return fmt.Errorf("closing time %d not reached: %w", record.ClosingTime, domain.ErrInvalidMarketState)
		}
		record.Status = domain.MarketStatusClosed
		return domain.PutJSON(ctx, kv, keyRecord(marketID), record)
	})
	if err != nil {
		return fmt.Errorf("market: close %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.MarketClosed{MarketID: marketID, Timestamp: now})
	return nil
}

// ResolveMarket transitions CLOSED to RESOLVED using the consensus
// provider's decided outcome. It fails with ErrNotResolved while consensus
// has not been reached. The consensus manager calls this from
// FinalizeResolution; it can also be invoked directly.
func (e *Engine) ResolveMarket(ctx context.Context, marketID common.Hash) error {
	now := e.clock.Now().Unix()

	reached, outcome, err := e.consensus.CheckConsensus(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market: resolve %s: consensus check: %w", marketID.Hex(), err)
	}
	if !reached {
		return fmt.Errorf("market: resolve %s: %w", marketID.Hex(), domain.ErrNotResolved)
	}

	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err = e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusClosed {
			return domain.ErrInvalidMarketState
		}
		if now < record.ResolutionTime {
			return fmt.Errorf("resolution time %d not reached: %w", record.ResolutionTime, domain.ErrInvalidMarketState)
		}

		record.Status = domain.MarketStatusResolved
		record.WinningOutcome = &outcome
		if outcome == domain.OutcomeYes {
			record.WinnerShares = new(big.Int).Set(record.YesPool)
			record.LoserShares = new(big.Int).Set(record.NoPool)
		} else {
			record.WinnerShares = new(big.Int).Set(record.NoPool)
			record.LoserShares = new(big.Int).Set(record.YesPool)
		}
		return domain.PutJSON(ctx, kv, keyRecord(marketID), record)
	})
	if err != nil {
		return fmt.Errorf("market: resolve %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.MarketResolved{MarketID: marketID, FinalOutcome: outcome, Timestamp: now})
	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID.Hex()),
		slog.Uint64("outcome", uint64(outcome)),
	)
	return nil
}

// ClaimWinnings pays a winning prediction its pro-rata share of the combined
// pools, minus the payout fee. A second claim by the same user fails; a
// disputed market blocks claims until the dispute is resolved.
func (e *Engine) ClaimWinnings(ctx context.Context, user common.Address, marketID common.Hash) (*big.Int, error) {
	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	var netPayout *big.Int

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusResolved {
			return domain.ErrNotResolved
		}

		var prediction domain.UserPrediction
		if err := domain.GetJSON(ctx, kv, keyPrediction(marketID, user), &prediction); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoPrediction
			}
			return err
		}
		if prediction.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if record.WinningOutcome == nil || prediction.Outcome != *record.WinningOutcome {
			return domain.ErrNotWinner
		}
		if record.WinnerShares == nil || record.WinnerShares.Sign() == 0 {
			return ErrNoWinnerShares
		}

		// gross = amount * (winner + loser) / winner, fee off the gross.
		total := new(big.Int).Add(record.WinnerShares, record.LoserShares)
		gross := new(big.Int).Quo(new(big.Int).Mul(prediction.Amount, total), record.WinnerShares)
		fee := new(big.Int).Quo(new(big.Int).Mul(gross, big.NewInt(e.cfg.PayoutFeeBps)), big.NewInt(bpsDenominator))
		netPayout = new(big.Int).Sub(gross, fee)
		if netPayout.Sign() <= 0 {
			return domain.ErrInvalidAmount
		}

		prediction.Claimed = true
		if err := domain.PutJSON(ctx, kv, keyPrediction(marketID, user), prediction); err != nil {
			return err
		}
		if err := e.appendClaim(ctx, kv, marketID, domain.LeaderboardEntry{
			User:      user,
			NetPayout: netPayout,
			Timestamp: now,
		}); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, e.cfg.Escrow, user, netPayout)
	})
	if err != nil {
		return nil, fmt.Errorf("market: claim %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.WinningsClaimed{User: user, MarketID: marketID, NetPayout: netPayout})
	return netPayout, nil
}

// DisputeMarket escrows the dispute stake and transitions RESOLVED to
// DISPUTED. Valid only within the dispute window after resolution_time.
func (e *Engine) DisputeMarket(ctx context.Context, user common.Address, marketID common.Hash, reason string) error {
	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if record.Status != domain.MarketStatusResolved {
			return domain.ErrInvalidMarketState
		}
		if now >= record.ResolutionTime+e.cfg.DisputeWindowSecs {
			return ErrDisputeWindow
		}

		dispute := domain.DisputeRecord{
			User:      user,
			Reason:    reason,
			Stake:     e.cfg.DisputeStake,
			Timestamp: now,
		}
		if err := domain.PutJSON(ctx, kv, keyDispute(marketID), dispute); err != nil {
			return err
		}

		record.Status = domain.MarketStatusDisputed
		if err := domain.PutJSON(ctx, kv, keyRecord(marketID), record); err != nil {
			return err
		}

		return e.ledger.Transfer(ctx, user, e.cfg.Escrow, e.cfg.DisputeStake)
	})
	if err != nil {
		return fmt.Errorf("market: dispute %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.MarketDisputed{User: user, MarketID: marketID, Reason: reason, Timestamp: now})
	return nil
}

// CancelMarket refunds every participant's live commitment or unrevealed
// stake and transitions to CANCELLED. Only the market creator may cancel,
// and only from OPEN or CLOSED.
func (e *Engine) CancelMarket(ctx context.Context, caller common.Address, marketID common.Hash) error {
	now := e.clock.Now().Unix()
	unlock := e.locks.Lock(marketID.Hex())
	defer unlock()

	err := e.store.Update(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		if caller != record.Creator {
			return domain.ErrUnauthorized
		}
		if record.Status != domain.MarketStatusOpen && record.Status != domain.MarketStatusClosed {
			return domain.ErrInvalidMarketState
		}

		participants, err := e.loadParticipants(ctx, kv, marketID)
		if err != nil {
			return err
		}
		type refund struct {
			user   common.Address
			amount *big.Int
		}
		var refunds []refund
		total := big.NewInt(0)
		for _, user := range participants {
			amount, err := e.refundAmount(ctx, kv, marketID, user)
			if err != nil {
				return err
			}
			if amount == nil {
				continue
			}
			refunds = append(refunds, refund{user: user, amount: amount})
			total.Add(total, amount)
		}
		if err := kv.Remove(ctx, keyParticipants(marketID)); err != nil {
			return err
		}

		record.Status = domain.MarketStatusCancelled
		if err := domain.PutJSON(ctx, kv, keyRecord(marketID), record); err != nil {
			return err
		}

		// Transfers run last, after a covering-balance check, so a refund
		// failure aborts the staged state before any participant is paid.
		balance, err := e.ledger.Balance(ctx, e.cfg.Escrow)
		if err != nil {
			return err
		}
		if balance.Cmp(total) < 0 {
			return fmt.Errorf("escrow balance %s below refund total %s", balance, total)
		}
		for _, r := range refunds {
			if err := e.ledger.Transfer(ctx, e.cfg.Escrow, r.user, r.amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("market: cancel %s: %w", marketID.Hex(), err)
	}

	e.events.Publish(ctx, domain.MarketCancelled{MarketID: marketID, Creator: caller, Timestamp: now})
	e.logger.InfoContext(ctx, "market cancelled", slog.String("market_id", marketID.Hex()))
	return nil
}

// refundAmount removes a participant's live commitment or revealed
// prediction and returns the amount to pay back, nil when nothing is owed.
func (e *Engine) refundAmount(ctx context.Context, kv domain.KV, marketID common.Hash, user common.Address) (*big.Int, error) {
	var commitment domain.Commitment
	err := domain.GetJSON(ctx, kv, keyCommit(marketID, user), &commitment)
	switch {
	case err == nil:
		if err := kv.Remove(ctx, keyCommit(marketID, user)); err != nil {
			return nil, err
		}
		return commitment.Amount, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	var prediction domain.UserPrediction
	err = domain.GetJSON(ctx, kv, keyPrediction(marketID, user), &prediction)
	switch {
	case err == nil:
		if prediction.Claimed {
			return nil, nil
		}
		if err := kv.Remove(ctx, keyPrediction(marketID, user)); err != nil {
			return nil, err
		}
		return prediction.Amount, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (e *Engine) loadRecord(ctx context.Context, kv domain.KV, marketID common.Hash) (domain.MarketRecord, error) {
	var record domain.MarketRecord
	if err := domain.GetJSON(ctx, kv, keyRecord(marketID), &record); err != nil {
		return domain.MarketRecord{}, err
	}
	return record, nil
}

func (e *Engine) loadParticipants(ctx context.Context, kv domain.KV, marketID common.Hash) ([]common.Address, error) {
	var participants []common.Address
	err := domain.GetJSON(ctx, kv, keyParticipants(marketID), &participants)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return participants, err
}

func (e *Engine) appendParticipant(ctx context.Context, kv domain.KV, marketID common.Hash, user common.Address) error {
	participants, err := e.loadParticipants(ctx, kv, marketID)
	if err != nil {
		return err
	}
	return domain.PutJSON(ctx, kv, keyParticipants(marketID), append(participants, user))
}

func (e *Engine) appendClaim(ctx context.Context, kv domain.KV, marketID common.Hash, entry domain.LeaderboardEntry) error {
	var claims []domain.LeaderboardEntry
	err := domain.GetJSON(ctx, kv, keyClaims(marketID), &claims)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.PutJSON(ctx, kv, keyClaims(marketID), append(claims, entry))
}
