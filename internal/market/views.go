package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Record returns the full market record.
func (e *Engine) Record(ctx context.Context, marketID common.Hash) (domain.MarketRecord, error) {
	var record domain.MarketRecord
	err := e.store.View(ctx, func(kv domain.KV) error {
		var err error
		record, err = e.loadRecord(ctx, kv, marketID)
		return err
	})
	if err != nil {
		return domain.MarketRecord{}, fmt.Errorf("market: record %s: %w", marketID.Hex(), err)
	}
	return record, nil
}

// State returns the condensed lifecycle view of a market.
func (e *Engine) State(ctx context.Context, marketID common.Hash) (domain.MarketState, error) {
	var state domain.MarketState
	err := e.store.View(ctx, func(kv domain.KV) error {
		record, err := e.loadRecord(ctx, kv, marketID)
		if err != nil {
			return err
		}
		participants, err := e.loadParticipants(ctx, kv, marketID)
		if err != nil {
			return err
		}
		state = domain.MarketState{
			Status:           record.Status,
			ClosingTime:      record.ClosingTime,
			TotalPool:        new(big.Int).Add(record.YesPool, record.NoPool),
			ParticipantCount: len(participants),
			WinningOutcome:   record.WinningOutcome,
		}
		return nil
	})
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("market: state %s: %w", marketID.Hex(), err)
	}
	return state, nil
}

// UserPrediction returns a user's position: the commitment while unrevealed,
// the prediction afterwards. ErrNoPrediction when the user never entered.
func (e *Engine) UserPrediction(ctx context.Context, marketID common.Hash, user common.Address) (domain.UserPredictionView, error) {
	var view domain.UserPredictionView
	err := e.store.View(ctx, func(kv domain.KV) error {
		var prediction domain.UserPrediction
		err := domain.GetJSON(ctx, kv, keyPrediction(marketID, user), &prediction)
		if err == nil {
			outcome := prediction.Outcome
			view = domain.UserPredictionView{
				Phase:   domain.PhaseRevealed,
				Amount:  prediction.Amount,
				Outcome: &outcome,
				Claimed: prediction.Claimed,
			}
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		var commitment domain.Commitment
		if err := domain.GetJSON(ctx, kv, keyCommit(marketID, user), &commitment); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoPrediction
			}
			return err
		}
		view = domain.UserPredictionView{
			Phase:      domain.PhaseCommitted,
			CommitHash: commitment.CommitHash,
			Amount:     commitment.Amount,
		}
		return nil
	})
	if err != nil {
		return domain.UserPredictionView{}, fmt.Errorf("market: user prediction %s: %w", marketID.Hex(), err)
	}
	return view, nil
}

// PendingReveals returns the number of commitments not yet revealed.
func (e *Engine) PendingReveals(ctx context.Context, marketID common.Hash) (int, error) {
	record, err := e.Record(ctx, marketID)
	if err != nil {
		return 0, err
	}
	return record.PendingCount, nil
}

// Leaderboard returns the market's paid-out winners ordered by net payout,
// largest first.
func (e *Engine) Leaderboard(ctx context.Context, marketID common.Hash) ([]domain.LeaderboardEntry, error) {
	var entries []domain.LeaderboardEntry
	err := e.store.View(ctx, func(kv domain.KV) error {
		err := domain.GetJSON(ctx, kv, keyClaims(marketID), &entries)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market: leaderboard %s: %w", marketID.Hex(), err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].NetPayout.Cmp(entries[j].NetPayout) > 0
	})
	return entries, nil
}

// Dispute returns the active dispute record, or ErrNotFound when the market
// was never disputed.
func (e *Engine) Dispute(ctx context.Context, marketID common.Hash) (domain.DisputeRecord, error) {
	var dispute domain.DisputeRecord
	err := e.store.View(ctx, func(kv domain.KV) error {
		return domain.GetJSON(ctx, kv, keyDispute(marketID), &dispute)
	})
	if err != nil {
		return domain.DisputeRecord{}, fmt.Errorf("market: dispute record %s: %w", marketID.Hex(), err)
	}
	return dispute, nil
}
