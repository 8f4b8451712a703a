package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Oracle returns the registry record for an attestor.
func (m *Manager) Oracle(ctx context.Context, oracle common.Address) (domain.OracleRecord, error) {
	var record domain.OracleRecord
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		record, err = m.loadOracle(ctx, kv, oracle)
		return err
	})
	if err != nil {
		return domain.OracleRecord{}, fmt.Errorf("oracle: record %s: %w", oracle.Hex(), err)
	}
	return record, nil
}

// OracleCount returns the number of currently registered oracles.
func (m *Manager) OracleCount(ctx context.Context) (int, error) {
	var count *big.Int
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		count, err = domain.GetBigOrZero(ctx, kv, keyCount)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("oracle: count: %w", err)
	}
	return int(count.Int64()), nil
}

// Votes returns the current tally for a market.
func (m *Manager) Votes(ctx context.Context, marketID common.Hash) (yesVotes, noVotes int, err error) {
	err = m.store.View(ctx, func(kv domain.KV) error {
		meta, err := m.loadMarket(ctx, kv, marketID)
		if err != nil {
			return err
		}
		yesVotes, noVotes = meta.YesVotes, meta.NoVotes
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("oracle: votes %s: %w", marketID.Hex(), err)
	}
	return yesVotes, noVotes, nil
}

// Voters returns the oracles that have attested for a market, in voting
// order.
func (m *Manager) Voters(ctx context.Context, marketID common.Hash) ([]common.Address, error) {
	var voters []common.Address
	err := m.store.View(ctx, func(kv domain.KV) error {
		err := domain.GetJSON(ctx, kv, keyVoters(marketID), &voters)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: voters %s: %w", marketID.Hex(), err)
	}
	return voters, nil
}

// AttestationOf returns one oracle's vote for a market, or ErrNotFound.
func (m *Manager) AttestationOf(ctx context.Context, marketID common.Hash, oracle common.Address) (domain.Attestation, error) {
	var attestation domain.Attestation
	err := m.store.View(ctx, func(kv domain.KV) error {
		return domain.GetJSON(ctx, kv, keyAttestation(marketID, oracle), &attestation)
	})
	if err != nil {
		return domain.Attestation{}, fmt.Errorf("oracle: attestation %s: %w", marketID.Hex(), err)
	}
	return attestation, nil
}

// ChallengeOf returns the challenge against one oracle's vote, or
// ErrNotFound.
func (m *Manager) ChallengeOf(ctx context.Context, marketID common.Hash, oracle common.Address) (domain.Challenge, error) {
	var challenge domain.Challenge
	err := m.store.View(ctx, func(kv domain.KV) error {
		return domain.GetJSON(ctx, kv, keyChallenge(marketID, oracle), &challenge)
	})
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("oracle: challenge %s: %w", marketID.Hex(), err)
	}
	return challenge, nil
}

// ResolutionTime returns the resolution deadline a market was registered
// with, or ErrMarketNotRegistered.
func (m *Manager) ResolutionTime(ctx context.Context, marketID common.Hash) (int64, error) {
	var meta marketMeta
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		meta, err = m.loadMarket(ctx, kv, marketID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("oracle: resolution time %s: %w", marketID.Hex(), err)
	}
	return meta.ResolutionTime, nil
}

// RewardBalance returns an account's accumulated arbitration winnings:
// slash payouts for challengers, forfeited challenge stakes for oracles.
func (m *Manager) RewardBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var total *big.Int
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		total, err = domain.GetBigOrZero(ctx, kv, keyReward(account))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: reward balance %s: %w", account.Hex(), err)
	}
	return total, nil
}

// Finalized reports whether a market's resolution has been finalized and,
// if so, the recorded outcome.
func (m *Manager) Finalized(ctx context.Context, marketID common.Hash) (bool, domain.Outcome, error) {
	var meta marketMeta
	err := m.store.View(ctx, func(kv domain.KV) error {
		var err error
		meta, err = m.loadMarket(ctx, kv, marketID)
		return err
	})
	if err != nil {
		return false, 0, fmt.Errorf("oracle: finalized %s: %w", marketID.Hex(), err)
	}
	if !meta.Finalized || meta.FinalOutcome == nil {
		return false, 0, nil
	}
	return true, *meta.FinalOutcome, nil
}
