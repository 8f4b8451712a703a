package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/oracle"
	"github.com/alanyoungcy/marketsettle/internal/pool"
)

// ---------------------------------------------------------------------------
// Narrow source interfaces required by the archiver.
//
// The archiver only needs the read views it actually calls, not the full
// engine surfaces. The market engine, pool engine, and oracle manager
// satisfy these implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveSource provides read access to market settlement state.
type MarketArchiveSource interface {
	Record(ctx context.Context, marketID common.Hash) (domain.MarketRecord, error)
	Leaderboard(ctx context.Context, marketID common.Hash) ([]domain.LeaderboardEntry, error)
}

// PoolArchiveSource provides read access to the final pool state.
type PoolArchiveSource interface {
	PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error)
}

// OracleArchiveSource provides read access to attestation outcomes.
type OracleArchiveSource interface {
	Votes(ctx context.Context, marketID common.Hash) (yesVotes, noVotes int, err error)
	Voters(ctx context.Context, marketID common.Hash) ([]common.Address, error)
	Finalized(ctx context.Context, marketID common.Hash) (bool, domain.Outcome, error)
}

// settlementSnapshot is the archived representation of a finished market:
// the final market record, the pool it traded against, the claim
// leaderboard, and the oracle tally that resolved it.
type settlementSnapshot struct {
	ArchivedAt int64                     `json:"archived_at"`
	Market     domain.MarketRecord       `json:"market"`
	Pool       *domain.PoolState         `json:"pool,omitempty"`
	Claims     []domain.LeaderboardEntry `json:"claims,omitempty"`
	Oracle     *oracleTally              `json:"oracle,omitempty"`
}

type oracleTally struct {
	YesVotes  int              `json:"yes_votes"`
	NoVotes   int              `json:"no_votes"`
	Voters    []common.Address `json:"voters,omitempty"`
	Finalized bool             `json:"finalized"`
	Outcome   *domain.Outcome  `json:"outcome,omitempty"`
}

// ArchiveImpl implements domain.Archiver by collecting the settlement views
// of a market, serializing them to a single JSON document, and uploading it
// to blob storage.
//
// Archival never trims the primary store. Pruning archived markets is a
// separate, explicit step to be executed after the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets MarketArchiveSource
	pools   PoolArchiveSource
	oracles OracleArchiveSource
	logger  *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. pools and oracles may be nil when
// the deployment runs without the corresponding subsystem; the snapshot then
// omits those sections.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveSource,
	pools PoolArchiveSource,
	oracles OracleArchiveSource,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		pools:   pools,
		oracles: oracles,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveMarket exports the settlement snapshot of one market to
// archive/settlements/YYYY-MM/<market_id>.json and returns the storage path.
// Only markets that have left trading (resolved or cancelled) are archived.
func (a *ArchiveImpl) ArchiveMarket(ctx context.Context, marketID common.Hash) (string, error) {
	rec, err := a.markets.Record(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID.Hex(), err)
	}
	if rec.Status != domain.MarketStatusResolved && rec.Status != domain.MarketStatusCancelled {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID.Hex(), domain.ErrInvalidMarketState)
	}

	now := time.Now()
	snap := settlementSnapshot{
		ArchivedAt: now.Unix(),
		Market:     rec,
	}

	claims, err := a.markets.Leaderboard(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: leaderboard: %w", marketID.Hex(), err)
	}
	snap.Claims = claims

	if a.pools != nil {
		state, err := a.pools.PoolState(ctx, marketID)
		switch {
		case err == nil:
			// Markets without a liquidity pool report an empty state
			// and archive without one.
			if state.TotalLiquidity != nil && state.TotalLiquidity.Sign() > 0 {
				snap.Pool = &state
			}
		case isDomainNotFound(err) || errors.Is(err, pool.ErrPoolNotFound):
		default:
			return "", fmt.Errorf("s3blob: archive market %s: pool state: %w", marketID.Hex(), err)
		}
	}

	if a.oracles != nil {
		tally, err := a.collectOracle(ctx, marketID)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive market %s: oracle tally: %w", marketID.Hex(), err)
		}
		snap.Oracle = tally
	}

	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: marshal: %w", marketID.Hex(), err)
	}

	path := archivePath(marketID, now)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: upload: %w", marketID.Hex(), err)
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.String("market_id", marketID.Hex()),
		slog.String("path", path),
		slog.Int("claims", len(claims)),
	)
	return path, nil
}

func (a *ArchiveImpl) collectOracle(ctx context.Context, marketID common.Hash) (*oracleTally, error) {
	yes, no, err := a.oracles.Votes(ctx, marketID)
	if err != nil {
		// Markets never registered with the oracle set archive without a tally.
		if isDomainNotFound(err) || errors.Is(err, oracle.ErrMarketNotRegistered) {
			return nil, nil
		}
		return nil, err
	}

	voters, err := a.oracles.Voters(ctx, marketID)
	if err != nil {
		return nil, err
	}

	tally := &oracleTally{YesVotes: yes, NoVotes: no, Voters: voters}

	finalized, outcome, err := a.oracles.Finalized(ctx, marketID)
	if err != nil {
		return nil, err
	}
	tally.Finalized = finalized
	if finalized {
		tally.Outcome = &outcome
	}
	return tally, nil
}

func isDomainNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// archivePath builds the blob key for a settlement snapshot, partitioned by
// the year-month of archival.
//
//	archive/settlements/2026-02/0xabc....json
func archivePath(marketID common.Hash, at time.Time) string {
	return fmt.Sprintf("archive/settlements/%s/%s.json", at.Format("2006-01"), marketID.Hex())
}
