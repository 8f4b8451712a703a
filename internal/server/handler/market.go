package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// MarketEngine defines the methods the market handler requires from the
// settlement engine. It is declared locally so the handler package does not
// depend on the concrete engine beyond its sentinel errors.
type MarketEngine interface {
	InitializeMarket(ctx context.Context, creator common.Address, marketID common.Hash, closingTime, resolutionTime int64) error
	CommitPrediction(ctx context.Context, user common.Address, marketID common.Hash, commitHash common.Hash, amount *big.Int) error
	RevealPrediction(ctx context.Context, user common.Address, marketID common.Hash, outcome domain.Outcome, amount *big.Int, salt common.Hash) error
	CloseMarket(ctx context.Context, marketID common.Hash) error
	ResolveMarket(ctx context.Context, marketID common.Hash) error
	ClaimWinnings(ctx context.Context, user common.Address, marketID common.Hash) (*big.Int, error)
	DisputeMarket(ctx context.Context, user common.Address, marketID common.Hash, reason string) error
	CancelMarket(ctx context.Context, caller common.Address, marketID common.Hash) error

	State(ctx context.Context, marketID common.Hash) (domain.MarketState, error)
	UserPrediction(ctx context.Context, marketID common.Hash, user common.Address) (domain.UserPredictionView, error)
	PendingReveals(ctx context.Context, marketID common.Hash) (int, error)
	Leaderboard(ctx context.Context, marketID common.Hash) ([]domain.LeaderboardEntry, error)
	Dispute(ctx context.Context, marketID common.Hash) (domain.DisputeRecord, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	engine MarketEngine
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given engine and logger.
func NewMarketHandler(engine MarketEngine, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: engine, logger: logger}
}

type initializeMarketRequest struct {
	Creator        string `json:"creator"`
	ClosingTime    int64  `json:"closing_time"`
	ResolutionTime int64  `json:"resolution_time"`
}

// InitializeMarket creates a new market.
// POST /api/markets/{id}
func (h *MarketHandler) InitializeMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req initializeMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := parseAddress(req.Creator, "creator")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.InitializeMarket(r.Context(), creator, marketID, req.ClosingTime, req.ResolutionTime); err != nil {
		h.logError(r, "initialize market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": marketID.Hex()})
}

type commitRequest struct {
	User       string `json:"user"`
	CommitHash string `json:"commit_hash"`
	Amount     string `json:"amount"`
}

// CommitPrediction stakes a hidden prediction.
// POST /api/markets/{id}/commit
func (h *MarketHandler) CommitPrediction(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(common.FromHex(req.CommitHash)) != common.HashLength {
		writeError(w, http.StatusBadRequest, "commit_hash must be a 32-byte hex value")
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.CommitPrediction(r.Context(), user, marketID, common.HexToHash(req.CommitHash), amount); err != nil {
		h.logError(r, "commit prediction", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

type revealRequest struct {
	User    string `json:"user"`
	Outcome uint32 `json:"outcome"`
	Amount  string `json:"amount"`
	Salt    string `json:"salt"`
}

// RevealPrediction opens a previously committed prediction.
// POST /api/markets/{id}/reveal
func (h *MarketHandler) RevealPrediction(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome := domain.Outcome(req.Outcome)
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be 0 or 1")
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(common.FromHex(req.Salt)) != common.HashLength {
		writeError(w, http.StatusBadRequest, "salt must be a 32-byte hex value")
		return
	}

	if err := h.engine.RevealPrediction(r.Context(), user, marketID, outcome, amount, common.HexToHash(req.Salt)); err != nil {
		h.logError(r, "reveal prediction", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revealed"})
}

// CloseMarket transitions a market past its trading deadline.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.CloseMarket(r.Context(), marketID); err != nil {
		h.logError(r, "close market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ResolveMarket settles a closed market using the oracle consensus outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.ResolveMarket(r.Context(), marketID); err != nil {
		h.logError(r, "resolve market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type claimRequest struct {
	User string `json:"user"`
}

// ClaimWinnings pays out a winning prediction.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.engine.ClaimWinnings(r.Context(), user, marketID)
	if err != nil {
		h.logError(r, "claim winnings", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": bigString(payout)})
}

type disputeRequest struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

// DisputeMarket contests a resolved outcome within the dispute window.
// POST /api/markets/{id}/dispute
func (h *MarketHandler) DisputeMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.DisputeMarket(r.Context(), user, marketID, req.Reason); err != nil {
		h.logError(r, "dispute market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

// CancelMarket aborts a market and refunds all stakes.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.CancelMarket(r.Context(), caller, marketID); err != nil {
		h.logError(r, "cancel market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetState returns the public summary of a market.
// GET /api/markets/{id}
func (h *MarketHandler) GetState(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.engine.State(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get market state", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetUserPrediction returns one user's position in a market.
// GET /api/markets/{id}/predictions/{user}
func (h *MarketHandler) GetUserPrediction(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress(r.PathValue("user"), "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.engine.UserPrediction(r.Context(), marketID, user)
	if err != nil {
		h.logError(r, "get user prediction", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetPendingReveals returns the count of commitments not yet revealed.
// GET /api/markets/{id}/pending
func (h *MarketHandler) GetPendingReveals(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := h.engine.PendingReveals(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get pending reveals", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending_reveals": count})
}

// GetLeaderboard returns claimed payouts ranked by net winnings.
// GET /api/markets/{id}/leaderboard
func (h *MarketHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.engine.Leaderboard(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get leaderboard", marketID, err)
		writeDomainError(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetDispute returns the active dispute for a market, if any.
// GET /api/markets/{id}/dispute
func (h *MarketHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.engine.Dispute(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get dispute", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *MarketHandler) logError(r *http.Request, op string, marketID common.Hash, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("market_id", marketID.Hex()),
		slog.String("error", err.Error()),
	)
}
