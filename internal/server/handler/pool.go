package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// PoolEngine defines the methods the pool handler requires from the AMM
// engine.
type PoolEngine interface {
	CreatePool(ctx context.Context, creator common.Address, marketID common.Hash, initialAmount *big.Int) error
	BuyShares(ctx context.Context, buyer common.Address, marketID common.Hash, outcome domain.Outcome, amount, minShares *big.Int) (*big.Int, error)
	SellShares(ctx context.Context, seller common.Address, marketID common.Hash, outcome domain.Outcome, shares, minPayout *big.Int) (*big.Int, error)
	AddLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, amount *big.Int) (*big.Int, error)
	RemoveLiquidity(ctx context.Context, provider common.Address, marketID common.Hash, lpTokens *big.Int) (yesAmount, noAmount *big.Int, err error)

	Odds(ctx context.Context, marketID common.Hash) (yesOdds, noOdds int64, err error)
	CurrentPrices(ctx context.Context, marketID common.Hash) (domain.Prices, error)
	PoolState(ctx context.Context, marketID common.Hash) (domain.PoolState, error)
	ShareBalance(ctx context.Context, marketID common.Hash, user common.Address, outcome domain.Outcome) (*big.Int, error)
	LPBalance(ctx context.Context, marketID common.Hash, provider common.Address) (*big.Int, error)
}

// PoolHandler serves liquidity pool HTTP endpoints.
type PoolHandler struct {
	engine PoolEngine
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given engine and logger.
func NewPoolHandler(engine PoolEngine, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{engine: engine, logger: logger}
}

type createPoolRequest struct {
	Creator          string `json:"creator"`
	InitialLiquidity string `json:"initial_liquidity"`
}

// CreatePool seeds a balanced liquidity pool for a market.
// POST /api/pools/{id}
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := parseAddress(req.Creator, "creator")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.InitialLiquidity, "initial_liquidity")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.CreatePool(r.Context(), creator, marketID, amount); err != nil {
		h.logError(r, "create pool", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": marketID.Hex()})
}

type tradeRequest struct {
	Trader    string `json:"trader"`
	Outcome   uint32 `json:"outcome"`
	Amount    string `json:"amount"`
	MinReturn string `json:"min_return,omitempty"`
}

// BuyShares swaps collateral for outcome shares.
// POST /api/pools/{id}/buy
func (h *PoolHandler) BuyShares(w http.ResponseWriter, r *http.Request) {
	marketID, req, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}
	trader := common.HexToAddress(req.Trader)
	amount, _ := new(big.Int).SetString(req.Amount, 10)

	minShares := big.NewInt(0)
	if req.MinReturn != "" {
		m, ok := new(big.Int).SetString(req.MinReturn, 10)
		if !ok || m.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "min_return must be a non-negative decimal integer")
			return
		}
		minShares = m
	}

	shares, err := h.engine.BuyShares(r.Context(), trader, marketID, domain.Outcome(req.Outcome), amount, minShares)
	if err != nil {
		h.logError(r, "buy shares", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares_out": bigString(shares)})
}

// SellShares swaps outcome shares back to collateral.
// POST /api/pools/{id}/sell
func (h *PoolHandler) SellShares(w http.ResponseWriter, r *http.Request) {
	marketID, req, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}
	trader := common.HexToAddress(req.Trader)
	shares, _ := new(big.Int).SetString(req.Amount, 10)

	minPayout := big.NewInt(0)
	if req.MinReturn != "" {
		m, ok := new(big.Int).SetString(req.MinReturn, 10)
		if !ok || m.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "min_return must be a non-negative decimal integer")
			return
		}
		minPayout = m
	}

	payout, err := h.engine.SellShares(r.Context(), trader, marketID, domain.Outcome(req.Outcome), shares, minPayout)
	if err != nil {
		h.logError(r, "sell shares", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": bigString(payout)})
}

// decodeTrade validates the shared fields of buy and sell requests.
func (h *PoolHandler) decodeTrade(w http.ResponseWriter, r *http.Request) (common.Hash, tradeRequest, bool) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, tradeRequest{}, false
	}
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, tradeRequest{}, false
	}
	if _, err := parseAddress(req.Trader, "trader"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, tradeRequest{}, false
	}
	if !domain.Outcome(req.Outcome).Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be 0 or 1")
		return common.Hash{}, tradeRequest{}, false
	}
	if _, err := parseAmount(req.Amount, "amount"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, tradeRequest{}, false
	}
	return marketID, req, true
}

type liquidityRequest struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
}

// AddLiquidity deposits collateral into the pool in return for LP tokens.
// POST /api/pools/{id}/liquidity
func (h *PoolHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req liquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := parseAddress(req.Provider, "provider")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	minted, err := h.engine.AddLiquidity(r.Context(), provider, marketID, amount)
	if err != nil {
		h.logError(r, "add liquidity", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lp_tokens_minted": bigString(minted)})
}

// RemoveLiquidity burns LP tokens for a proportional share of both reserves.
// DELETE /api/pools/{id}/liquidity
func (h *PoolHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req liquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := parseAddress(req.Provider, "provider")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lpTokens, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	yesOut, noOut, err := h.engine.RemoveLiquidity(r.Context(), provider, marketID, lpTokens)
	if err != nil {
		h.logError(r, "remove liquidity", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"yes_amount": bigString(yesOut),
		"no_amount":  bigString(noOut),
	})
}

// GetPool returns the current reserves, liquidity, and odds.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.engine.PoolState(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get pool state", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetOdds returns the implied odds in basis points.
// GET /api/pools/{id}/odds
func (h *PoolHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	yes, no, err := h.engine.Odds(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get odds", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"yes_odds": yes, "no_odds": no})
}

// GetPrices returns the fee-adjusted share prices.
// GET /api/pools/{id}/prices
func (h *PoolHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prices, err := h.engine.CurrentPrices(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get prices", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// GetShareBalance returns one user's share balance for an outcome.
// GET /api/pools/{id}/shares/{user}?outcome=yes
func (h *PoolHandler) GetShareBalance(w http.ResponseWriter, r *http.Request) {
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
	outcome, err := parseOutcome(r.URL.Query().Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.engine.ShareBalance(r.Context(), marketID, user, outcome)
	if err != nil {
		h.logError(r, "get share balance", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": bigString(balance)})
}

// GetLPBalance returns one provider's LP token balance.
// GET /api/pools/{id}/lp/{provider}
func (h *PoolHandler) GetLPBalance(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := parseAddress(r.PathValue("provider"), "provider")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.engine.LPBalance(r.Context(), marketID, provider)
	if err != nil {
		h.logError(r, "get lp balance", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": bigString(balance)})
}

func (h *PoolHandler) logError(r *http.Request, op string, marketID common.Hash, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("market_id", marketID.Hex()),
		slog.String("error", err.Error()),
	)
}
