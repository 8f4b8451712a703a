package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// OracleManager defines the methods the oracle handler requires from the
// attestation manager.
type OracleManager interface {
	RegisterOracle(ctx context.Context, caller, oracle common.Address, name string) error
	RegisterMarket(ctx context.Context, caller common.Address, marketID common.Hash, resolutionTime int64) error
	SubmitAttestation(ctx context.Context, oracle common.Address, marketID common.Hash, outcome domain.Outcome) error
	ChallengeAttestation(ctx context.Context, challenger, oracle common.Address, marketID common.Hash, reason string) error
	ResolveChallenge(ctx context.Context, caller, oracle common.Address, marketID common.Hash, valid bool) error
	FinalizeResolution(ctx context.Context, marketID common.Hash) error
	CheckConsensus(ctx context.Context, marketID common.Hash) (bool, domain.Outcome, error)

	Oracle(ctx context.Context, oracle common.Address) (domain.OracleRecord, error)
	OracleCount(ctx context.Context) (int, error)
	ResolutionTime(ctx context.Context, marketID common.Hash) (int64, error)
	RewardBalance(ctx context.Context, account common.Address) (*big.Int, error)
	Votes(ctx context.Context, marketID common.Hash) (yesVotes, noVotes int, err error)
	Voters(ctx context.Context, marketID common.Hash) ([]common.Address, error)
	AttestationOf(ctx context.Context, marketID common.Hash, oracle common.Address) (domain.Attestation, error)
	ChallengeOf(ctx context.Context, marketID common.Hash, oracle common.Address) (domain.Challenge, error)
	Finalized(ctx context.Context, marketID common.Hash) (bool, domain.Outcome, error)
}

// OracleHandler serves oracle registry and attestation HTTP endpoints.
type OracleHandler struct {
	manager OracleManager
	logger  *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given manager and logger.
func NewOracleHandler(manager OracleManager, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{manager: manager, logger: logger}
}

type registerOracleRequest struct {
	Caller string `json:"caller"`
	Oracle string `json:"oracle"`
	Name   string `json:"name"`
}

// RegisterOracle stakes and admits a new oracle.
// POST /api/oracles
func (h *OracleHandler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req registerOracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(req.Oracle, "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.RegisterOracle(r.Context(), caller, oracleAddr, req.Name); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: register oracle failed",
			slog.String("oracle", oracleAddr.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"oracle": oracleAddr.Hex()})
}

type registerOracleMarketRequest struct {
	Caller         string `json:"caller"`
	ResolutionTime int64  `json:"resolution_time"`
}

// RegisterMarket opens a market for attestations.
// POST /api/oracles/markets/{id}
func (h *OracleHandler) RegisterMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req registerOracleMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.RegisterMarket(r.Context(), caller, marketID, req.ResolutionTime); err != nil {
		h.logError(r, "register oracle market", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": marketID.Hex()})
}

type attestationRequest struct {
	Oracle  string `json:"oracle"`
	Outcome uint32 `json:"outcome"`
}

// SubmitAttestation records one oracle's vote on a market outcome.
// POST /api/oracles/markets/{id}/attest
func (h *OracleHandler) SubmitAttestation(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req attestationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(req.Oracle, "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !domain.Outcome(req.Outcome).Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be 0 or 1")
		return
	}

	if err := h.manager.SubmitAttestation(r.Context(), oracleAddr, marketID, domain.Outcome(req.Outcome)); err != nil {
		h.logError(r, "submit attestation", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attested"})
}

type challengeRequest struct {
	Challenger string `json:"challenger"`
	Oracle     string `json:"oracle"`
	Reason     string `json:"reason"`
}

// ChallengeAttestation stakes a challenge against an oracle's vote.
// POST /api/oracles/markets/{id}/challenge
func (h *OracleHandler) ChallengeAttestation(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req challengeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	challenger, err := parseAddress(req.Challenger, "challenger")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(req.Oracle, "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.ChallengeAttestation(r.Context(), challenger, oracleAddr, marketID, req.Reason); err != nil {
		h.logError(r, "challenge attestation", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "challenged"})
}

type resolveChallengeRequest struct {
	Caller string `json:"caller"`
	Oracle string `json:"oracle"`
	Valid  bool   `json:"valid"`
}

// ResolveChallenge settles a pending challenge (admin only at the engine
// level).
// POST /api/oracles/markets/{id}/challenge/resolve
func (h *OracleHandler) ResolveChallenge(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resolveChallengeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(req.Oracle, "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.ResolveChallenge(r.Context(), caller, oracleAddr, marketID, req.Valid); err != nil {
		h.logError(r, "resolve challenge", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// FinalizeResolution locks in the consensus outcome and resolves the market.
// POST /api/oracles/markets/{id}/finalize
func (h *OracleHandler) FinalizeResolution(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.FinalizeResolution(r.Context(), marketID); err != nil {
		h.logError(r, "finalize resolution", marketID, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

// GetOracle returns one oracle's registration record.
// GET /api/oracles/{oracle}
func (h *OracleHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	oracleAddr, err := parseAddress(r.PathValue("oracle"), "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.manager.Oracle(r.Context(), oracleAddr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRewards returns an account's accumulated arbitration winnings.
// GET /api/oracles/{oracle}/rewards
func (h *OracleHandler) GetRewards(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r.PathValue("oracle"), "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := h.manager.RewardBalance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rewards": bigString(total)})
}

// GetOracleCount returns the number of registered oracles.
// GET /api/oracles
func (h *OracleHandler) GetOracleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.manager.OracleCount(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// voteSummary aggregates the attestation state of one market.
type voteSummary struct {
	ResolutionTime int64            `json:"resolution_time"`
	YesVotes       int              `json:"yes_votes"`
	NoVotes        int              `json:"no_votes"`
	Voters         []common.Address `json:"voters"`
	Consensus      bool             `json:"consensus"`
	Outcome        *domain.Outcome  `json:"outcome,omitempty"`
	Finalized      bool             `json:"finalized"`
}

// GetVotes returns the tally, voters, and consensus state for a market.
// GET /api/oracles/markets/{id}/votes
func (h *OracleHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	yes, no, err := h.manager.Votes(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get votes", marketID, err)
		writeDomainError(w, err)
		return
	}
	voters, err := h.manager.Voters(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get voters", marketID, err)
		writeDomainError(w, err)
		return
	}
	reached, outcome, err := h.manager.CheckConsensus(r.Context(), marketID)
	if err != nil {
		h.logError(r, "check consensus", marketID, err)
		writeDomainError(w, err)
		return
	}
	finalized, _, err := h.manager.Finalized(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get finalized", marketID, err)
		writeDomainError(w, err)
		return
	}

	resolutionTime, err := h.manager.ResolutionTime(r.Context(), marketID)
	if err != nil {
		h.logError(r, "get resolution time", marketID, err)
		writeDomainError(w, err)
		return
	}

	summary := voteSummary{
		ResolutionTime: resolutionTime,
		YesVotes:       yes,
		NoVotes:        no,
		Voters:         voters,
		Consensus:      reached,
		Finalized:      finalized,
	}
	if reached {
		summary.Outcome = &outcome
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetAttestation returns one oracle's vote on a market.
// GET /api/oracles/markets/{id}/attestations/{oracle}
func (h *OracleHandler) GetAttestation(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(r.PathValue("oracle"), "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	att, err := h.manager.AttestationOf(r.Context(), marketID, oracleAddr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

// GetChallenge returns the challenge against one oracle's vote, if any.
// GET /api/oracles/markets/{id}/challenges/{oracle}
func (h *OracleHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	oracleAddr, err := parseAddress(r.PathValue("oracle"), "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch, err := h.manager.ChallengeOf(r.Context(), marketID, oracleAddr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *OracleHandler) logError(r *http.Request, op string, marketID common.Hash, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("market_id", marketID.Hex()),
		slog.String("error", err.Error()),
	)
}
