package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/market"
	"github.com/alanyoungcy/marketsettle/internal/oracle"
	"github.com/alanyoungcy/marketsettle/internal/pool"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors to HTTP status codes. Unknown errors
// become a generic 500 so internal details never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, domain.ErrNoPrediction),
		errors.Is(err, oracle.ErrMarketNotRegistered),
		errors.Is(err, oracle.ErrNoAttestation),
		errors.Is(err, oracle.ErrNoChallenge):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "operation in progress, retry")
	case errors.Is(err, pool.ErrPoolExists),
		errors.Is(err, market.ErrMarketExists),
		errors.Is(err, domain.ErrDuplicateCommit),
		errors.Is(err, domain.ErrDuplicateReveal),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, oracle.ErrOracleExists),
		errors.Is(err, oracle.ErrMarketExists),
		errors.Is(err, oracle.ErrDuplicateVote),
		errors.Is(err, oracle.ErrDuplicateChallenge),
		errors.Is(err, oracle.ErrChallengeResolved),
		errors.Is(err, oracle.ErrAlreadyFinalized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidMarketState),
		errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidReveal),
		errors.Is(err, domain.ErrNotResolved),
		errors.Is(err, domain.ErrNotWinner),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidOutcome),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrSlippageExceeded),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrInsufficientLPTokens),
		errors.Is(err, pool.ErrLiquidityCapExceeded),
		errors.Is(err, pool.ErrAmountTooSmall),
		errors.Is(err, market.ErrDisputeWindow),
		errors.Is(err, market.ErrNoWinnerShares),
		errors.Is(err, oracle.ErrOracleNotRegistered),
		errors.Is(err, oracle.ErrOracleLimitReached),
		errors.Is(err, oracle.ErrAttestationEarly),
		errors.Is(err, oracle.ErrInvalidOutcome),
		errors.Is(err, oracle.ErrActiveChallenge),
		errors.Is(err, oracle.ErrConsensusNotReached),
		errors.Is(err, oracle.ErrFinalizeEarly):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody parses the request body as JSON into dst, rejecting unknown
// fields so client typos surface as 400s rather than silent zero values.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathHash extracts a named path parameter and parses it as a 32-byte hash.
func pathHash(r *http.Request, name string) (common.Hash, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return common.Hash{}, fmt.Errorf("missing %s", name)
	}
	if len(common.FromHex(raw)) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s must be a 32-byte hex value", name)
	}
	return common.HexToHash(raw), nil
}

// parseAddress validates and parses a hex account address.
func parseAddress(raw, field string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount parses a positive integer amount from its decimal string form.
func parseAmount(raw, field string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal integer", field)
	}
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return n, nil
}

// parseOutcome parses an outcome side. Accepts 0/1 and the yes/no aliases.
func parseOutcome(raw string) (domain.Outcome, error) {
	switch raw {
	case "0", "no", "NO":
		return domain.OutcomeNo, nil
	case "1", "yes", "YES":
		return domain.OutcomeYes, nil
	default:
		return 0, fmt.Errorf("outcome must be 0, 1, yes, or no")
	}
}

// bigString renders a big.Int for JSON responses; nil becomes "0".
func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
