package domain

import "errors"

// Recoverable validation errors for the commit/reveal/claim path. These map
// one-to-one onto the enumerated error codes callers are expected to switch
// on; everything else is a fatal abort wrapped with its package prefix.
var (
	ErrInvalidMarketState = errors.New("market is not in the required state")
	ErrMarketClosed       = errors.New("market closed for new predictions")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDuplicateCommit    = errors.New("user already committed")
	ErrDuplicateReveal    = errors.New("user already revealed")
	ErrNoPrediction       = errors.New("no prediction found")
	ErrAlreadyClaimed     = errors.New("winnings already claimed")
	ErrNotWinner          = errors.New("user did not predict the winning outcome")
	ErrInvalidReveal      = errors.New("revealed data does not match commitment hash")
	ErrNotResolved        = errors.New("market not resolved")
)

// Infrastructure errors shared across store and cache implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrUnauthorized = errors.New("unauthorized")
)
