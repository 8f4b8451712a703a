package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger is the external fungible-asset ledger the engines escrow
// against. Transfer fails on insufficient balance or a non-positive amount.
// Engines call Transfer inside their storage transaction so a failed transfer
// aborts the whole operation.
type AssetLedger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}
