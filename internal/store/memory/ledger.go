package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Ledger is an in-memory domain.AssetLedger. Balances start at zero; tests
// seed accounts with Mint.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// Mint credits amount to account. Test helper.
func (l *Ledger) Mint(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.balances[account]
	if !ok {
		cur = big.NewInt(0)
	}
	l.balances[account] = new(big.Int).Add(cur, amount)
}

// Transfer moves amount from one account to another. It fails on a
// non-positive amount or insufficient balance and changes nothing on failure.
func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: transfer amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal, ok := l.balances[from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("memory: insufficient balance for %s", from.Hex())
	}

	toBal, ok := l.balances[to]
	if !ok {
		toBal = big.NewInt(0)
	}
	l.balances[from] = new(big.Int).Sub(fromBal, amount)
	l.balances[to] = new(big.Int).Add(toBal, amount)
	return nil
}

// Balance returns the current balance of account (zero when unknown).
func (l *Ledger) Balance(_ context.Context, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[account]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

var _ domain.AssetLedger = (*Ledger)(nil)
