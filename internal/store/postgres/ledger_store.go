package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

var ErrInsufficientBalance = errors.New("postgres: insufficient balance")

// Ledger implements domain.AssetLedger on the wallets table. Every transfer
// is a single transaction with a balance-guarded debit, so a failed transfer
// leaves both accounts untouched.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

var _ domain.AssetLedger = (*Ledger)(nil)

// Transfer moves amount from one account to another. Fails when amount is
// not positive or the source balance is insufficient.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: transfer: amount must be positive")
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: transfer: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE account = $1 AND balance >= $2::numeric`,
		from.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: transfer: debit %s: %w", from.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer %s -> %s: %w", from.Hex(), to.Hex(), ErrInsufficientBalance)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (account, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (account)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`,
		to.Hex(), amount.String(),
	); err != nil {
		return fmt.Errorf("postgres: transfer: credit %s: %w", to.Hex(), err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO transfers (from_account, to_account, amount) VALUES ($1, $2, $3::numeric)",
		from.Hex(), to.Hex(), amount.String(),
	); err != nil {
		return fmt.Errorf("postgres: transfer: journal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: transfer: commit: %w", err)
	}
	return nil
}

// Balance returns an account's balance, zero for unknown accounts.
func (l *Ledger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var raw string
	err := l.pool.QueryRow(ctx,
		"SELECT balance::text FROM wallets WHERE account = $1",
		account.Hex(),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: balance %s: %w", account.Hex(), err)
	}

	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: balance %s: corrupt value %q", account.Hex(), raw)
	}
	return balance, nil
}

// Deposit credits an account directly. Operational tooling only; engine code
// moves funds exclusively through Transfer.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: deposit: amount must be positive")
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO wallets (account, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (account)
		DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`,
		account.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: deposit %s: %w", account.Hex(), err)
	}
	return nil
}
