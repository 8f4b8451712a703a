package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// StateStore implements domain.StateStore on a single namespaced table. Each
// engine gets its own namespace so no two components ever touch the same
// rows. Update wraps the callback in a serializable transaction, giving the
// all-or-nothing guarantee the engines rely on.
type StateStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewStateStore creates a state store scoped to one namespace.
func NewStateStore(pool *pgxpool.Pool, namespace string) *StateStore {
	return &StateStore{pool: pool, namespace: namespace}
}

var _ domain.StateStore = (*StateStore)(nil)

// View runs fn against a read-only transaction.
func (s *StateStore) View(ctx context.Context, fn func(kv domain.KV) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txKV{tx: tx, namespace: s.namespace}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn against a serializable transaction; any error from fn rolls
// every write back.
func (s *StateStore) Update(ctx context.Context, fn func(kv domain.KV) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txKV{tx: tx, namespace: s.namespace}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// txKV adapts one pgx transaction to the domain.KV interface.
type txKV struct {
	tx        pgx.Tx
	namespace string
}

func (kv *txKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := kv.tx.QueryRow(ctx,
		"SELECT v FROM settlement_state WHERE namespace = $1 AND k = $2",
		kv.namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, nil
}

func (kv *txKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := kv.tx.Exec(ctx, `
		INSERT INTO settlement_state (namespace, k, v, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, k)
		DO UPDATE SET v = EXCLUDED.v, updated_at = NOW()`,
		kv.namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
	}
	return nil
}

func (kv *txKV) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := kv.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM settlement_state WHERE namespace = $1 AND k = $2)",
		kv.namespace, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has %q: %w", key, err)
	}
	return exists, nil
}

func (kv *txKV) Remove(ctx context.Context, key string) error {
	_, err := kv.tx.Exec(ctx,
		"DELETE FROM settlement_state WHERE namespace = $1 AND k = $2",
		kv.namespace, key,
	)
	if err != nil {
		return fmt.Errorf("postgres: remove %q: %w", key, err)
	}
	return nil
}
