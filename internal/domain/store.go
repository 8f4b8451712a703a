package domain

import "context"

// Store namespaces. Each engine writes exclusively inside its own namespace;
// no two components touch the same record.
const (
	NamespaceAMM    = "amm"
	NamespaceMarket = "market"
	NamespaceOracle = "oracle"
)

// KV is the transactional view handed to StateStore callbacks. Get returns
// ErrNotFound when the key is absent.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}

// StateStore is the durable key-value store backing one engine instance.
// Update is all-or-nothing: if fn returns an error, no write performed inside
// it survives. View must not write.
type StateStore interface {
	View(ctx context.Context, fn func(kv KV) error) error
	Update(ctx context.Context, fn func(kv KV) error) error
}
