package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// Numbers are persisted as decimal strings and records as JSON so that every
// stored value is directly inspectable in the backing store.

// PutBig stores a big integer under key as its decimal string form.
func PutBig(ctx context.Context, kv KV, key string, v *big.Int) error {
	return kv.Set(ctx, key, []byte(v.String()))
}

// GetBig loads a big integer stored by PutBig. Missing keys return
// ErrNotFound.
func GetBig(ctx context.Context, kv KV, key string) (*big.Int, error) {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("domain: corrupt integer at %q", key)
	}
	return v, nil
}

// GetBigOrZero is GetBig with a zero default for missing keys.
func GetBigOrZero(ctx context.Context, kv KV, key string) (*big.Int, error) {
	v, err := GetBig(ctx, kv, key)
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	return v, err
}

// PutJSON stores v under key as JSON.
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("domain: encode %q: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}

// GetJSON loads a record stored by PutJSON into out. Missing keys return
// ErrNotFound.
func GetJSON(ctx context.Context, kv KV, key string, out any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("domain: decode %q: %w", key, err)
	}
	return nil
}
