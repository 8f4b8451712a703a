package pool

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

func setBig(ctx context.Context, kv domain.KV, key string, v *big.Int) error {
	return domain.PutBig(ctx, kv, key, v)
}

func getBigOrZero(ctx context.Context, kv domain.KV, key string) (*big.Int, error) {
	return domain.GetBigOrZero(ctx, kv, key)
}
