package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

func TestStateStoreUpdateCommits(t *testing.T) {
	s := NewStateStore()
	ctx := context.Background()

	err := s.Update(ctx, func(kv domain.KV) error {
		require.NoError(t, kv.Set(ctx, "a", []byte("1")))
		require.NoError(t, kv.Set(ctx, "b", []byte("2")))
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(kv domain.KV) error {
		v, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		ok, err := kv.Has(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestStateStoreUpdateRollsBackOnError(t *testing.T) {
	s := NewStateStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(kv domain.KV) error {
		return kv.Set(ctx, "keep", []byte("v"))
	}))

	boom := errors.New("boom")
	err := s.Update(ctx, func(kv domain.KV) error {
		require.NoError(t, kv.Set(ctx, "staged", []byte("x")))
		require.NoError(t, kv.Remove(ctx, "keep"))

		// The staged view sees its own writes before the callback fails.
		v, err := kv.Get(ctx, "staged")
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), v)

		_, err = kv.Get(ctx, "keep")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(kv domain.KV) error {
		_, err := kv.Get(ctx, "staged")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		v, err := kv.Get(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestStateStoreRemoveThenSet(t *testing.T) {
	s := NewStateStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(kv domain.KV) error {
		return kv.Set(ctx, "k", []byte("old"))
	}))

	require.NoError(t, s.Update(ctx, func(kv domain.KV) error {
		require.NoError(t, kv.Remove(ctx, "k"))
		return kv.Set(ctx, "k", []byte("new"))
	}))

	err := s.View(ctx, func(kv domain.KV) error {
		v, err := kv.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestViewRejectsWrites(t *testing.T) {
	s := NewStateStore()
	ctx := context.Background()

	err := s.View(ctx, func(kv domain.KV) error {
		return kv.Set(ctx, "k", []byte("v"))
	})
	assert.Error(t, err)
}

func TestLedgerTransfer(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	l.Mint(alice, big.NewInt(100))

	require.NoError(t, l.Transfer(ctx, alice, bob, big.NewInt(40)))

	aBal, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(60), aBal.Int64())

	bBal, err := l.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bBal.Int64())
}

func TestLedgerTransferInsufficientBalance(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	l.Mint(alice, big.NewInt(10))

	err := l.Transfer(ctx, alice, bob, big.NewInt(11))
	assert.Error(t, err)

	aBal, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), aBal.Int64())
}

func TestLedgerTransferRejectsNonPositive(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	alice := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	assert.Error(t, l.Transfer(ctx, alice, bob, big.NewInt(0)))
	assert.Error(t, l.Transfer(ctx, alice, bob, nil))
}
