package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	now   = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func TestMemoryStoreRollsBackFailedUnit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx Tx) error {
		return tx.Mint(model.WalletAccount(alice), 100, "seed")
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx Tx) error {
		if err := tx.Transfer(model.WalletAccount(alice), model.EscrowAccount(1), 60, "stake"); err != nil {
			return err
		}
		if err := tx.CreateTradeCall(model.NewTradeCall(1, alice, bob, 60, 5, now)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		bal, err := tx.BalanceOf(model.WalletAccount(alice))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), bal)
		_, err = tx.TradeCall(1)
		assert.ErrorIs(t, err, ErrNotFound)
		entries, err := tx.Entries(model.WalletAccount(alice), 10)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "only the mint is recorded")
		return nil
	}))
}

func TestMemoryTransferRules(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wallet := model.WalletAccount(alice)

	err := s.Atomic(ctx, func(tx Tx) error {
		return tx.Transfer(wallet, model.FeeAccount, 1, "fee")
	})
	assert.Equal(t, apperrors.ReasonInsufficientFunds, apperrors.ReasonOf(err))

	require.NoError(t, s.Atomic(ctx, func(tx Tx) error {
		if err := tx.Mint(wallet, 10, "seed"); err != nil {
			return err
		}
		// zero amounts and self transfers are no-ops
		if err := tx.Transfer(wallet, model.FeeAccount, 0, "noop"); err != nil {
			return err
		}
		if err := tx.Transfer(wallet, wallet, 5, "noop"); err != nil {
			return err
		}
		return tx.Transfer(wallet, model.FeeAccount, 4, "fee")
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		bal, _ := tx.BalanceOf(wallet)
		fees, _ := tx.BalanceOf(model.FeeAccount)
		assert.Equal(t, uint64(6), bal)
		assert.Equal(t, uint64(4), fees)

		entries, err := tx.Entries(wallet, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "fee", entries[0].Memo, "newest first")
		assert.Equal(t, model.Account(""), entries[1].From, "mint has no source")
		return nil
	}))
}

func TestMemoryViewIsReadOnly(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(tx Tx) error {
		return tx.Mint(model.WalletAccount(alice), 1, "nope")
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryListTradeCalls(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx Tx) error {
		for id := uint64(1); id <= 4; id++ {
			c := model.NewTradeCall(id, alice, bob, 10, 1, now)
			if id%2 == 0 {
				c.Followers = append(c.Followers, bob)
			}
			if err := tx.CreateTradeCall(c); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.Atomic(ctx, func(tx Tx) error {
		return tx.CreateTradeCall(model.NewTradeCall(2, alice, bob, 10, 1, now))
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		all, err := tx.ListTradeCalls(model.CallFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, uint64(4), all[0].ID)

		followed, err := tx.ListTradeCalls(model.CallFilter{Follower: &bob})
		require.NoError(t, err)
		require.Len(t, followed, 2)
		assert.Equal(t, []uint64{4, 2}, []uint64{followed[0].ID, followed[1].ID})

		page, err := tx.ListTradeCalls(model.CallFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(3), page[0].ID)

		highest, err := tx.MaxTradeCallID()
		require.NoError(t, err)
		assert.Equal(t, uint64(4), highest)
		return nil
	}))
}

func TestIdempotencyRecordEncoding(t *testing.T) {
	raw := encodeIdemRecord(middleware.IdempotencyRecord{Status: 201, Body: []byte(`{"id":1}`), CreatedAt: now})
	rec, err := decodeIdemRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"id":1}`, string(rec.Body))
	assert.False(t, rec.Processing)
}
