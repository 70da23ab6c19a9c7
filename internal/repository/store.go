package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrReadOnly  = errors.New("write attempted in read-only transaction")
)

// Store is the settlement substrate. Atomic runs fn as one indivisible unit:
// every entity and ledger mutation made through tx commits together, or none
// does when fn returns an error. Concurrent units touching the same entity are
// serialized.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the entity and ledger view available inside a unit of work.
// Getters return copies; callers persist changes with the Save methods.
type Tx interface {
	Platform() (*model.PlatformState, error)
	CreatePlatform(p *model.PlatformState) error

	Counter() (*model.IDCounter, error)
	SaveCounter(c *model.IDCounter) error

	Vault(owner common.Address) (*model.UserVault, error)
	SaveVault(v *model.UserVault) error

	TradeCall(id uint64) (*model.TradeCall, error)
	CreateTradeCall(c *model.TradeCall) error
	SaveTradeCall(c *model.TradeCall) error
	ListTradeCalls(f model.CallFilter) ([]*model.TradeCall, error)
	MaxTradeCallID() (uint64, error)

	// Ledger
	BalanceOf(account model.Account) (uint64, error)
	Transfer(from, to model.Account, amount uint64, memo string) error
	Mint(to model.Account, amount uint64, memo string) error
	Entries(account model.Account, limit int) ([]model.LedgerEntry, error)
}

func insufficientFunds(account model.Account, have, need uint64) error {
	return apperrors.NewFunds(apperrors.ReasonInsufficientFunds,
		fmt.Sprintf("insufficient funds in %s: have %d, need %d", account, have, need))
}

// applyTransfer computes post-transfer balances, never going negative or overflowing.
func applyTransfer(from model.Account, fromBal, toBal, amount uint64) (uint64, uint64, error) {
	if fromBal < amount {
		return 0, 0, insufficientFunds(from, fromBal, amount)
	}
	credited, err := model.AddUint64(toBal, amount)
	if err != nil {
		return 0, 0, err
	}
	return fromBal - amount, credited, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
