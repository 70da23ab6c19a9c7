package model

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

// UserVault is a participant's balance on the platform. Deposited and reserved
// amounts are disjoint; the vault's ledger account holds their sum.
type UserVault struct {
	Owner            common.Address `json:"owner"`
	DepositedBalance uint64         `json:"deposited_balance"`
	ReservedFee      uint64         `json:"reserved_fee"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func NewUserVault(owner common.Address, now time.Time) *UserVault {
	return &UserVault{Owner: owner, CreatedAt: now, UpdatedAt: now}
}

// Total is the amount the vault's ledger account must hold.
func (v *UserVault) Total() uint64 {
	return v.DepositedBalance + v.ReservedFee
}

func (v *UserVault) Deposit(amount uint64) error {
	next, err := AddUint64(v.DepositedBalance, amount)
	if err != nil {
		return err
	}
	if _, err := AddUint64(next, v.ReservedFee); err != nil {
		return err
	}
	v.DepositedBalance = next
	return nil
}

func (v *UserVault) ReserveFee(amount uint64) error {
	if v.DepositedBalance < amount {
		return apperrors.NewFunds(apperrors.ReasonInsufficientDeposit,
			fmt.Sprintf("insufficient deposit to reserve fee: have %d, need %d", v.DepositedBalance, amount))
	}
	v.DepositedBalance -= amount
	v.ReservedFee += amount
	return nil
}

// ReleaseReserved moves up to amount of the reserved fee back into the
// deposited balance and returns how much moved.
func (v *UserVault) ReleaseReserved(amount uint64) uint64 {
	if amount > v.ReservedFee {
		amount = v.ReservedFee
	}
	v.ReservedFee -= amount
	v.DepositedBalance += amount
	return amount
}

// ReleaseReservedToBalance moves the whole reserved fee back into the deposited balance.
func (v *UserVault) ReleaseReservedToBalance() uint64 {
	return v.ReleaseReserved(v.ReservedFee)
}

// ClearReserved zeroes the reserved fee and returns the amount that was held.
// The caller is responsible for moving those units out of the vault account.
func (v *UserVault) ClearReserved() uint64 {
	held := v.ReservedFee
	v.ReservedFee = 0
	return held
}

func (v *UserVault) Withdraw(amount uint64) error {
	if v.DepositedBalance < amount {
		return apperrors.NewFunds(apperrors.ReasonInsufficientDeposit,
			fmt.Sprintf("insufficient deposit to withdraw: have %d, need %d", v.DepositedBalance, amount))
	}
	v.DepositedBalance -= amount
	return nil
}

func (v *UserVault) Clone() *UserVault {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
