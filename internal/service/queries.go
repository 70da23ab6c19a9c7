package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/repository"
	"github.com/ethereum/go-ethereum/common"
)

func (e *SettlementEngine) view(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := e.store.View(ctx, fn); err != nil {
		return apperrors.Wrap(err)
	}
	return nil
}

func (e *SettlementEngine) GetPlatform(ctx context.Context) (*model.PlatformView, error) {
	out := &model.PlatformView{FollowFee: e.opts.FollowFee}
	err := e.view(ctx, func(tx repository.Tx) error {
		p, err := tx.Platform()
		switch {
		case err == nil:
			admin := p.Admin
			out.Initialized = true
			out.Admin = &admin
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		c, err := tx.Counter()
		switch {
		case err == nil:
			out.NextCallID = c.Value
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		out.FeeBalance, err = tx.BalanceOf(model.FeeAccount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *SettlementEngine) GetTradeCall(ctx context.Context, id uint64) (*model.TradeCall, error) {
	var call *model.TradeCall
	err := e.view(ctx, func(tx repository.Tx) error {
		var err error
		call, err = loadCall(tx, id)
		return err
	})
	return call, err
}

func (e *SettlementEngine) ListTradeCalls(ctx context.Context, f model.CallFilter) ([]*model.TradeCall, error) {
	var calls []*model.TradeCall
	err := e.view(ctx, func(tx repository.Tx) error {
		var err error
		calls, err = tx.ListTradeCalls(f)
		return err
	})
	return calls, err
}

func (e *SettlementEngine) GetVault(ctx context.Context, owner common.Address) (*model.UserVault, error) {
	var vault *model.UserVault
	err := e.view(ctx, func(tx repository.Tx) error {
		v, err := tx.Vault(owner)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound(fmt.Sprintf("vault for %s not found", owner.Hex()))
		}
		vault = v
		return err
	})
	return vault, err
}

// GetAccount returns a ledger account's balance and its most recent journal entries.
func (e *SettlementEngine) GetAccount(ctx context.Context, account model.Account, limit int) (*model.AccountView, error) {
	out := &model.AccountView{Name: account}
	err := e.view(ctx, func(tx repository.Tx) error {
		var err error
		if out.Balance, err = tx.BalanceOf(account); err != nil {
			return err
		}
		out.Entries, err = tx.Entries(account, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Display = model.FormatUnits(out.Balance, e.opts.UnitDecimals)
	return out, nil
}
