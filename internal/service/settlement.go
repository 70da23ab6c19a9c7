package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/GoPolymarket/credcalls/internal/pkg/metrics"
	"github.com/GoPolymarket/credcalls/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Clock supplies transition timestamps.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RefundPolicy selects whose reserved fee is released when a call fails.
type RefundPolicy string

const (
	// RefundFollowers releases each follower's fee for the failed call.
	RefundFollowers RefundPolicy = "followers"
	// RefundAdmin releases the resolving admin's whole reserved fee.
	RefundAdmin RefundPolicy = "admin"
)

type EngineOptions struct {
	FollowFee    uint64
	MaxFollowers int
	MaxClaimed   int
	Refund       RefundPolicy
	UnitDecimals int32
	// PinnedAdmin, when set, is the only identity allowed to initialize the platform.
	PinnedAdmin *common.Address
	Clock       Clock
	Publisher   events.Publisher
}

// SettlementEngine applies the trade-call state machine. Every operation runs
// in exactly one store unit, so its entity and ledger effects commit together.
type SettlementEngine struct {
	store repository.Store
	opts  EngineOptions
}

func NewSettlementEngine(store repository.Store, opts EngineOptions) *SettlementEngine {
	if opts.MaxFollowers <= 0 {
		opts.MaxFollowers = 50
	}
	if opts.MaxClaimed < opts.MaxFollowers {
		opts.MaxClaimed = opts.MaxFollowers
	}
	if opts.Refund == "" {
		opts.Refund = RefundFollowers
	}
	if opts.UnitDecimals <= 0 {
		opts.UnitDecimals = 9
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &SettlementEngine{store: store, opts: opts}
}

func (e *SettlementEngine) FollowFee() uint64 { return e.opts.FollowFee }

// atomic runs fn as one unit and records the outcome.
func (e *SettlementEngine) atomic(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	start := time.Now()
	err := e.store.Atomic(ctx, fn)
	metrics.ObserveOp(op, err)
	metrics.LatencyBucket.WithLabelValues("engine." + op).Observe(time.Since(start).Seconds())
	if err != nil {
		if t := apperrors.TypeOf(err); t == "" || t == apperrors.ErrInternal {
			logger.LogError(ctx, err, "settlement operation failed", "op", op)
		} else {
			logger.FromContext(ctx).Debug("settlement operation rejected", "op", op, "reason", apperrors.ReasonOf(err))
		}
		return apperrors.Wrap(err)
	}
	return nil
}

func (e *SettlementEngine) publish(ctx context.Context, t model.EventType, callID uint64, actor common.Address, amount uint64) {
	e.opts.Publisher.Publish(ctx, model.Event{
		ID:     uuid.New().String(),
		Type:   t,
		CallID: callID,
		Actor:  actor,
		Amount: amount,
		At:     e.opts.Clock.Now(),
	})
}

func requirePlatform(tx repository.Tx) (*model.PlatformState, error) {
	p, err := tx.Platform()
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewState(apperrors.ReasonPlatformNotInitialized, "platform is not initialized")
	}
	return p, err
}

// requireAdminIfInitialized lets anyone through before the platform exists.
func requireAdminIfInitialized(tx repository.Tx, caller common.Address) error {
	p, err := tx.Platform()
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !p.IsAdmin(caller) {
		return apperrors.NewAuthorization("only the platform admin can manage the id counter")
	}
	return nil
}

func loadCall(tx repository.Tx, id uint64) (*model.TradeCall, error) {
	call, err := tx.TradeCall(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound(fmt.Sprintf("trade call %d not found", id))
	}
	return call, err
}

// vaultOrNew returns the owner's vault, or a fresh unsaved one.
func (e *SettlementEngine) vaultOrNew(tx repository.Tx, owner common.Address) (*model.UserVault, bool, error) {
	v, err := tx.Vault(owner)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserVault(owner, e.opts.Clock.Now()), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func checkEscrow(tx repository.Tx, call *model.TradeCall, need uint64) error {
	have, err := tx.BalanceOf(model.EscrowAccount(call.ID))
	if err != nil {
		return err
	}
	if have < need {
		return apperrors.NewFunds(apperrors.ReasonInsufficientEscrow,
			fmt.Sprintf("escrow of trade call %d holds %d, need %d", call.ID, have, need))
	}
	return nil
}

func (e *SettlementEngine) InitializePlatform(ctx context.Context, caller common.Address) (*model.PlatformState, error) {
	if e.opts.PinnedAdmin != nil && *e.opts.PinnedAdmin != caller {
		return nil, apperrors.NewAuthorization("only the configured admin can initialize the platform")
	}
	var state *model.PlatformState
	err := e.atomic(ctx, "initialize_platform", func(tx repository.Tx) error {
		state = &model.PlatformState{Admin: caller, InitializedAt: e.opts.Clock.Now()}
		err := tx.CreatePlatform(state)
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.NewState(apperrors.ReasonAlreadyInitialized, "platform already initialized")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("platform initialized", "admin", caller.Hex())
	e.publish(ctx, model.EventPlatformInitialized, 0, caller, 0)
	return state, nil
}

func (e *SettlementEngine) InitializeIDCounter(ctx context.Context, caller common.Address) (*model.IDCounter, error) {
	counter := model.NewIDCounter()
	err := e.atomic(ctx, "initialize_id_counter", func(tx repository.Tx) error {
		if err := requireAdminIfInitialized(tx, caller); err != nil {
			return err
		}
		_, err := tx.Counter()
		if err == nil {
			return apperrors.NewState(apperrors.ReasonAlreadyInitialized, "id counter already initialized")
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return tx.SaveCounter(counter)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, model.EventCounterInitialized, 0, caller, counter.Value)
	return counter, nil
}

// ResetIDCounter points the counter just past the highest issued id, creating
// it when absent. Ids are never handed out twice.
func (e *SettlementEngine) ResetIDCounter(ctx context.Context, caller common.Address) (*model.IDCounter, error) {
	var counter *model.IDCounter
	err := e.atomic(ctx, "reset_id_counter", func(tx repository.Tx) error {
		if err := requireAdminIfInitialized(tx, caller); err != nil {
			return err
		}
		highest, err := tx.MaxTradeCallID()
		if err != nil {
			return err
		}
		next, err := model.AddUint64(highest, 1)
		if err != nil {
			return err
		}
		counter = &model.IDCounter{Value: next}
		return tx.SaveCounter(counter)
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("id counter reset", "next", counter.Value)
	e.publish(ctx, model.EventCounterReset, 0, caller, counter.Value)
	return counter, nil
}

// CreateUserVault returns the owner's vault, creating an empty one if needed.
func (e *SettlementEngine) CreateUserVault(ctx context.Context, owner common.Address) (*model.UserVault, error) {
	var (
		vault   *model.UserVault
		created bool
	)
	err := e.atomic(ctx, "create_user_vault", func(tx repository.Tx) error {
		v, exists, err := e.vaultOrNew(tx, owner)
		if err != nil {
			return err
		}
		vault, created = v, !exists
		if exists {
			return nil
		}
		return tx.SaveVault(v)
	})
	if err != nil {
		return nil, err
	}
	if created {
		e.publish(ctx, model.EventVaultCreated, 0, owner, 0)
	}
	return vault, nil
}

func (e *SettlementEngine) DepositToVault(ctx context.Context, owner common.Address, amount uint64) (*model.UserVault, error) {
	if amount == 0 {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidAmount, "deposit amount must be positive")
	}
	var vault *model.UserVault
	err := e.atomic(ctx, "deposit_to_vault", func(tx repository.Tx) error {
		v, _, err := e.vaultOrNew(tx, owner)
		if err != nil {
			return err
		}
		if err := v.Deposit(amount); err != nil {
			return err
		}
		if err := tx.Transfer(model.WalletAccount(owner), model.VaultAccount(owner), amount, "vault deposit"); err != nil {
			return err
		}
		v.UpdatedAt = e.opts.Clock.Now()
		vault = v
		return tx.SaveVault(v)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, model.EventVaultDeposited, 0, owner, amount)
	return vault, nil
}

func (e *SettlementEngine) WithdrawFromVault(ctx context.Context, owner common.Address, amount uint64) (*model.UserVault, error) {
	if amount == 0 {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidAmount, "withdraw amount must be positive")
	}
	var vault *model.UserVault
	err := e.atomic(ctx, "withdraw_from_vault", func(tx repository.Tx) error {
		v, _, err := e.vaultOrNew(tx, owner)
		if err != nil {
			return err
		}
		if err := v.Withdraw(amount); err != nil {
			return err
		}
		if err := tx.Transfer(model.VaultAccount(owner), model.WalletAccount(owner), amount, "vault withdrawal"); err != nil {
			return err
		}
		v.UpdatedAt = e.opts.Clock.Now()
		vault = v
		return tx.SaveVault(v)
	})
	if err != nil {
		return nil, err
	}
	metrics.PayoutUnits.WithLabelValues("withdrawal").Add(float64(amount))
	e.publish(ctx, model.EventVaultWithdrawn, 0, owner, amount)
	return vault, nil
}

// CreateTradeCall assigns the next id and stakes the caller's wallet funds into
// the new call's escrow.
func (e *SettlementEngine) CreateTradeCall(ctx context.Context, caller, token common.Address, stake uint64) (*model.TradeCall, error) {
	if stake == 0 {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidAmount, "stake amount must be positive")
	}
	if token == (common.Address{}) {
		return nil, apperrors.NewInvalidRequest("token must be a non-zero address")
	}
	var call *model.TradeCall
	err := e.atomic(ctx, "create_trade_call", func(tx repository.Tx) error {
		counter, err := tx.Counter()
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewState(apperrors.ReasonCounterNotInitialized, "id counter is not initialized")
		}
		if err != nil {
			return err
		}
		id, err := counter.Next()
		if err != nil {
			return err
		}
		if err := tx.SaveCounter(counter); err != nil {
			return err
		}

		call = model.NewTradeCall(id, caller, token, stake, e.opts.FollowFee, e.opts.Clock.Now())
		if err := tx.CreateTradeCall(call); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.NewState(apperrors.ReasonDuplicateID,
					fmt.Sprintf("trade call %d already exists; reset the id counter", id))
			}
			return err
		}
		return tx.Transfer(model.WalletAccount(caller), model.EscrowAccount(id), stake, "trade call stake")
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("trade call created", "id", call.ID, "caller", caller.Hex(), "stake", stake)
	e.publish(ctx, model.EventCallCreated, call.ID, caller, stake)
	return call, nil
}

// FollowTrade reserves the call's follow fee from the follower's vault and adds
// the follower.
func (e *SettlementEngine) FollowTrade(ctx context.Context, follower common.Address, id uint64) (*model.TradeCall, error) {
	var call *model.TradeCall
	err := e.atomic(ctx, "follow_trade", func(tx repository.Tx) error {
		c, err := loadCall(tx, id)
		if err != nil {
			return err
		}
		if err := c.CheckFollow(follower, e.opts.MaxFollowers); err != nil {
			return err
		}
		v, _, err := e.vaultOrNew(tx, follower)
		if err != nil {
			return err
		}
		if err := v.ReserveFee(c.FollowFee); err != nil {
			return err
		}
		if err := c.AddFollower(follower, e.opts.MaxFollowers); err != nil {
			return err
		}
		v.UpdatedAt = e.opts.Clock.Now()
		if err := tx.SaveVault(v); err != nil {
			return err
		}
		call = c
		return tx.SaveTradeCall(c)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, model.EventCallFollowed, id, follower, call.FollowFee)
	return call, nil
}

// ResolveTradeCallSuccess returns the stake to the caller. Half of the
// caller's own reserved fee goes back to the caller's wallet and the rest to
// the platform fee account.
func (e *SettlementEngine) ResolveTradeCallSuccess(ctx context.Context, admin common.Address, id uint64) (*model.TradeCall, error) {
	var (
		call            *model.TradeCall
		feeRefund, kept uint64
	)
	err := e.atomic(ctx, "resolve_success", func(tx repository.Tx) error {
		platform, err := requirePlatform(tx)
		if err != nil {
			return err
		}
		if !platform.IsAdmin(admin) {
			return apperrors.NewAuthorization("only the platform admin can resolve trade calls")
		}
		c, err := loadCall(tx, id)
		if err != nil {
			return err
		}
		if err := c.ResolveSuccess(admin, e.opts.Clock.Now()); err != nil {
			return err
		}
		if err := checkEscrow(tx, c, c.StakedAmount); err != nil {
			return err
		}
		if err := tx.Transfer(model.EscrowAccount(id), model.WalletAccount(c.Caller), c.StakedAmount, "stake returned"); err != nil {
			return err
		}

		feeRefund, kept = 0, 0
		v, err := tx.Vault(c.Caller)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case v.ReservedFee > 0:
			held := v.ClearReserved()
			feeRefund, kept = held/2, held-held/2
			if err := tx.Transfer(model.VaultAccount(c.Caller), model.WalletAccount(c.Caller), feeRefund, "reserved fee refund"); err != nil {
				return err
			}
			if err := tx.Transfer(model.VaultAccount(c.Caller), model.FeeAccount, kept, "reserved fee retained"); err != nil {
				return err
			}
			v.UpdatedAt = e.opts.Clock.Now()
			if err := tx.SaveVault(v); err != nil {
				return err
			}
		}
		call = c
		return tx.SaveTradeCall(c)
	})
	if err != nil {
		return nil, err
	}
	metrics.PayoutUnits.WithLabelValues("caller_stake").Add(float64(call.CallerPayout))
	metrics.PayoutUnits.WithLabelValues("fee_refund").Add(float64(feeRefund))
	metrics.PayoutUnits.WithLabelValues("fee_retained").Add(float64(kept))
	logger.FromContext(ctx).Info("trade call resolved", "id", id, "status", call.Status, "caller_payout", call.CallerPayout)
	e.publish(ctx, model.EventCallSucceeded, id, admin, call.CallerPayout)
	return call, nil
}

// ResolveTradeCallFailureAll fixes each follower's equal share of the stake.
// Shares are paid out by ClaimFollowerShare; the division remainder stays in escrow.
func (e *SettlementEngine) ResolveTradeCallFailureAll(ctx context.Context, admin common.Address, id uint64) (*model.TradeCall, error) {
	var call *model.TradeCall
	err := e.atomic(ctx, "resolve_failure", func(tx repository.Tx) error {
		platform, err := requirePlatform(tx)
		if err != nil {
			return err
		}
		if !platform.IsAdmin(admin) {
			return apperrors.NewAuthorization("only the platform admin can resolve trade calls")
		}
		c, err := loadCall(tx, id)
		if err != nil {
			return err
		}
		if err := c.ResolveFailure(admin, e.opts.Clock.Now()); err != nil {
			return err
		}
		if err := e.refundReserved(tx, c, admin); err != nil {
			return err
		}
		call = c
		return tx.SaveTradeCall(c)
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("trade call resolved", "id", id, "status", call.Status,
		"payout_per_follower", call.PayoutPerFollower, "followers", len(call.Followers), "remainder", call.Remainder())
	e.publish(ctx, model.EventCallFailed, id, admin, call.PayoutPerFollower)
	return call, nil
}

// refundReserved releases reserved fees back into deposited balances. Both
// live in the same vault account, so no ledger transfer is needed.
func (e *SettlementEngine) refundReserved(tx repository.Tx, c *model.TradeCall, admin common.Address) error {
	now := e.opts.Clock.Now()
	release := func(owner common.Address, all bool) error {
		v, err := tx.Vault(owner)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if all {
			v.ReleaseReservedToBalance()
		} else {
			v.ReleaseReserved(c.FollowFee)
		}
		v.UpdatedAt = now
		return tx.SaveVault(v)
	}

	if e.opts.Refund == RefundAdmin {
		return release(admin, true)
	}
	for _, f := range c.Followers {
		if err := release(f, false); err != nil {
			return err
		}
	}
	return nil
}

// ClaimFollowerShare pays a follower's fixed share of a failed call, at most once.
func (e *SettlementEngine) ClaimFollowerShare(ctx context.Context, follower common.Address, id uint64) (*model.ClaimResponse, error) {
	var amount uint64
	err := e.atomic(ctx, "claim_follower_share", func(tx repository.Tx) error {
		c, err := loadCall(tx, id)
		if err != nil {
			return err
		}
		if err := c.CheckClaim(follower, e.opts.MaxClaimed); err != nil {
			return err
		}
		if err := checkEscrow(tx, c, c.PayoutPerFollower); err != nil {
			return err
		}
		if err := c.MarkClaimed(follower, e.opts.MaxClaimed); err != nil {
			return err
		}
		if err := tx.Transfer(model.EscrowAccount(id), model.WalletAccount(follower), c.PayoutPerFollower, "follower share"); err != nil {
			return err
		}
		amount = c.PayoutPerFollower
		return tx.SaveTradeCall(c)
	})
	if err != nil {
		return nil, err
	}
	metrics.PayoutUnits.WithLabelValues("follower_share").Add(float64(amount))
	e.publish(ctx, model.EventShareClaimed, id, follower, amount)
	return &model.ClaimResponse{
		CallID:   id,
		Follower: follower,
		Amount:   amount,
		Display:  model.FormatUnits(amount, e.opts.UnitDecimals),
	}, nil
}

// FundWallet credits an external wallet account from outside the system.
func (e *SettlementEngine) FundWallet(ctx context.Context, owner common.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, apperrors.NewValidation(apperrors.ReasonInvalidAmount, "fund amount must be positive")
	}
	var balance uint64
	err := e.atomic(ctx, "fund_wallet", func(tx repository.Tx) error {
		account := model.WalletAccount(owner)
		if err := tx.Mint(account, amount, "admin funding"); err != nil {
			return err
		}
		var err error
		balance, err = tx.BalanceOf(account)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.publish(ctx, model.EventWalletFunded, 0, owner, amount)
	return balance, nil
}
