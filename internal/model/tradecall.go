package model

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

// CallStatus is the resolution state of a trade call. Active is the only
// non-terminal state.
type CallStatus string

const (
	StatusActive     CallStatus = "Active"
	StatusSuccessful CallStatus = "Successful"
	StatusFailed     CallStatus = "Failed"
)

func ParseCallStatus(raw string) (CallStatus, error) {
	switch CallStatus(raw) {
	case StatusActive, StatusSuccessful, StatusFailed:
		return CallStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// TradeCall is a staked prediction about a token. Its stake lives in the
// escrow account EscrowAccount(ID).
type TradeCall struct {
	ID                uint64           `json:"id"`
	Token             common.Address   `json:"token"`
	StakedAmount      uint64           `json:"staked_amount"`
	Caller            common.Address   `json:"caller"`
	FollowFee         uint64           `json:"follow_fee"`
	CreatedAt         time.Time        `json:"created_at"`
	Followers         []common.Address `json:"followers"`
	Status            CallStatus       `json:"status"`
	IsDistributed     bool             `json:"is_distributed"`
	PayoutPerFollower uint64           `json:"payout_per_follower"`
	ClaimedFollowers  []common.Address `json:"claimed_followers"`
	CallerPayout      uint64           `json:"caller_payout"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy        *common.Address  `json:"resolved_by,omitempty"`
}

func NewTradeCall(id uint64, caller, token common.Address, stake, followFee uint64, now time.Time) *TradeCall {
	return &TradeCall{
		ID:               id,
		Token:            token,
		StakedAmount:     stake,
		Caller:           caller,
		FollowFee:        followFee,
		CreatedAt:        now,
		Followers:        []common.Address{},
		Status:           StatusActive,
		ClaimedFollowers: []common.Address{},
	}
}

func contains(set []common.Address, id common.Address) bool {
	for _, addr := range set {
		if addr == id {
			return true
		}
	}
	return false
}

func (c *TradeCall) IsFollower(id common.Address) bool {
	return contains(c.Followers, id)
}

func (c *TradeCall) HasClaimed(id common.Address) bool {
	return contains(c.ClaimedFollowers, id)
}

func (c *TradeCall) IsResolved() bool {
	return c.Status != StatusActive
}

// CheckFollow validates that follower may join without mutating the call.
func (c *TradeCall) CheckFollow(follower common.Address, capacity int) error {
	if c.Status != StatusActive {
		return apperrors.NewState(apperrors.ReasonNotActive, fmt.Sprintf("trade call %d is not active", c.ID))
	}
	if follower == c.Caller {
		return apperrors.NewValidation(apperrors.ReasonSelfFollow, "cannot follow your own trade call")
	}
	if c.IsFollower(follower) {
		return apperrors.NewValidation(apperrors.ReasonAlreadyFollowing, "already following this trade call")
	}
	if len(c.Followers) >= capacity {
		return apperrors.NewValidation(apperrors.ReasonCapacityExceeded,
			fmt.Sprintf("trade call %d already has the maximum of %d followers", c.ID, capacity))
	}
	return nil
}

// AddFollower appends follower after CheckFollow succeeds.
func (c *TradeCall) AddFollower(follower common.Address, capacity int) error {
	if err := c.CheckFollow(follower, capacity); err != nil {
		return err
	}
	c.Followers = append(c.Followers, follower)
	return nil
}

func (c *TradeCall) checkResolvable() error {
	if c.IsResolved() {
		return apperrors.NewState(apperrors.ReasonAlreadyResolved,
			fmt.Sprintf("trade call %d already resolved as %s", c.ID, c.Status))
	}
	return nil
}

// ResolveSuccess marks the call Successful. Moving the stake is the caller's job.
func (c *TradeCall) ResolveSuccess(by common.Address, now time.Time) error {
	if err := c.checkResolvable(); err != nil {
		return err
	}
	c.Status = StatusSuccessful
	c.CallerPayout = c.StakedAmount
	c.markResolved(by, now)
	return nil
}

// ResolveFailure fixes the equal-split entitlement and opens the claim window.
// The division remainder stays in escrow.
func (c *TradeCall) ResolveFailure(by common.Address, now time.Time) error {
	if err := c.checkResolvable(); err != nil {
		return err
	}
	if len(c.Followers) == 0 {
		return apperrors.NewValidation(apperrors.ReasonNoFollowers, "no followers to distribute funds to")
	}
	c.PayoutPerFollower = c.StakedAmount / uint64(len(c.Followers))
	c.Status = StatusFailed
	c.IsDistributed = true
	c.markResolved(by, now)
	return nil
}

// Remainder is the part of the stake no follower can claim after a failure.
func (c *TradeCall) Remainder() uint64 {
	if c.Status != StatusFailed || len(c.Followers) == 0 {
		return 0
	}
	return c.StakedAmount % uint64(len(c.Followers))
}

func (c *TradeCall) markResolved(by common.Address, now time.Time) {
	resolvedBy := by
	resolvedAt := now
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &resolvedAt
}

// CheckClaim validates a follower claim without mutating the call.
func (c *TradeCall) CheckClaim(follower common.Address, capacity int) error {
	if c.Status != StatusFailed || !c.IsDistributed {
		return apperrors.NewValidation(apperrors.ReasonNotDistributed, "funds not distributed")
	}
	if !c.IsFollower(follower) {
		return apperrors.NewValidation(apperrors.ReasonNotAFollower, "not a follower")
	}
	if c.HasClaimed(follower) {
		return apperrors.NewValidation(apperrors.ReasonAlreadyClaimed, "already claimed")
	}
	if len(c.ClaimedFollowers) >= capacity {
		return apperrors.NewValidation(apperrors.ReasonCapacityExceeded,
			fmt.Sprintf("trade call %d claimed set is full (%d)", c.ID, capacity))
	}
	return nil
}

// MarkClaimed records follower's claim after CheckClaim succeeds.
func (c *TradeCall) MarkClaimed(follower common.Address, capacity int) error {
	if err := c.CheckClaim(follower, capacity); err != nil {
		return err
	}
	c.ClaimedFollowers = append(c.ClaimedFollowers, follower)
	return nil
}

// Clone returns a deep copy.
func (c *TradeCall) Clone() *TradeCall {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Followers = append([]common.Address{}, c.Followers...)
	cp.ClaimedFollowers = append([]common.Address{}, c.ClaimedFollowers...)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	if c.ResolvedBy != nil {
		by := *c.ResolvedBy
		cp.ResolvedBy = &by
	}
	return &cp
}

// CallFilter narrows ListTradeCalls.
type CallFilter struct {
	Status   CallStatus
	Caller   *common.Address
	Follower *common.Address
	Limit    int
	Offset   int
}

// Match reports whether c passes the filter's predicates (paging excluded).
func (f CallFilter) Match(c *TradeCall) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Caller != nil && c.Caller != *f.Caller {
		return false
	}
	if f.Follower != nil && !c.IsFollower(*f.Follower) {
		return false
	}
	return true
}

// Normalize clamps paging to sane bounds.
func (f CallFilter) Normalize() CallFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
