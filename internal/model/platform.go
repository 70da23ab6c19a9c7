package model

import (
	"math"
	"math/big"
	"time"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PlatformState holds the single admin identity. It is written once.
type PlatformState struct {
	Admin         common.Address `json:"admin"`
	InitializedAt time.Time      `json:"initialized_at"`
}

// IsAdmin reports whether id is the platform admin.
func (p *PlatformState) IsAdmin(id common.Address) bool {
	return p != nil && p.Admin == id
}

// IDCounter issues trade-call identifiers. Value is the next id to hand out.
type IDCounter struct {
	Value uint64 `json:"value"`
}

func NewIDCounter() *IDCounter {
	return &IDCounter{Value: 1}
}

// Next returns the current value and advances the counter.
func (c *IDCounter) Next() (uint64, error) {
	if c.Value == math.MaxUint64 {
		return 0, apperrors.NewFunds(apperrors.ReasonOverflow, "trade call id space exhausted")
	}
	id := c.Value
	c.Value++
	return id, nil
}

// PlatformView is the read model for GET /v1/platform.
type PlatformView struct {
	Initialized bool            `json:"initialized"`
	Admin       *common.Address `json:"admin,omitempty"`
	NextCallID  uint64          `json:"next_call_id"`
	FollowFee   uint64          `json:"follow_fee"`
	FeeBalance  uint64          `json:"fee_balance"`
}

// FormatUnits renders base units as a whole-unit decimal string.
func FormatUnits(amount uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
	return d.StringFixed(decimals)
}

// AddUint64 adds with overflow detection.
func AddUint64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, apperrors.NewFunds(apperrors.ReasonOverflow, "arithmetic overflow")
	}
	return sum, nil
}
