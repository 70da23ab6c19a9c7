package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CreateTradeCallRequest is the JSON body for POST /v1/calls.
type CreateTradeCallRequest struct {
	Token       string `json:"token" binding:"required"`
	StakeAmount uint64 `json:"stake_amount"`
}

// AmountRequest is the JSON body for vault deposit and withdraw.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// FundRequest is the JSON body for POST /v1/admin/fund.
type FundRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount uint64 `json:"amount"`
}

// ClaimResponse reports a successful follower claim.
type ClaimResponse struct {
	CallID   uint64         `json:"call_id"`
	Follower common.Address `json:"follower"`
	Amount   uint64         `json:"amount"`
	Display  string         `json:"display"`
}

// EventType names a committed state transition.
type EventType string

const (
	EventPlatformInitialized EventType = "platform.initialized"
	EventCounterInitialized  EventType = "counter.initialized"
	EventCounterReset        EventType = "counter.reset"
	EventVaultCreated        EventType = "vault.created"
	EventVaultDeposited      EventType = "vault.deposited"
	EventVaultWithdrawn      EventType = "vault.withdrawn"
	EventCallCreated         EventType = "call.created"
	EventCallFollowed        EventType = "call.followed"
	EventCallSucceeded       EventType = "call.resolved_success"
	EventCallFailed          EventType = "call.resolved_failure"
	EventShareClaimed        EventType = "call.claimed"
	EventWalletFunded        EventType = "wallet.funded"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	ID     string         `json:"id"`
	Type   EventType      `json:"type"`
	CallID uint64         `json:"call_id,omitempty"`
	Actor  common.Address `json:"actor"`
	Amount uint64         `json:"amount,omitempty"`
	At     time.Time      `json:"at"`
}
