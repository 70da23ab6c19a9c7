package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account names a balance-bearing ledger account.
//
//	wallet:<address>  funds a participant holds outside the platform
//	vault:<address>   deposited + reserved funds of a participant's vault
//	escrow:<call id>  a trade call's staked funds
//	platform:fees     reserved fees retained by the platform
type Account string

const FeeAccount Account = "platform:fees"

func WalletAccount(owner common.Address) Account {
	return Account("wallet:" + strings.ToLower(owner.Hex()))
}

func VaultAccount(owner common.Address) Account {
	return Account("vault:" + strings.ToLower(owner.Hex()))
}

func EscrowAccount(callID uint64) Account {
	return Account("escrow:" + strconv.FormatUint(callID, 10))
}

// ParseAccount validates an account name received from a client.
func ParseAccount(raw string) (Account, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(FeeAccount) {
		return FeeAccount, nil
	}
	kind, ref, ok := strings.Cut(raw, ":")
	if !ok {
		return "", fmt.Errorf("account %q: missing kind prefix", raw)
	}
	switch kind {
	case "wallet", "vault":
		addr, err := ParseIdentity(ref)
		if err != nil {
			return "", err
		}
		if kind == "wallet" {
			return WalletAccount(addr), nil
		}
		return VaultAccount(addr), nil
	case "escrow":
		id, err := strconv.ParseUint(ref, 10, 64)
		if err != nil || id == 0 {
			return "", fmt.Errorf("account %q: invalid call id", raw)
		}
		return EscrowAccount(id), nil
	default:
		return "", fmt.Errorf("account %q: unknown kind %q", raw, kind)
	}
}

// ParseIdentity parses a hex address into an identity.
func ParseIdentity(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid identity %q", raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero identity is not allowed")
	}
	return addr, nil
}

// LedgerEntry is an immutable journal record of one transfer or mint.
type LedgerEntry struct {
	ID        string    `json:"id"`
	From      Account   `json:"from,omitempty"` // empty for mints
	To        Account   `json:"to"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountView is the read model for GET /v1/accounts/:name.
type AccountView struct {
	Name    Account       `json:"name"`
	Balance uint64        `json:"balance"`
	Display string        `json:"display"`
	Entries []LedgerEntry `json:"entries"`
}
