package bank

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAsset          = errors.New("bank: asset symbol required")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
)

// Ledger is the token transfer primitive the presale settles against. Native
// assets move with Transfer; fungible tokens use the approve/transferFrom pair.
type Ledger interface {
	Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, asset string, owner, spender common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, asset string, spender, from, to common.Address, amount *big.Int) error
}

// Reader exposes balance lookups for ledgers that support them.
type Reader interface {
	BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset string, owner, spender common.Address) (*big.Int, error)
}

// NormalizeAsset canonicalises an asset ticker.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func validateTransfer(asset string, amount *big.Int) (string, error) {
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return "", ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return normalized, nil
}
