package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	asset   string
	owner   common.Address
	spender common.Address
}

type balanceKey struct {
	asset string
	owner common.Address
}

// MemLedger is an in-memory Ledger used by tests and development deployments.
type MemLedger struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewMemLedger constructs an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Credit mints amount of asset to owner. It is intended for seeding balances.
func (l *MemLedger) Credit(asset string, owner common.Address, amount *big.Int) error {
	normalized, err := validateTransfer(asset, amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{asset: normalized, owner: owner}
	l.balances[key] = new(big.Int).Add(l.balanceLocked(key), amount)
	return nil
}

// Transfer implements Ledger.
func (l *MemLedger) Transfer(_ context.Context, asset string, from, to common.Address, amount *big.Int) error {
	normalized, err := validateTransfer(asset, amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(normalized, from, to, amount)
}

// Approve implements Ledger. A zero amount revokes the allowance.
func (l *MemLedger) Approve(_ context.Context, asset string, owner, spender common.Address, amount *big.Int) error {
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset: normalized, owner: owner, spender: spender}
	if amount.Sign() == 0 {
		delete(l.allowances, key)
		return nil
	}
	l.allowances[key] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom implements Ledger.
func (l *MemLedger) TransferFrom(_ context.Context, asset string, spender, from, to common.Address, amount *big.Int) error {
	normalized, err := validateTransfer(asset, amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset: normalized, owner: from, spender: spender}
	allowance := l.allowances[key]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance for %s", ErrInsufficientAllowance, normalized, spender.Hex())
	}
	if err := l.moveLocked(normalized, from, to, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(allowance, amount)
	if remaining.Sign() == 0 {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = remaining
	}
	return nil
}

// BalanceOf implements Reader.
func (l *MemLedger) BalanceOf(_ context.Context, asset string, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(balanceKey{asset: NormalizeAsset(asset), owner: owner})), nil
}

// Allowance implements Reader.
func (l *MemLedger) Allowance(_ context.Context, asset string, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.allowances[allowanceKey{asset: NormalizeAsset(asset), owner: owner, spender: spender}]
	if current == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (l *MemLedger) balanceLocked(key balanceKey) *big.Int {
	if bal, ok := l.balances[key]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

func (l *MemLedger) moveLocked(asset string, from, to common.Address, amount *big.Int) error {
	fromKey := balanceKey{asset: asset, owner: from}
	balance := l.balanceLocked(fromKey)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s", ErrInsufficientBalance, from.Hex(), balance, asset)
	}
	l.balances[fromKey] = new(big.Int).Sub(balance, amount)
	toKey := balanceKey{asset: asset, owner: to}
	l.balances[toKey] = new(big.Int).Add(l.balanceLocked(toKey), amount)
	return nil
}
