package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gepspresale/native/bank"
	"gepspresale/services/presaled/config"
)

const genesisKey = "genesis"

// Ledger is a SQL backed bank.Ledger. Each operation runs in its own
// transaction with the touched rows locked.
type Ledger struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Ledger returns the ledger view of the store.
func (s *Store) Ledger() *Ledger {
	return &Ledger{db: s.db, nowFn: time.Now}
}

// Credit mints amount of asset to owner.
func (l *Ledger) Credit(ctx context.Context, asset string, owner common.Address, amount *big.Int) error {
	normalized, value, err := validateAmount(asset, amount)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.credit(tx, normalized, owner, value)
	})
}

// Transfer implements bank.Ledger.
func (l *Ledger) Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error {
	normalized, value, err := validateAmount(asset, amount)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.move(tx, normalized, from, to, value)
	})
}

// Approve implements bank.Ledger. A zero amount revokes the allowance.
func (l *Ledger) Approve(ctx context.Context, asset string, owner, spender common.Address, amount *big.Int) error {
	normalized := bank.NormalizeAsset(asset)
	if normalized == "" {
		return bank.ErrInvalidAsset
	}
	if amount == nil || amount.Sign() < 0 {
		return bank.ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrOverflow
	}
	row := Allowance{Asset: normalized, Owner: owner.Hex(), Spender: spender.Hex()}
	db := l.db.WithContext(ctx)
	if value.IsZero() {
		return db.Delete(&row).Error
	}
	row.Amount = value.Dec()
	row.UpdatedAt = l.nowFn().UTC()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// TransferFrom implements bank.Ledger.
func (l *Ledger) TransferFrom(ctx context.Context, asset string, spender, from, to common.Address, amount *big.Int) error {
	normalized, value, err := validateAmount(asset, amount)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Allowance{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "asset = ? AND owner = ? AND spender = ?", normalized, from.Hex(), spender.Hex()).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s allowance for %s", bank.ErrInsufficientAllowance, normalized, spender.Hex())
		}
		if err != nil {
			return err
		}
		allowance, err := uint256.FromDecimal(row.Amount)
		if err != nil {
			return fmt.Errorf("decode allowance: %w", err)
		}
		if allowance.Lt(value) {
			return fmt.Errorf("%w: %s allowance for %s", bank.ErrInsufficientAllowance, normalized, spender.Hex())
		}
		if err := l.move(tx, normalized, from, to, value); err != nil {
			return err
		}
		remaining := new(uint256.Int).Sub(allowance, value)
		if remaining.IsZero() {
			return tx.Delete(&row).Error
		}
		row.Amount = remaining.Dec()
		row.UpdatedAt = l.nowFn().UTC()
		return tx.Save(&row).Error
	})
}

// BalanceOf implements bank.Reader.
func (l *Ledger) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	value, err := l.balance(l.db.WithContext(ctx), bank.NormalizeAsset(asset), owner, false)
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Allowance implements bank.Reader.
func (l *Ledger) Allowance(ctx context.Context, asset string, owner, spender common.Address) (*big.Int, error) {
	row := Allowance{}
	err := l.db.WithContext(ctx).
		First(&row, "asset = ? AND owner = ? AND spender = ?", bank.NormalizeAsset(asset), owner.Hex(), spender.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, err := uint256.FromDecimal(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode allowance: %w", err)
	}
	return value.ToBig(), nil
}

// SeedGenesis credits the configured balances exactly once. It reports
// whether the seed was applied on this call.
func (l *Ledger) SeedGenesis(ctx context.Context, entries []config.GenesisEntry) (bool, error) {
	applied := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker := Meta{}
		err := tx.First(&marker, "name = ?", genesisKey).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		for i, entry := range entries {
			amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
			if !ok {
				return fmt.Errorf("genesis[%d]: invalid amount %q", i, entry.Amount)
			}
			normalized, value, err := validateAmount(entry.Asset, amount)
			if err != nil {
				return fmt.Errorf("genesis[%d]: %w", i, err)
			}
			if err := l.credit(tx, normalized, config.Address(entry.Address), value); err != nil {
				return fmt.Errorf("genesis[%d]: %w", i, err)
			}
		}
		applied = true
		return tx.Create(&Meta{Name: genesisKey, Value: fmt.Sprintf("%d", len(entries)), CreatedAt: l.nowFn().UTC()}).Error
	})
	return applied, err
}

func (l *Ledger) credit(tx *gorm.DB, asset string, owner common.Address, value *uint256.Int) error {
	current, err := l.balance(tx, asset, owner, true)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return ErrOverflow
	}
	return l.store(tx, asset, owner, next)
}

func (l *Ledger) move(tx *gorm.DB, asset string, from, to common.Address, value *uint256.Int) error {
	balance, err := l.balance(tx, asset, from, true)
	if err != nil {
		return err
	}
	if balance.Lt(value) {
		return fmt.Errorf("%w: %s has %s %s", bank.ErrInsufficientBalance, from.Hex(), balance.Dec(), asset)
	}
	if err := l.store(tx, asset, from, new(uint256.Int).Sub(balance, value)); err != nil {
		return err
	}
	return l.credit(tx, asset, to, value)
}

func (l *Ledger) balance(tx *gorm.DB, asset string, owner common.Address, lock bool) (*uint256.Int, error) {
	row := Balance{}
	query := tx
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.First(&row, "asset = ? AND owner = ?", asset, owner.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	value, err := uint256.FromDecimal(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return value, nil
}

func (l *Ledger) store(tx *gorm.DB, asset string, owner common.Address, value *uint256.Int) error {
	row := Balance{Asset: asset, Owner: owner.Hex(), Amount: value.Dec(), UpdatedAt: l.nowFn().UTC()}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func validateAmount(asset string, amount *big.Int) (string, *uint256.Int, error) {
	normalized := bank.NormalizeAsset(asset)
	if normalized == "" {
		return "", nil, bank.ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", nil, bank.ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return "", nil, ErrOverflow
	}
	return normalized, value, nil
}
