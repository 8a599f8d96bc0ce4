package presale

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	DefaultTokenSymbol   = "GEPS"
	DefaultTokenDecimals = 18
	DefaultStageDuration = 120 * time.Second
	DefaultClaimDelay    = 300 * time.Second
	DefaultMaxQuoteAge   = time.Hour
)

// Params configures the sale economics and accounts.
type Params struct {
	TokenSymbol   string
	TokenDecimals uint8
	StageDuration time.Duration
	ClaimDelay    time.Duration
	// MaxQuoteAge bounds oracle staleness. Zero disables the check.
	MaxQuoteAge time.Duration
	// Vault holds the sale tokens and acts as spender for token payments.
	Vault common.Address
}

// StageSpec is the deployment-time definition of a stage.
type StageSpec struct {
	Price      decimal.Decimal
	Allocation *big.Int
}

// DefaultParams returns the GEPS sale parameters with the supplied vault.
func DefaultParams(vault common.Address) Params {
	return Params{
		TokenSymbol:   DefaultTokenSymbol,
		TokenDecimals: DefaultTokenDecimals,
		StageDuration: DefaultStageDuration,
		ClaimDelay:    DefaultClaimDelay,
		MaxQuoteAge:   DefaultMaxQuoteAge,
		Vault:         vault,
	}
}

// DefaultSchedule returns the nine GEPS stages: 20,000,000 tokens split as
// 2,222,224 in the first stage and 2,222,222 in each of the remaining eight,
// priced from 0.010 to 0.026 USD.
func DefaultSchedule(tokenDecimals uint8) []StageSpec {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals)), nil)
	specs := make([]StageSpec, 9)
	for i := range specs {
		whole := int64(2_222_222)
		if i == 0 {
			whole = 2_222_224
		}
		specs[i] = StageSpec{
			Price:      decimal.New(int64(10+2*i), -3),
			Allocation: new(big.Int).Mul(big.NewInt(whole), unit),
		}
	}
	return specs
}

func (p Params) validate() error {
	if strings.TrimSpace(p.TokenSymbol) == "" {
		return fmt.Errorf("%w: token symbol required", ErrInvalidSchedule)
	}
	if p.StageDuration < time.Second {
		return fmt.Errorf("%w: stage duration must be at least one second", ErrInvalidSchedule)
	}
	if p.ClaimDelay < 0 {
		return fmt.Errorf("%w: claim delay cannot be negative", ErrInvalidSchedule)
	}
	if p.MaxQuoteAge < 0 {
		return fmt.Errorf("%w: max quote age cannot be negative", ErrInvalidSchedule)
	}
	if isZeroAddress(p.Vault) {
		return fmt.Errorf("%w: vault", ErrInvalidAddress)
	}
	return nil
}

func validateSpecs(specs []StageSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: at least one stage required", ErrInvalidSchedule)
	}
	for i, spec := range specs {
		if !spec.Price.IsPositive() {
			return fmt.Errorf("%w: stage %d price must be positive", ErrInvalidSchedule, i)
		}
		if spec.Allocation == nil || spec.Allocation.Sign() <= 0 {
			return fmt.Errorf("%w: stage %d allocation must be positive", ErrInvalidSchedule, i)
		}
	}
	return nil
}

func (p Params) stageSeconds() int64 { return int64(p.StageDuration / time.Second) }

func (p Params) claimDelaySeconds() int64 { return int64(p.ClaimDelay / time.Second) }

func (p Params) maxQuoteAgeSeconds() int64 { return int64(p.MaxQuoteAge / time.Second) }
