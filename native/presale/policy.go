package presale

import "github.com/ethereum/go-ethereum/common"

// OwnerPolicy gates the owner-only operations. The engine itself never checks
// ownership; callers authorise before invoking Start, SweepUnsold,
// UpdateTreasury and RegisterCurrency.
type OwnerPolicy struct {
	Owner common.Address
}

// Authorize returns ErrNotOwner unless caller is the configured owner.
func (p OwnerPolicy) Authorize(caller common.Address) error {
	if isZeroAddress(p.Owner) || caller != p.Owner {
		return ErrNotOwner
	}
	return nil
}
