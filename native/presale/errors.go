package presale

import "errors"

var (
	ErrAlreadyStarted         = errors.New("presale: already started")
	ErrNotOwner               = errors.New("presale: caller is not the owner")
	ErrInvalidAmount          = errors.New("presale: amount must be greater than zero")
	ErrUnsupportedCurrency    = errors.New("presale: unsupported currency")
	ErrInsufficientAllocation = errors.New("presale: not enough tokens available in stage")
	ErrClaimNotOpen           = errors.New("presale: claim period not started")
	ErrAlreadyClaimed         = errors.New("presale: tokens already claimed")
	ErrNothingToClaim         = errors.New("presale: nothing to claim")
	ErrSaleNotEnded           = errors.New("presale: sale not ended")
	ErrInvalidAddress         = errors.New("presale: invalid address")
	ErrSaleNotStarted         = errors.New("presale: sale not started")
	ErrSaleEnded              = errors.New("presale: sale ended")
	ErrInvalidSchedule        = errors.New("presale: invalid schedule")

	errNilLedger = errors.New("presale: ledger not configured")
	errNilOracle = errors.New("presale: price oracle not configured")
)
