package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"gepspresale/core/types"
)

const (
	TypePresaleStarted     = "presale.started"
	TypePresalePurchased   = "presale.purchased"
	TypePresaleStage       = "presale.stage_advanced"
	TypePresaleEnded       = "presale.ended"
	TypePresaleClaimed     = "presale.claimed"
	TypePresaleTreasury    = "presale.treasury_updated"
	TypePresaleSwept       = "presale.unsold_swept"
	TypePresaleCurrencyReg = "presale.currency_registered"
)

// Stage advance reasons reported by PresaleStageAdvanced.
const (
	StageReasonExpired = "expired"
	StageReasonSoldOut = "sold_out"
)

type PresaleStarted struct {
	StartTime int64
	Stages    int
	SaleEnd   int64
}

func (PresaleStarted) EventType() string { return TypePresaleStarted }

func (e PresaleStarted) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleStarted,
		Attributes: map[string]string{
			"startTime": intToString(e.StartTime),
			"stages":    strconv.Itoa(e.Stages),
			"saleEnd":   intToString(e.SaleEnd),
		},
	}
}

// PresalePurchased mirrors the GEPSsPurchased(buyer, amount, currency) log of
// the sale contract, extended with the paid amount and the stage that filled it.
type PresalePurchased struct {
	ReceiptID string
	Buyer     common.Address
	Amount    *big.Int
	Currency  string
	Paid      *big.Int
	Stage     int
}

func (PresalePurchased) EventType() string { return TypePresalePurchased }

func (e PresalePurchased) Event() *types.Event {
	return &types.Event{
		Type: TypePresalePurchased,
		Attributes: map[string]string{
			"receiptId": strings.TrimSpace(e.ReceiptID),
			"buyer":     formatAddress(e.Buyer),
			"amount":    formatAmount(e.Amount),
			"currency":  normalizeAsset(e.Currency),
			"paid":      formatAmount(e.Paid),
			"stage":     strconv.Itoa(e.Stage),
		},
	}
}

type PresaleStageAdvanced struct {
	From   int
	To     int
	Reason string
	At     int64
}

func (PresaleStageAdvanced) EventType() string { return TypePresaleStage }

func (e PresaleStageAdvanced) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleStage,
		Attributes: map[string]string{
			"from":   strconv.Itoa(e.From),
			"to":     strconv.Itoa(e.To),
			"reason": e.Reason,
			"at":     intToString(e.At),
		},
	}
}

type PresaleEnded struct {
	Stage     int
	EndedAt   int64
	TotalSold *big.Int
	Reason    string
}

func (PresaleEnded) EventType() string { return TypePresaleEnded }

func (e PresaleEnded) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleEnded,
		Attributes: map[string]string{
			"stage":     strconv.Itoa(e.Stage),
			"endedAt":   intToString(e.EndedAt),
			"totalSold": formatAmount(e.TotalSold),
			"reason":    e.Reason,
		},
	}
}

// PresaleClaimed mirrors GEPSsClaimed(buyer, amount).
type PresaleClaimed struct {
	Buyer  common.Address
	Amount *big.Int
}

func (PresaleClaimed) EventType() string { return TypePresaleClaimed }

func (e PresaleClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleClaimed,
		Attributes: map[string]string{
			"buyer":  formatAddress(e.Buyer),
			"amount": formatAmount(e.Amount),
		},
	}
}

type PresaleTreasuryUpdated struct {
	Previous common.Address
	Current  common.Address
}

func (PresaleTreasuryUpdated) EventType() string { return TypePresaleTreasury }

func (e PresaleTreasuryUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleTreasury,
		Attributes: map[string]string{
			"previous": formatAddress(e.Previous),
			"current":  formatAddress(e.Current),
		},
	}
}

type PresaleUnsoldSwept struct {
	Treasury common.Address
	Amount   *big.Int
}

func (PresaleUnsoldSwept) EventType() string { return TypePresaleSwept }

func (e PresaleUnsoldSwept) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleSwept,
		Attributes: map[string]string{
			"treasury": formatAddress(e.Treasury),
			"amount":   formatAmount(e.Amount),
		},
	}
}

type PresaleCurrencyRegistered struct {
	Symbol   string
	Feed     string
	Decimals uint8
	Native   bool
}

func (PresaleCurrencyRegistered) EventType() string { return TypePresaleCurrencyReg }

func (e PresaleCurrencyRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypePresaleCurrencyReg,
		Attributes: map[string]string{
			"symbol":   normalizeAsset(e.Symbol),
			"feed":     strings.TrimSpace(e.Feed),
			"decimals": strconv.Itoa(int(e.Decimals)),
			"native":   strconv.FormatBool(e.Native),
		},
	}
}
