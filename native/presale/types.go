package presale

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Phase captures the lifecycle of the sale.
type Phase uint8

const (
	PhaseNotStarted Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	switch strings.TrimSpace(string(text)) {
	case "not_started", "":
		*p = PhaseNotStarted
	case "active":
		*p = PhaseActive
	case "ended":
		*p = PhaseEnded
	default:
		return fmt.Errorf("presale: unknown phase %q", string(text))
	}
	return nil
}

// Stage is one priced tier of the sale. Price is quoted in the reference unit
// (USD) per whole token; Allocation, Available and Swept are token base units.
// Swept holds the remainder moved to the treasury after the sale.
type Stage struct {
	Index      int             `json:"index"`
	Price      decimal.Decimal `json:"price"`
	Allocation *big.Int        `json:"allocation"`
	Available  *big.Int        `json:"available"`
	Swept      *big.Int        `json:"swept,omitempty"`
	StartTime  int64           `json:"startTime"`
	EndTime    int64           `json:"endTime"`
}

// Clone returns a deep copy of the stage.
func (s *Stage) Clone() *Stage {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Allocation = copyInt(s.Allocation)
	clone.Available = copyInt(s.Available)
	if s.Swept != nil {
		clone.Swept = copyInt(s.Swept)
	}
	return &clone
}

// Sold reports the number of base units sold from the stage.
func (s *Stage) Sold() *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	sold := new(big.Int).Sub(copyInt(s.Allocation), copyInt(s.Available))
	return sold.Sub(sold, copyInt(s.Swept))
}

// Currency describes an asset accepted as payment. Native assets settle with a
// plain transfer, other assets with approve/transferFrom. Feed identifies the
// oracle feed backing the currency (for on-chain feeds, the aggregator address).
type Currency struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native"`
	Feed     string `json:"feed,omitempty"`
}

// Sale is the aggregate holding every piece of mutable sale state.
type Sale struct {
	Phase        Phase               `json:"phase"`
	StartTime    int64               `json:"startTime"`
	EndedAt      int64               `json:"endedAt"`
	CurrentStage int                 `json:"currentStage"`
	Stages       []*Stage            `json:"stages"`
	Treasury     common.Address      `json:"treasury"`
	TotalSold    *big.Int            `json:"totalSold"`
	TotalSwept   *big.Int            `json:"totalSwept"`
	Currencies   map[string]Currency `json:"currencies"`
}

// Clone returns a deep copy of the sale aggregate.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Stages = make([]*Stage, len(s.Stages))
	for i, stage := range s.Stages {
		clone.Stages[i] = stage.Clone()
	}
	clone.TotalSold = copyInt(s.TotalSold)
	clone.TotalSwept = copyInt(s.TotalSwept)
	clone.Currencies = make(map[string]Currency, len(s.Currencies))
	for k, v := range s.Currencies {
		clone.Currencies[k] = v
	}
	return &clone
}

// Supply returns the total allocation across all stages.
func (s *Sale) Supply() *big.Int {
	total := big.NewInt(0)
	if s == nil {
		return total
	}
	for _, stage := range s.Stages {
		total.Add(total, copyInt(stage.Allocation))
	}
	return total
}

// Purchase is the per-buyer accumulated balance awaiting claim.
type Purchase struct {
	Buyer     common.Address      `json:"buyer"`
	Amount    *big.Int            `json:"amount"`
	Paid      map[string]*big.Int `json:"paid"`
	Count     uint64              `json:"count"`
	Claimed   bool                `json:"claimed"`
	ClaimedAt int64               `json:"claimedAt"`
}

func newPurchase(buyer common.Address) *Purchase {
	return &Purchase{Buyer: buyer, Amount: big.NewInt(0), Paid: make(map[string]*big.Int)}
}

// Clone returns a deep copy of the purchase record.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Amount = copyInt(p.Amount)
	clone.Paid = make(map[string]*big.Int, len(p.Paid))
	for k, v := range p.Paid {
		clone.Paid[k] = copyInt(v)
	}
	return &clone
}

// Receipt summarises a committed purchase.
type Receipt struct {
	ID           string         `json:"id"`
	Buyer        common.Address `json:"buyer"`
	Currency     string         `json:"currency"`
	Paid         *big.Int       `json:"paid"`
	Tokens       *big.Int       `json:"tokens"`
	Stage        int            `json:"stage"`
	CurrentStage int            `json:"currentStage"`
	SaleEnded    bool           `json:"saleEnded"`
	Timestamp    int64          `json:"timestamp"`
}

// Status is a read-only projection of the sale at a point in time.
type Status struct {
	Phase        Phase          `json:"phase"`
	CurrentStage int            `json:"currentStage"`
	StartTime    int64          `json:"startTime"`
	SaleEnd      int64          `json:"saleEnd"`
	ClaimOpensAt int64          `json:"claimOpensAt"`
	Treasury     common.Address `json:"treasury"`
	TotalSold    *big.Int       `json:"totalSold"`
	Unsold       *big.Int       `json:"unsold"`
	Stages       []*Stage       `json:"stages"`
	Currencies   []Currency     `json:"currencies"`
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
