package feeds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gepspresale/native/presale"
)

// Static serves a fixed USD price, stamped with the current time so it never
// goes stale. It suits pegged stablecoins and development deployments.
type Static struct {
	price decimal.Decimal
	nowFn func() time.Time
}

// NewStatic validates price and returns a fixed feed.
func NewStatic(price decimal.Decimal) (*Static, error) {
	if _, err := scaleRate(price, 0); err != nil {
		return nil, err
	}
	return &Static{price: price, nowFn: time.Now}, nil
}

// Quote implements presale.PriceOracle.
func (s *Static) Quote(context.Context, presale.Currency) (presale.Quote, error) {
	return scaleRate(s.price, s.nowFn().Unix())
}
