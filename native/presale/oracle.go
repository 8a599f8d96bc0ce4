package presale

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the USD value of one whole unit of a currency, expressed as
// Rate / 10^Decimals, together with the upstream update time (unix seconds).
type Quote struct {
	Rate      *big.Int
	Decimals  uint8
	UpdatedAt int64
}

// Clone returns a copy of the quote that does not share the rate.
func (q Quote) Clone() Quote {
	q.Rate = copyInt(q.Rate)
	return q
}

// PriceOracle resolves the USD rate of a payment currency.
type PriceOracle interface {
	Quote(ctx context.Context, currency Currency) (Quote, error)
}

// OracleFunc adapts a function into a PriceOracle.
type OracleFunc func(ctx context.Context, currency Currency) (Quote, error)

// Quote implements PriceOracle.
func (f OracleFunc) Quote(ctx context.Context, currency Currency) (Quote, error) {
	return f(ctx, currency)
}

// StaticOracle serves fixed quotes keyed by currency symbol.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticOracle constructs an empty static oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{quotes: make(map[string]Quote)}
}

// Set records the quote returned for symbol.
func (o *StaticOracle) Set(symbol string, quote Quote) {
	o.mu.Lock()
	o.quotes[normalizeSymbol(symbol)] = quote.Clone()
	o.mu.Unlock()
}

// Quote implements PriceOracle.
func (o *StaticOracle) Quote(_ context.Context, currency Currency) (Quote, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	quote, ok := o.quotes[normalizeSymbol(currency.Symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %s", ErrUnsupportedCurrency, currency.Symbol)
	}
	return quote.Clone(), nil
}

// CachedOracle keeps the latest quote per currency so purchases never block on
// the upstream feed. Misses fall through to the upstream oracle.
type CachedOracle struct {
	upstream PriceOracle
	interval time.Duration
	logger   *slog.Logger

	mu         sync.RWMutex
	currencies map[string]Currency
	cache      map[string]Quote
}

// NewCachedOracle wraps upstream with a cache refreshed every interval.
func NewCachedOracle(upstream PriceOracle, interval time.Duration) (*CachedOracle, error) {
	if upstream == nil {
		return nil, errNilOracle
	}
	if interval <= 0 {
		return nil, fmt.Errorf("presale: refresh interval must be positive")
	}
	return &CachedOracle{
		upstream:   upstream,
		interval:   interval,
		logger:     slog.Default(),
		currencies: make(map[string]Currency),
		cache:      make(map[string]Quote),
	}, nil
}

// SetLogger overrides the logger used for refresh failures.
func (o *CachedOracle) SetLogger(logger *slog.Logger) {
	if o == nil || logger == nil {
		return
	}
	o.logger = logger
}

// Track adds currency to the refresh set. A changed feed drops the quote
// cached for the previous one.
func (o *CachedOracle) Track(currency Currency) {
	if o == nil {
		return
	}
	key := normalizeSymbol(currency.Symbol)
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.currencies[key]; ok && prev.Feed != currency.Feed {
		delete(o.cache, key)
	}
	if currency.Native && strings.TrimSpace(currency.Feed) == "" {
		delete(o.currencies, key)
		delete(o.cache, key)
		return
	}
	o.currencies[key] = currency
}

// Quote implements PriceOracle. Cached quotes are served only for the feed
// they were fetched from.
func (o *CachedOracle) Quote(ctx context.Context, currency Currency) (Quote, error) {
	key := normalizeSymbol(currency.Symbol)
	o.mu.RLock()
	quote, ok := o.cache[key]
	tracked, known := o.currencies[key]
	o.mu.RUnlock()
	if ok && known && tracked.Feed == currency.Feed {
		return quote.Clone(), nil
	}
	quote, err := o.upstream.Quote(ctx, currency)
	if err != nil {
		return Quote{}, err
	}
	o.mu.Lock()
	o.cache[key] = quote.Clone()
	o.currencies[key] = currency
	o.mu.Unlock()
	return quote, nil
}

// Refresh fetches every tracked currency once. Failed fetches keep the previous
// cached quote; the first error is returned.
func (o *CachedOracle) Refresh(ctx context.Context) error {
	o.mu.RLock()
	tracked := make([]Currency, 0, len(o.currencies))
	for _, currency := range o.currencies {
		tracked = append(tracked, currency)
	}
	o.mu.RUnlock()

	var firstErr error
	for _, currency := range tracked {
		quote, err := o.upstream.Quote(ctx, currency)
		if err != nil {
			o.logger.Warn("presale oracle refresh failed", "currency", currency.Symbol, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		key := normalizeSymbol(currency.Symbol)
		o.mu.Lock()
		if current, ok := o.currencies[key]; ok && current.Feed == currency.Feed {
			o.cache[key] = quote.Clone()
		}
		o.mu.Unlock()
	}
	return firstErr
}

// Run refreshes the cache on every tick until ctx is cancelled.
func (o *CachedOracle) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		if err := o.Refresh(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// validateQuote rejects missing, non-positive and stale rates.
func validateQuote(currency Currency, quote Quote, now, maxAge int64) error {
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return fmt.Errorf("%w: %s rate unavailable", ErrUnsupportedCurrency, currency.Symbol)
	}
	if maxAge > 0 && now-quote.UpdatedAt > maxAge {
		return fmt.Errorf("%w: %s quote is stale", ErrUnsupportedCurrency, currency.Symbol)
	}
	return nil
}

// tokensForPayment converts paid currency base units into token base units at
// the stage price, rounding down:
//
//	tokens = paid * rate * 10^tokenDec * priceDen / (10^curDec * 10^rateDec * priceNum)
func tokensForPayment(paid *big.Int, currency Currency, quote Quote, price decimal.Decimal, tokenDecimals uint8) *big.Int {
	ratio := price.Rat()
	num := new(big.Int).Mul(paid, quote.Rate)
	num.Mul(num, pow10(tokenDecimals))
	num.Mul(num, ratio.Denom())
	den := new(big.Int).Mul(pow10(currency.Decimals), pow10(quote.Decimals))
	den.Mul(den, ratio.Num())
	return num.Quo(num, den)
}

// paymentForTokens is the inverse of tokensForPayment, rounding up so the
// buyer never underpays:
//
//	cost = ceil(tokens * priceNum * 10^curDec * 10^rateDec / (10^tokenDec * priceDen * rate))
func paymentForTokens(tokens *big.Int, currency Currency, quote Quote, price decimal.Decimal, tokenDecimals uint8) *big.Int {
	ratio := price.Rat()
	num := new(big.Int).Mul(tokens, ratio.Num())
	num.Mul(num, pow10(currency.Decimals))
	num.Mul(num, pow10(quote.Decimals))
	den := new(big.Int).Mul(pow10(tokenDecimals), ratio.Denom())
	den.Mul(den, quote.Rate)
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
