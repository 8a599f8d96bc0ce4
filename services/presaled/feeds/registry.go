// Package feeds builds the USD price sources backing presale payment
// currencies.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"gepspresale/native/presale"
	"gepspresale/services/presaled/config"
)

// QuoteDecimals is the fixed point precision used by off-chain feeds.
const QuoteDecimals = 8

// Registry constructs price sources based on configuration.
type Registry struct {
	HTTPClient HTTPDoer
	// Dial opens a contract caller for an EVM JSON-RPC endpoint.
	Dial func(ctx context.Context, endpoint string) (ContractCaller, error)

	mu      sync.Mutex
	callers map[string]ContractCaller
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Dial:       DialContractCaller,
		callers:    make(map[string]ContractCaller),
	}
}

// Build creates a price source from the supplied feed configuration.
func (r *Registry) Build(ctx context.Context, cfg config.FeedConfig) (presale.PriceOracle, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "chainlink":
		if !common.IsHexAddress(strings.TrimSpace(cfg.Address)) {
			return nil, fmt.Errorf("feed %s: invalid aggregator address %q", cfg.Currency, cfg.Address)
		}
		caller, err := r.caller(ctx, cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", cfg.Currency, err)
		}
		return NewChainlink(caller, common.HexToAddress(strings.TrimSpace(cfg.Address)))
	case "coingecko":
		return NewCoinGecko(r.client(), cfg.Endpoint, cfg.ID), nil
	case "static":
		rate, err := decimal.NewFromString(strings.TrimSpace(cfg.Rate))
		if err != nil {
			return nil, fmt.Errorf("feed %s: invalid rate %q: %w", cfg.Currency, cfg.Rate, err)
		}
		return NewStatic(rate)
	default:
		return nil, fmt.Errorf("feed %s: unknown feed type %q", cfg.Currency, cfg.Type)
	}
}

// Close releases any RPC connections opened by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, caller := range r.callers {
		if closer, ok := caller.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.callers, endpoint)
	}
}

func (r *Registry) caller(ctx context.Context, endpoint string) (ContractCaller, error) {
	endpoint = strings.TrimSpace(endpoint)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callers == nil {
		r.callers = make(map[string]ContractCaller)
	}
	if caller, ok := r.callers[endpoint]; ok {
		return caller, nil
	}
	dial := r.Dial
	if dial == nil {
		dial = DialContractCaller
	}
	caller, err := dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	r.callers[endpoint] = caller
	return caller, nil
}

func (r *Registry) client() HTTPDoer {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Router dispatches quote requests to the feed registered for each currency.
type Router struct {
	timeout   time.Duration
	onFailure func(currency string)

	mu    sync.RWMutex
	feeds map[string]presale.PriceOracle
}

// NewRouter constructs an empty router. A positive timeout bounds every
// upstream call.
func NewRouter(timeout time.Duration) *Router {
	return &Router{timeout: timeout, feeds: make(map[string]presale.PriceOracle)}
}

// OnFailure installs a hook invoked with the currency symbol whenever an
// upstream feed fails.
func (r *Router) OnFailure(fn func(currency string)) { r.onFailure = fn }

// Set binds symbol to source, replacing any previous binding.
func (r *Router) Set(symbol string, source presale.PriceOracle) {
	r.mu.Lock()
	r.feeds[normalize(symbol)] = source
	r.mu.Unlock()
}

// Symbols lists the currencies with a bound feed.
func (r *Router) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.feeds))
	for symbol := range r.feeds {
		out = append(out, symbol)
	}
	return out
}

// Quote implements presale.PriceOracle.
func (r *Router) Quote(ctx context.Context, currency presale.Currency) (presale.Quote, error) {
	symbol := normalize(currency.Symbol)
	r.mu.RLock()
	source, ok := r.feeds[symbol]
	r.mu.RUnlock()
	if !ok {
		return presale.Quote{}, fmt.Errorf("%w: no feed for %s", presale.ErrUnsupportedCurrency, symbol)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	quote, err := source.Quote(ctx, currency)
	if err != nil && r.onFailure != nil {
		r.onFailure(symbol)
	}
	return quote, err
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// scaleRate converts a decimal USD price into a fixed point quote.
func scaleRate(price decimal.Decimal, updatedAt int64) (presale.Quote, error) {
	if !price.IsPositive() {
		return presale.Quote{}, fmt.Errorf("price must be positive, got %s", price)
	}
	rate := price.Shift(QuoteDecimals).Truncate(0).BigInt()
	if rate.Sign() <= 0 {
		return presale.Quote{}, fmt.Errorf("price %s below feed precision", price)
	}
	return presale.Quote{Rate: rate, Decimals: QuoteDecimals, UpdatedAt: updatedAt}, nil
}
