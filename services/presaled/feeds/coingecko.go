package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gepspresale/native/presale"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGecko adapts the public CoinGecko simple price API.
type CoinGecko struct {
	client   HTTPDoer
	endpoint string
	assetID  string
	nowFn    func() time.Time
}

// NewCoinGecko constructs a USD price reader for assetID. An empty assetID
// falls back to the lowercased currency symbol.
func NewCoinGecko(client HTTPDoer, endpoint, assetID string) *CoinGecko {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CoinGecko{client: client, endpoint: ep, assetID: strings.TrimSpace(assetID), nowFn: time.Now}
}

// Quote implements presale.PriceOracle.
func (c *CoinGecko) Quote(ctx context.Context, currency presale.Currency) (presale.Quote, error) {
	id := c.assetID
	if id == "" {
		id = strings.ToLower(strings.TrimSpace(currency.Symbol))
	}
	if id == "" {
		return presale.Quote{}, fmt.Errorf("coingecko: asset id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return presale.Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := c.client.Do(req)
	if err != nil {
		return presale.Quote{}, fmt.Errorf("coingecko: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return presale.Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]struct {
		USD           json.Number `json:"usd"`
		LastUpdatedAt json.Number `json:"last_updated_at"`
	}
	if err := decoder.Decode(&payload); err != nil {
		return presale.Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok || entry.USD == "" {
		return presale.Quote{}, fmt.Errorf("coingecko: quote missing for %s", id)
	}
	price, err := decimal.NewFromString(entry.USD.String())
	if err != nil {
		return presale.Quote{}, fmt.Errorf("coingecko: invalid price %q: %w", entry.USD, err)
	}
	updatedAt, err := entry.LastUpdatedAt.Int64()
	if err != nil || updatedAt <= 0 {
		updatedAt = c.nowFn().Unix()
	}
	quote, err := scaleRate(price, updatedAt)
	if err != nil {
		return presale.Quote{}, fmt.Errorf("coingecko: %s: %w", id, err)
	}
	return quote, nil
}
