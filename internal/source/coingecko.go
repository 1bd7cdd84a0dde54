package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketlens/internal/types"
)

// coinGeckoIDs maps ticker symbols to CoinGecko asset ids.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
}

// CoinGeckoAdapter reads spot prices plus 24h volume from the CoinGecko
// public API. The volume feeds the sanity checker as an auxiliary metric.
type CoinGeckoAdapter struct {
	baseURL string
	client  *httpJSONClient
}

// NewCoinGeckoAdapter creates an adapter with the given per-request timeout
// and rate limit.
func NewCoinGeckoAdapter(timeout time.Duration, ratePerSecond float64) *CoinGeckoAdapter {
	return &CoinGeckoAdapter{
		baseURL: "https://api.coingecko.com/api/v3",
		client:  newHTTPJSONClient(timeout, ratePerSecond),
	}
}

func (a *CoinGeckoAdapter) Name() string { return "coingecko" }

// Fetch returns the USD spot price, 24h volume and data timestamp.
func (a *CoinGeckoAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	id, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return failureReading(a.Name(), start, fmt.Errorf("unknown coingecko id for symbol %s", symbol))
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_last_updated_at=true", a.baseURL, id)

	var resp map[string]struct {
		USD           float64 `json:"usd"`
		USD24hVol     float64 `json:"usd_24h_vol"`
		LastUpdatedAt int64   `json:"last_updated_at"`
	}
	if err := a.client.getJSON(ctx, url, &resp); err != nil {
		return failureReading(a.Name(), start, err)
	}

	data, ok := resp[id]
	if !ok || data.USD <= 0 {
		return failureReading(a.Name(), start, fmt.Errorf("missing or out-of-range price for %s", id))
	}

	return successReading(a.Name(), start, map[string]float64{
		"price_usd":       data.USD,
		"volume_24h_usd":  data.USD24hVol,
		"last_updated_at": float64(data.LastUpdatedAt),
	})
}
