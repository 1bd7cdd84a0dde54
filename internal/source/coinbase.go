package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketlens/internal/types"
)

// CoinbaseAdapter reads USD spot prices from the Coinbase public API. It is
// the last market data tier in the default cascade.
type CoinbaseAdapter struct {
	baseURL string
	client  *httpJSONClient
}

// NewCoinbaseAdapter creates an adapter with the given per-request timeout
// and rate limit.
func NewCoinbaseAdapter(timeout time.Duration, ratePerSecond float64) *CoinbaseAdapter {
	return &CoinbaseAdapter{
		baseURL: "https://api.coinbase.com/v2",
		client:  newHTTPJSONClient(timeout, ratePerSecond),
	}
}

func (a *CoinbaseAdapter) Name() string { return "coinbase" }

// Fetch returns the USD spot price for the symbol.
func (a *CoinbaseAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	url := fmt.Sprintf("%s/prices/%s-USD/spot", a.baseURL, strings.ToUpper(symbol))

	var resp struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, url, &resp); err != nil {
		return failureReading(a.Name(), start, err)
	}

	price, err := strconv.ParseFloat(resp.Data.Amount, 64)
	if err != nil {
		return failureReading(a.Name(), start, fmt.Errorf("unparseable price %q: %w", resp.Data.Amount, err))
	}
	if price <= 0 {
		return failureReading(a.Name(), start, fmt.Errorf("out-of-range price %f for %s", price, symbol))
	}

	return successReading(a.Name(), start, map[string]float64{
		"price_usd": price,
	})
}
