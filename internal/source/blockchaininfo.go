package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketlens/internal/types"
)

// BlockchainInfoAdapter reads Bitcoin network statistics from the
// blockchain.info query API, which returns bare numbers as plain text. It is
// the fallback tier behind mempool.space.
type BlockchainInfoAdapter struct {
	baseURL string
	client  *httpJSONClient
}

// NewBlockchainInfoAdapter creates an adapter with the given per-request
// timeout and rate limit.
func NewBlockchainInfoAdapter(timeout time.Duration, ratePerSecond float64) *BlockchainInfoAdapter {
	return &BlockchainInfoAdapter{
		baseURL: "https://blockchain.info/q",
		client:  newHTTPJSONClient(timeout, ratePerSecond),
	}
}

func (a *BlockchainInfoAdapter) Name() string { return "blockchain_info" }

// Fetch returns the unconfirmed transaction count, 24h transaction count and
// network hash rate.
func (a *BlockchainInfoAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	if strings.ToUpper(symbol) != "BTC" {
		return failureReading(a.Name(), start, fmt.Errorf("on-chain metrics unsupported for symbol %s", symbol))
	}

	metrics := make(map[string]float64, 3)
	for metric, path := range map[string]string{
		"mempool_tx_count": "/unconfirmedcount",
		"tx_count_24h":     "/24hrtransactioncount",
		"hash_rate_ghs":    "/hashrate",
	} {
		v, err := a.queryNumber(ctx, path)
		if err != nil {
			// The unconfirmed count is the core metric; the rest are optional.
			if metric == "mempool_tx_count" {
				return failureReading(a.Name(), start, err)
			}
			continue
		}
		metrics[metric] = v
	}

	return successReading(a.Name(), start, metrics)
}

func (a *BlockchainInfoAdapter) queryNumber(ctx context.Context, path string) (float64, error) {
	body, err := a.client.get(ctx, a.baseURL+path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable number from %s: %w", path, err)
	}
	return v, nil
}
