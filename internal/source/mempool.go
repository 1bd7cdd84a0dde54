package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketlens/internal/types"
)

// MempoolSpaceAdapter reads Bitcoin mempool statistics from mempool.space.
// On-chain metrics only exist for BTC; other symbols fail cleanly and the
// phase degrades.
type MempoolSpaceAdapter struct {
	baseURL string
	client  *httpJSONClient
}

// NewMempoolSpaceAdapter creates an adapter with the given per-request
// timeout and rate limit.
func NewMempoolSpaceAdapter(timeout time.Duration, ratePerSecond float64) *MempoolSpaceAdapter {
	return &MempoolSpaceAdapter{
		baseURL: "https://mempool.space/api",
		client:  newHTTPJSONClient(timeout, ratePerSecond),
	}
}

func (a *MempoolSpaceAdapter) Name() string { return "mempool_space" }

// Fetch returns the unconfirmed transaction count and mempool vsize.
func (a *MempoolSpaceAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	if strings.ToUpper(symbol) != "BTC" {
		return failureReading(a.Name(), start, fmt.Errorf("on-chain metrics unsupported for symbol %s", symbol))
	}

	var resp struct {
		Count    float64 `json:"count"`
		Vsize    float64 `json:"vsize"`
		TotalFee float64 `json:"total_fee"`
	}
	if err := a.client.getJSON(ctx, a.baseURL+"/mempool", &resp); err != nil {
		return failureReading(a.Name(), start, err)
	}

	return successReading(a.Name(), start, map[string]float64{
		"mempool_tx_count": resp.Count,
		"mempool_vsize":    resp.Vsize,
	})
}
