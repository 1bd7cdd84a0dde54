package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"marketlens/internal/types"
)

// FearGreedAdapter reads the crypto Fear & Greed index from alternative.me.
// The index is market-wide, so the symbol only matters for labeling.
type FearGreedAdapter struct {
	baseURL string
	client  *httpJSONClient
}

// NewFearGreedAdapter creates an adapter with the given per-request timeout
// and rate limit.
func NewFearGreedAdapter(timeout time.Duration, ratePerSecond float64) *FearGreedAdapter {
	return &FearGreedAdapter{
		baseURL: "https://api.alternative.me",
		client:  newHTTPJSONClient(timeout, ratePerSecond),
	}
}

func (a *FearGreedAdapter) Name() string { return "fear_greed" }

// Fetch returns the current index value and its data timestamp.
func (a *FearGreedAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()

	var resp struct {
		Data []struct {
			Value     string `json:"value"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, a.baseURL+"/fng/", &resp); err != nil {
		return failureReading(a.Name(), start, err)
	}
	if len(resp.Data) == 0 {
		return failureReading(a.Name(), start, fmt.Errorf("empty fear & greed response"))
	}

	value, err := strconv.ParseFloat(resp.Data[0].Value, 64)
	if err != nil {
		return failureReading(a.Name(), start, fmt.Errorf("unparseable index value %q: %w", resp.Data[0].Value, err))
	}
	if value < 0 || value > 100 {
		return failureReading(a.Name(), start, fmt.Errorf("out-of-range index value %f", value))
	}

	metrics := map[string]float64{"index_value": value}
	if ts, err := strconv.ParseInt(resp.Data[0].Timestamp, 10, 64); err == nil {
		metrics["data_timestamp"] = float64(ts)
	}

	return successReading(a.Name(), start, metrics)
}

// ClassifyFearGreed maps an index value to its conventional label.
func ClassifyFearGreed(value float64) string {
	switch {
	case value < 25:
		return "Extreme Fear"
	case value < 45:
		return "Fear"
	case value < 55:
		return "Neutral"
	case value < 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}
