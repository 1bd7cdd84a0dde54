package jobs

import (
	"context"
	"fmt"
	"math"
	"time"

	"marketlens/internal/interfaces"
	"marketlens/internal/ta"
	"marketlens/internal/types"
)

// candleWindow is how many recent bars the indicator set needs. SMA50 is the
// longest lookback, plus one extra bar for RSI.
const candleWindow = 60

// ComputeIndicators pulls recent candles and derives the technical indicator
// payload. FetchedAt is the close time of the latest bar, not the wall clock,
// so freshness checks see the age of the data itself.
func ComputeIndicators(ctx context.Context, candles interfaces.CandleSource, symbol string) (*types.TechnicalPayload, error) {
	bars, err := candles.RecentCandles(ctx, symbol, candleWindow)
	if err != nil {
		return nil, fmt.Errorf("candle fetch failed: %w", err)
	}
	if len(bars) < 51 {
		return nil, fmt.Errorf("need at least 51 candles for the indicator set, got %d", len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	mid, up, low := ta.Bollinger(closes, 20, 2)
	payload := &types.TechnicalPayload{
		Symbol:    symbol,
		LastClose: closes[len(closes)-1],
		SMA20:     ta.SMA(closes, 20),
		SMA50:     ta.SMA(closes, 50),
		RSI14:     ta.RSI(closes, 14),
		BBUpper:   up,
		BBMiddle:  mid,
		BBLower:   low,
		ATR14:     ta.ATR(highs, lows, closes, 14),
		FetchedAt: time.Unix(bars[len(bars)-1].Ts, 0),
	}

	for name, v := range map[string]float64{
		"sma_20": payload.SMA20, "sma_50": payload.SMA50, "rsi_14": payload.RSI14, "atr_14": payload.ATR14,
	} {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("indicator %s is undefined over the candle window", name)
		}
	}

	return payload, nil
}
