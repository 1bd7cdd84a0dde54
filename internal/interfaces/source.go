package interfaces

import (
	"context"

	"marketlens/internal/types"
)

// SourceAdapter fetches one raw reading for a symbol from a single provider.
// Implementations must honor ctx deadlines and must never panic or leak
// provider errors past their boundary: any failure becomes a reading with
// Status Failed or Timeout.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, symbol string) types.SourceReading
}

// CandleSource provides recent OHLCV candles for indicator computation.
type CandleSource interface {
	Name() string
	RecentCandles(ctx context.Context, symbol string, n int) ([]Candle, error)
}

// Candle is one OHLCV bar.
type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// HeadlineSource scrapes recent headlines mentioning a symbol.
type HeadlineSource interface {
	Name() string
	Headlines(ctx context.Context, symbol string, max int) ([]string, error)
}
