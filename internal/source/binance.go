package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"marketlens/internal/interfaces"
	"marketlens/internal/types"
)

// BinanceAdapter reads spot prices and candles from Binance public endpoints.
// It is the tier-0 market data source and the only candle source.
type BinanceAdapter struct {
	client *binance.Client
}

// NewBinanceAdapter creates an adapter. Public market data needs no API keys.
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{client: binance.NewClient("", "")}
}

func (a *BinanceAdapter) Name() string { return "binance" }

// Fetch returns the USDT spot price for the symbol.
func (a *BinanceAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	start := time.Now()
	pair := tradingPair(symbol)

	prices, err := a.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return failureReading(a.Name(), start, err)
	}
	if len(prices) == 0 {
		return failureReading(a.Name(), start, fmt.Errorf("no price returned for %s", pair))
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return failureReading(a.Name(), start, fmt.Errorf("unparseable price %q: %w", prices[0].Price, err))
	}
	if price <= 0 {
		return failureReading(a.Name(), start, fmt.Errorf("out-of-range price %f for %s", price, pair))
	}

	return successReading(a.Name(), start, map[string]float64{
		"price_usd": price,
	})
}

// RecentCandles returns the latest n 5-minute OHLCV bars for the symbol.
func (a *BinanceAdapter) RecentCandles(ctx context.Context, symbol string, n int) ([]interfaces.Candle, error) {
	klines, err := a.client.NewKlinesService().
		Symbol(tradingPair(symbol)).
		Interval("5m").
		Limit(n).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}

	candles := make([]interfaces.Candle, 0, len(klines))
	for _, k := range klines {
		c := interfaces.Candle{Ts: k.OpenTime / 1000}
		var convErr error
		for _, f := range []struct {
			dst *float64
			src string
		}{
			{&c.Open, k.Open},
			{&c.High, k.High},
			{&c.Low, k.Low},
			{&c.Close, k.Close},
			{&c.Vol, k.Volume},
		} {
			v, err := strconv.ParseFloat(f.src, 64)
			if err != nil {
				convErr = err
				break
			}
			*f.dst = v
		}
		if convErr != nil {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// tradingPair maps a bare symbol to its Binance USDT pair.
func tradingPair(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}
