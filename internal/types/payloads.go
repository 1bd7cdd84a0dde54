package types

import "time"

// Payload is implemented by every per-phase dataset the pipeline caches.
// Each concrete payload carries its own quality score so that the score is
// never stored apart from the data it describes.
type Payload interface {
	DataType() DataType
	Quality() int
}

// MarketDataPayload is the triangulated spot price for a symbol.
type MarketDataPayload struct {
	Symbol           string              `json:"symbol"`
	PriceUSD         float64             `json:"price_usd"`
	PerSourceValues  map[string]*float64 `json:"per_source_values"`
	MaxDivergencePct float64             `json:"max_divergence_pct"`
	QualityScore     int                 `json:"quality_score"`
	FetchedAt        time.Time           `json:"fetched_at"`
}

func (p MarketDataPayload) DataType() DataType { return DataMarket }
func (p MarketDataPayload) Quality() int       { return p.QualityScore }

// SentimentPayload is the market sentiment snapshot (fear & greed style index).
type SentimentPayload struct {
	Symbol         string    `json:"symbol"`
	IndexValue     float64   `json:"index_value"`
	Classification string    `json:"classification"`
	QualityScore   int       `json:"quality_score"`
	FetchedAt      time.Time `json:"fetched_at"`
}

func (p SentimentPayload) DataType() DataType { return DataSentiment }
func (p SentimentPayload) Quality() int       { return p.QualityScore }

// TechnicalPayload carries indicator values computed from recent candles.
type TechnicalPayload struct {
	Symbol       string    `json:"symbol"`
	LastClose    float64   `json:"last_close"`
	SMA20        float64   `json:"sma_20"`
	SMA50        float64   `json:"sma_50"`
	RSI14        float64   `json:"rsi_14"`
	BBUpper      float64   `json:"bb_upper"`
	BBMiddle     float64   `json:"bb_middle"`
	BBLower      float64   `json:"bb_lower"`
	ATR14        float64   `json:"atr_14"`
	QualityScore int       `json:"quality_score"`
	FetchedAt    time.Time `json:"fetched_at"`
}

func (p TechnicalPayload) DataType() DataType { return DataTechnical }
func (p TechnicalPayload) Quality() int       { return p.QualityScore }

// OnChainPayload carries network-level metrics for a chain.
type OnChainPayload struct {
	Symbol         string    `json:"symbol"`
	MempoolTxCount float64   `json:"mempool_tx_count"`
	TxCount24h     float64   `json:"tx_count_24h"`
	HashRateEHS    float64   `json:"hash_rate_ehs"`
	QualityScore   int       `json:"quality_score"`
	FetchedAt      time.Time `json:"fetched_at"`
}

func (p OnChainPayload) DataType() DataType { return DataOnChain }
func (p OnChainPayload) Quality() int       { return p.QualityScore }

// NewsPayload summarizes recent headline coverage for a symbol.
type NewsPayload struct {
	Symbol       string    `json:"symbol"`
	ArticleCount int       `json:"article_count"`
	Headlines    []string  `json:"headlines,omitempty"`
	QualityScore int       `json:"quality_score"`
	FetchedAt    time.Time `json:"fetched_at"`
}

func (p NewsPayload) DataType() DataType { return DataNews }
func (p NewsPayload) Quality() int       { return p.QualityScore }

// AnalysisContext aggregates every collected phase payload for the analyst.
// Nil fields mean the corresponding optional phase produced no data.
type AnalysisContext struct {
	Symbol         string             `json:"symbol"`
	Market         *MarketDataPayload `json:"market,omitempty"`
	Sentiment      *SentimentPayload  `json:"sentiment,omitempty"`
	Technical      *TechnicalPayload  `json:"technical,omitempty"`
	OnChain        *OnChainPayload    `json:"onchain,omitempty"`
	News           *NewsPayload       `json:"news,omitempty"`
	OverallQuality int                `json:"overall_quality"`
}

// Verdict is the analyst's structured output, opaque to the pipeline core.
type Verdict struct {
	Outlook    string   `json:"outlook"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
	Risks      []string `json:"risks,omitempty"`
}
