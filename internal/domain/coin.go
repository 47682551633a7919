package domain

import "time"

// MinLiquidityScore is the tradability floor: 24h volume divided by
// market cap must exceed this for a coin to enter the universe.
const MinLiquidityScore = 1e-5

// QuoteAsset is the quote currency every tracked pair settles in.
const QuoteAsset = "USDT"

// CoinSnapshot is one row of the daily universe cache, replaced
// atomically at most once per calendar day.
type CoinSnapshot struct {
	CoinID         string  `json:"coin_id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	MarketCapRank  int     `json:"market_cap_rank"`
	Price          float64 `json:"price"`
	MarketCap      float64 `json:"market_cap"`
	Volume24h      float64 `json:"volume_24h"`
	LiquidityScore float64 `json:"liquidity_score"`
}

// Pair builds the exchange pair string for the coin, e.g. BTC -> BTCUSDT.
func (c CoinSnapshot) Pair() string {
	return c.Symbol + QuoteAsset
}

// DataSource identifies which provider a work item's candles come from.
type DataSource string

const (
	SourceBinance   DataSource = "binance"
	SourceCoinGecko DataSource = "coingecko"
)

// WorkItem is one unit of fill work: a cached coin with its resolved
// pair, chosen source, and last known stored timestamp. Recomputed
// every run, never persisted.
type WorkItem struct {
	Coin          CoinSnapshot
	Pair          string
	Source        DataSource
	LastTimestamp *int64
}

// RunSummary is the result record of one pipeline run.
type RunSummary struct {
	CoinsFetched    int       `json:"coins_fetched"`
	PairsPrepared   int       `json:"pairs_prepared"`
	Processed       int       `json:"processed"`
	Failed          int       `json:"failed"`
	CandlesAdded    int       `json:"candles_added"`
	BinanceCandles  int       `json:"binance_candles"`
	FallbackCandles int       `json:"fallback_candles"`
	CacheRefreshed  bool      `json:"cache_refreshed"`
	ElapsedMs       int64     `json:"elapsed_ms"`
	StartedAt       time.Time `json:"started_at"`
}
