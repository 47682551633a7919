package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinfeed/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// CoinGeckoProvider fetches the ranked coin universe and, as the
// fallback candle source, per-coin historical price series.
type CoinGeckoProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	tracer     trace.Tracer
	limiter    *RateLimiter
	maxRetries int
	pageDelay  time.Duration
	retryBase  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewCoinGeckoProvider creates a provider with built-in rate limiting.
func NewCoinGeckoProvider(baseURL, apiKey string, maxRetries, pageDelayMs int, tracer trace.Tracer) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		tracer:     tracer,
		limiter:    NewRateLimiter(10, 1500*time.Millisecond),
		maxRetries: maxRetries,
		pageDelay:  time.Duration(pageDelayMs) * time.Millisecond,
		retryBase:  2 * time.Second,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// marketRow is one /coins/markets row. Rank, price, and market cap are
// pointers so null rows can be filtered rather than zero-valued.
type marketRow struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	MarketCapRank *int     `json:"market_cap_rank"`
	CurrentPrice  *float64 `json:"current_price"`
	MarketCap     *float64 `json:"market_cap"`
	TotalVolume   *float64 `json:"total_volume"`
}

// FetchTopCoins retrieves pageCount pages of perPage coins ordered by
// market cap descending. A page that keeps failing is treated as empty
// rather than failing the whole run. The result is validity-filtered
// and truncated at 1000 entries, preserving provider order.
func (p *CoinGeckoProvider) FetchTopCoins(ctx context.Context, pageCount, perPage int) ([]domain.CoinSnapshot, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-top-coins")
	defer span.End()

	var raw []marketRow
	for page := 1; page <= pageCount; page++ {
		rows, err := p.fetchMarketsPage(ctx, page, perPage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("coingecko markets page %d failed, treating as empty: %v", page, err)
		}
		raw = append(raw, rows...)

		if page < pageCount && p.pageDelay > 0 {
			if err := p.sleep(ctx, p.pageDelay); err != nil {
				return nil, err
			}
		}
	}

	coins := filterValidCoins(raw)
	log.Printf("coingecko universe: %d valid of %d fetched", len(coins), len(raw))
	return coins, nil
}

func (p *CoinGeckoProvider) fetchMarketsPage(ctx context.Context, page, perPage int) ([]marketRow, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	body, err := p.doRequest(ctx, p.baseURL+"/coins/markets?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var rows []marketRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse markets page %d: %w", page, err)
	}
	return rows, nil
}

// filterValidCoins drops rows with missing identity, null rank/price/
// market cap, or a liquidity score at or below the floor, then caps the
// list at 1000 preserving market-cap order.
func filterValidCoins(rows []marketRow) []domain.CoinSnapshot {
	coins := make([]domain.CoinSnapshot, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" || r.Symbol == "" || r.Name == "" {
			continue
		}
		if r.MarketCapRank == nil || r.CurrentPrice == nil || r.MarketCap == nil || *r.MarketCap == 0 {
			continue
		}
		vol := 0.0
		if r.TotalVolume != nil {
			vol = *r.TotalVolume
		}
		liquidity := vol / *r.MarketCap
		if liquidity <= domain.MinLiquidityScore {
			continue
		}
		coins = append(coins, domain.CoinSnapshot{
			CoinID:         r.ID,
			Symbol:         strings.ToUpper(r.Symbol),
			Name:           r.Name,
			MarketCapRank:  *r.MarketCapRank,
			Price:          *r.CurrentPrice,
			MarketCap:      *r.MarketCap,
			Volume24h:      vol,
			LiquidityScore: liquidity,
		})
		if len(coins) >= 1000 {
			break
		}
	}
	return coins
}

// FetchDailyRange fetches the coin's price series over [startMs, endMs]
// and shapes it into daily candles. The series is price-only, so OHLC
// is degenerate: open=high=low=close. Used as the fallback source when
// the exchange cannot serve a pair.
func (p *CoinGeckoProvider) FetchDailyRange(ctx context.Context, coinID, pair string, startMs, endMs int64) ([]domain.Candle, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-daily-range")
	defer span.End()

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("from", strconv.FormatInt(startMs/1000, 10))
	q.Set("to", strconv.FormatInt(endMs/1000, 10))

	body, err := p.doRequest(ctx, fmt.Sprintf("%s/coins/%s/market_chart/range?%s", p.baseURL, url.PathEscape(coinID), q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: market chart for %s: %v", ErrSourceFailed, coinID, err)
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		// Malformed body terminates the range like an exhausted source.
		return nil, nil
	}

	return buildDailyCandles(pair, raw.Prices, raw.TotalVolumes), nil
}

// buildDailyCandles collapses a price-only series into one candle per
// UTC day, first price of the day wins, with the day's reported volume
// when present.
func buildDailyCandles(pair string, prices, volumes [][]float64) []domain.Candle {
	volByDay := make(map[int64]float64, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volByDay[domain.DayStart(int64(v[0]))] = v[1]
		}
	}

	seen := make(map[int64]bool, len(prices))
	candles := make([]domain.Candle, 0, len(prices))
	for _, pt := range prices {
		if len(pt) < 2 {
			continue
		}
		day := domain.DayStart(int64(pt[0]))
		if seen[day] {
			continue
		}
		seen[day] = true
		price := pt[1]
		candles = append(candles, domain.Candle{
			Symbol:    pair,
			Timestamp: day,
			Date:      domain.DateString(day),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    volByDay[day],
		})
	}
	return candles
}

// doRequest performs a GET with rate limiting and 429-aware retries. A
// server-supplied Retry-After wins over exponential backoff.
func (p *CoinGeckoProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if p.apiKey != "" {
			req.Header.Set("x-cg-pro-api-key", p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
		}
		if attempt >= p.maxRetries {
			return nil, fmt.Errorf("coingecko rate limited after %d attempts", attempt+1)
		}

		delay := p.retryBase << attempt
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			delay = ra
		}
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
