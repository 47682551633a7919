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
	"sync"
	"time"

	"coinfeed/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// KlinePageLimit is the maximum candles per klines request.
const KlinePageLimit = 1000

// BinanceProvider resolves tradable pairs and serves daily klines. A
// prioritized host list covers region blocks on the primary domain.
type BinanceProvider struct {
	client     *http.Client
	hosts      []string
	tracer     trace.Tracer
	maxRetries int
	retryBase  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	activeHost string
}

func NewBinanceProvider(hosts []string, maxRetries int, tracer trace.Tracer) *BinanceProvider {
	return &BinanceProvider{
		client:     &http.Client{Timeout: 10 * time.Second},
		hosts:      hosts,
		tracer:     tracer,
		maxRetries: maxRetries,
		retryBase:  time.Second,
		sleep:      sleepCtx,
	}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// TradablePairs returns the set of actively trading USDT pairs. Hosts
// are tried in priority order; a host is abandoned after its retries
// are exhausted or it answers definitively restricted. When every host
// fails the result is ErrResolutionUnavailable, which callers must
// treat as "resolution unavailable" rather than "no pairs".
func (p *BinanceProvider) TradablePairs(ctx context.Context) (map[string]struct{}, error) {
	_, span := p.tracer.Start(ctx, "binance.tradable-pairs")
	defer span.End()

	for _, host := range p.hosts {
		info, err := p.fetchExchangeInfo(ctx, host)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("binance host %s unavailable: %v", host, err)
			continue
		}

		p.mu.Lock()
		p.activeHost = host
		p.mu.Unlock()

		pairs := make(map[string]struct{}, len(info.Symbols))
		for _, s := range info.Symbols {
			if s.Status == "TRADING" && s.QuoteAsset == domain.QuoteAsset {
				pairs[s.Symbol] = struct{}{}
			}
		}
		return pairs, nil
	}
	return nil, ErrResolutionUnavailable
}

func (p *BinanceProvider) fetchExchangeInfo(ctx context.Context, host string) (*exchangeInfo, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.retryBase<<(attempt-1)); err != nil {
				return nil, err
			}
		}

		body, status, err := p.get(ctx, host+"/api/v3/exchangeInfo")
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusUnavailableForLegalReasons || status == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d", ErrRestricted, status)
		}
		if status != http.StatusOK {
			lastErr = fmt.Errorf("binance API error %d", status)
			continue
		}

		var info exchangeInfo
		if err := json.Unmarshal(body, &info); err != nil {
			lastErr = fmt.Errorf("parse exchange info: %w", err)
			continue
		}
		return &info, nil
	}
	return nil, lastErr
}

// Klines fetches one page of daily candles for [startMs, endMs]. Any
// transport or status failure maps to ErrSourceFailed so the fill loop
// falls back instead of retrying in place; a malformed body reads as an
// empty page, the normal termination signal.
func (p *BinanceProvider) Klines(ctx context.Context, pair string, startMs, endMs int64, limit int) ([]domain.Candle, error) {
	_, span := p.tracer.Start(ctx, "binance.klines")
	defer span.End()

	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", "1d")
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	body, status, err := p.get(ctx, p.host()+"/api/v3/klines?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", ErrSourceFailed, pair, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: klines %s: status %d", ErrSourceFailed, pair, status)
	}

	// Kline rows are positional arrays: [openTime, open, high, low,
	// close, volume, ...].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, nil
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		c, ok := parseKline(pair, row)
		if !ok {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(pair string, row []json.RawMessage) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return domain.Candle{}, false
	}

	var fields [5]float64
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return domain.Candle{}, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, false
		}
		fields[i] = f
	}

	return domain.Candle{
		Symbol:    pair,
		Timestamp: openTime,
		Date:      domain.DateString(openTime),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, true
}

// host returns the last host that served exchange info, falling back
// to the highest-priority entry.
func (p *BinanceProvider) host() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.activeHost != "" {
		return p.activeHost
	}
	return p.hosts[0]
}

func (p *BinanceProvider) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
