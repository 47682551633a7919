package service

import (
	"context"
	"sort"
	"sync"

	"coinfeed/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

// memStore is an in-memory stand-in for the candle repository with the
// same upsert-ignore semantics on (symbol, timestamp).
type memStore struct {
	mu   sync.Mutex
	rows map[string]map[int64]domain.Candle
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[int64]domain.Candle)}
}

func (m *memStore) InsertIgnoreCandles(_ context.Context, candles []domain.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, c := range candles {
		bySym, ok := m.rows[c.Symbol]
		if !ok {
			bySym = make(map[int64]domain.Candle)
			m.rows[c.Symbol] = bySym
		}
		if _, exists := bySym[c.Timestamp]; exists {
			continue
		}
		bySym[c.Timestamp] = c
		inserted++
	}
	return inserted, nil
}

func (m *memStore) TimeBounds(_ context.Context, symbol string) (*int64, *int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySym := m.rows[symbol]
	if len(bySym) == 0 {
		return nil, nil, nil
	}
	var minTs, maxTs int64
	first := true
	for ts := range bySym {
		if first || ts < minTs {
			minTs = ts
		}
		if first || ts > maxTs {
			maxTs = ts
		}
		first = false
	}
	return &minTs, &maxTs, nil
}

func (m *memStore) LastTimestamp(_ context.Context, symbol string) (*int64, error) {
	_, maxTs, err := m.TimeBounds(context.Background(), symbol)
	return maxTs, err
}

func (m *memStore) GetHistory(_ context.Context, symbol string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candles []domain.Candle
	for _, c := range m.rows[symbol] {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (m *memStore) timestamps(symbol string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int64
	for ts := range m.rows[symbol] {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *memStore) seed(symbol string, timestamps ...int64) {
	for _, ts := range timestamps {
		m.InsertIgnoreCandles(context.Background(), []domain.Candle{{
			Symbol:    symbol,
			Timestamp: ts,
			Date:      domain.DateString(ts),
			Open:      1, High: 1, Low: 1, Close: 1, Volume: 1,
		}})
	}
}

// klineRange records one Klines request.
type klineRange struct {
	start, end int64
}

// fakeKlines serves candles out of a fixed daily inventory, honoring
// the page limit, and optionally fails every request.
type fakeKlines struct {
	mu        sync.Mutex
	available []int64 // day-start timestamps the source has data for
	failWith  error
	failFrom  int // fail requests numbered failFrom and later (1-based), 0 = all
	requests  []klineRange
}

func (f *fakeKlines) Klines(_ context.Context, pair string, startMs, endMs int64, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	f.requests = append(f.requests, klineRange{start: startMs, end: endMs})
	n := len(f.requests)
	f.mu.Unlock()

	if f.failWith != nil && n >= f.failFrom {
		return nil, f.failWith
	}

	var out []domain.Candle
	for _, ts := range f.available {
		if ts < startMs || ts > endMs {
			continue
		}
		out = append(out, domain.Candle{
			Symbol:    pair,
			Timestamp: ts,
			Date:      domain.DateString(ts),
			Open:      2, High: 3, Low: 1, Close: 2.5, Volume: 10,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeKlines) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeHistory is the fallback source: price-only series over a range.
type fakeHistory struct {
	mu        sync.Mutex
	available []int64
	failWith  error
	requests  []klineRange
}

func (f *fakeHistory) FetchDailyRange(_ context.Context, coinID, pair string, startMs, endMs int64) ([]domain.Candle, error) {
	f.mu.Lock()
	f.requests = append(f.requests, klineRange{start: startMs, end: endMs})
	f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	var out []domain.Candle
	for _, ts := range f.available {
		if ts < startMs || ts > endMs {
			continue
		}
		out = append(out, domain.Candle{
			Symbol:    pair,
			Timestamp: ts,
			Date:      domain.DateString(ts),
			Open:      5, High: 5, Low: 5, Close: 5, Volume: 0,
		})
	}
	return out, nil
}

// fakeUniverseStore keeps the universe cache and stamp in memory.
type fakeUniverseStore struct {
	mu           sync.Mutex
	coins        []domain.CoinSnapshot
	stamp        string
	replaceCalls int
}

func (f *fakeUniverseStore) ReplaceTopCoins(_ context.Context, coins []domain.CoinSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coins = append([]domain.CoinSnapshot(nil), coins...)
	f.replaceCalls++
	return nil
}

func (f *fakeUniverseStore) ListTopCoins(_ context.Context) ([]domain.CoinSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CoinSnapshot(nil), f.coins...), nil
}

func (f *fakeUniverseStore) LastUniverseUpdate(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stamp, nil
}

func (f *fakeUniverseStore) SetLastUniverseUpdate(_ context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamp = date
	return nil
}

func (f *fakeUniverseStore) FindBySymbol(_ context.Context, symbol string) (*domain.CoinSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coins {
		if c.Symbol == symbol {
			coin := c
			return &coin, nil
		}
	}
	return nil, nil
}

// fakeResolver returns a fixed pair set or a resolution error.
type fakeResolver struct {
	pairs   map[string]struct{}
	failErr error
}

func (f *fakeResolver) TradablePairs(_ context.Context) (map[string]struct{}, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.pairs, nil
}
