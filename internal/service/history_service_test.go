package service

import (
	"context"
	"testing"

	"coinfeed/internal/domain"
	"coinfeed/internal/provider"
)

// fillingFiller writes candles into the store when invoked, the way
// the real backfill engine would.
type fillingFiller struct {
	store *memStore
	days  []int64
	err   error
	items []domain.WorkItem
}

func (f *fillingFiller) Fill(ctx context.Context, item domain.WorkItem) (int, error) {
	f.items = append(f.items, item)
	if f.err != nil {
		return 0, f.err
	}
	var candles []domain.Candle
	for _, ts := range f.days {
		candles = append(candles, domain.Candle{
			Symbol:    item.Pair,
			Timestamp: ts,
			Date:      domain.DateString(ts),
			Open:      1, High: 1, Low: 1, Close: 1, Volume: 1,
		})
	}
	return f.store.InsertIgnoreCandles(ctx, candles)
}

func TestGetHistoryFromStore(t *testing.T) {
	store := newMemStore()
	store.seed("BTCUSDT", days(0, 4)...)
	filler := &fillingFiller{store: store}
	s := NewHistoryService(testTracer, store, &fakeUniverseStore{}, filler, nil)

	candles, err := s.GetHistory(context.Background(), "btc", 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(candles) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			t.Fatal("expected candles ordered oldest first")
		}
	}
	if len(filler.items) != 0 {
		t.Errorf("expected no fill when history exists, got %d", len(filler.items))
	}
}

func TestGetHistoryMissTriggersFill(t *testing.T) {
	store := newMemStore()
	universe := &fakeUniverseStore{coins: testCoins("NEW")}
	filler := &fillingFiller{store: store, days: days(0, 2)}
	s := NewHistoryService(testTracer, store, universe, filler, nil)

	candles, err := s.GetHistory(context.Background(), "new", 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles after on-demand fill, got %d", len(candles))
	}
	if len(filler.items) != 1 {
		t.Fatalf("expected exactly 1 fill, got %d", len(filler.items))
	}
	item := filler.items[0]
	if item.Pair != "NEWUSDT" {
		t.Errorf("expected pair NEWUSDT, got %s", item.Pair)
	}
	if item.Source != domain.SourceBinance {
		t.Errorf("expected binance source, got %s", item.Source)
	}
	if item.Coin.CoinID != "coin-NEW" {
		t.Errorf("expected universe row attached, got %+v", item.Coin)
	}
}

func TestGetHistoryUnknownSymbolStillFills(t *testing.T) {
	store := newMemStore()
	filler := &fillingFiller{store: store, days: days(0, 1)}
	s := NewHistoryService(testTracer, store, &fakeUniverseStore{}, filler, nil)

	candles, err := s.GetHistory(context.Background(), "zzz", 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if filler.items[0].Coin.CoinID != "" {
		t.Errorf("expected empty coin row for unknown symbol, got %+v", filler.items[0].Coin)
	}
}

func TestGetHistoryFillErrorSurfaces(t *testing.T) {
	store := newMemStore()
	filler := &fillingFiller{store: store, err: provider.ErrSourceFailed}
	s := NewHistoryService(testTracer, store, &fakeUniverseStore{}, filler, nil)

	if _, err := s.GetHistory(context.Background(), "zzz", 100); err == nil {
		t.Fatal("expected fill error to surface")
	}
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	store := newMemStore()
	store.seed("BTCUSDT", days(0, 9)...)
	s := NewHistoryService(testTracer, store, &fakeUniverseStore{}, &fillingFiller{store: store}, nil)

	candles, err := s.GetHistory(context.Background(), "BTC", 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	// the newest 3 days, still oldest first
	if candles[0].Timestamp != day(7) || candles[2].Timestamp != day(9) {
		t.Errorf("expected days 7-9, got %d-%d", candles[0].Timestamp, candles[2].Timestamp)
	}
}
