package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coinfeed/internal/domain"
	"coinfeed/internal/provider"
)

type fakeFetcher struct {
	coins []domain.CoinSnapshot
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchTopCoins(_ context.Context, _, _ int) ([]domain.CoinSnapshot, error) {
	f.calls.Add(1)
	return f.coins, f.err
}

type fakePreparer struct {
	items     []domain.WorkItem
	refreshed bool
	err       error
}

func (f *fakePreparer) PrepareWorklist(_ context.Context, _ []domain.CoinSnapshot) ([]domain.WorkItem, bool, error) {
	return f.items, f.refreshed, f.err
}

// fakeFiller returns a fixed candle count per pair, an error for pairs
// in failPairs, and can block until released to hold a run open.
type fakeFiller struct {
	mu        sync.Mutex
	perPair   map[string]int
	failPairs map[string]bool
	block     chan struct{}
	filled    []string
}

func (f *fakeFiller) Fill(_ context.Context, item domain.WorkItem) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.filled = append(f.filled, item.Pair)
	f.mu.Unlock()
	if f.failPairs[item.Pair] {
		return 0, provider.ErrSourceFailed
	}
	return f.perPair[item.Pair], nil
}

func workItems(pairs ...string) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, len(pairs))
	for _, p := range pairs {
		items = append(items, domain.WorkItem{Pair: p, Source: domain.SourceBinance})
	}
	return items
}

func TestRunAggregatesSummary(t *testing.T) {
	fetcher := &fakeFetcher{coins: testCoins("BTC", "ETH", "XYZ")}
	items := workItems("BTCUSDT", "ETHUSDT", "XYZUSDT")
	items[2].Source = domain.SourceCoinGecko
	preparer := &fakePreparer{items: items, refreshed: true}
	filler := &fakeFiller{
		perPair:   map[string]int{"BTCUSDT": 10, "XYZUSDT": 3},
		failPairs: map[string]bool{"ETHUSDT": true},
	}
	s := NewPipelineService(testTracer, fetcher, preparer, filler, nil, 4, 250, 2)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if summary.CoinsFetched != 3 {
		t.Errorf("expected 3 coins fetched, got %d", summary.CoinsFetched)
	}
	if summary.PairsPrepared != 3 {
		t.Errorf("expected 3 pairs prepared, got %d", summary.PairsPrepared)
	}
	if summary.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", summary.Processed)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", summary.Failed)
	}
	if summary.CandlesAdded != 13 {
		t.Errorf("expected 13 candles added, got %d", summary.CandlesAdded)
	}
	if summary.BinanceCandles != 10 {
		t.Errorf("expected 10 binance candles, got %d", summary.BinanceCandles)
	}
	if summary.FallbackCandles != 3 {
		t.Errorf("expected 3 fallback candles, got %d", summary.FallbackCandles)
	}
	if !summary.CacheRefreshed {
		t.Error("expected cache refreshed flag set")
	}
}

func TestRunIsExclusive(t *testing.T) {
	fetcher := &fakeFetcher{coins: testCoins("BTC")}
	preparer := &fakePreparer{items: workItems("BTCUSDT")}
	filler := &fakeFiller{block: make(chan struct{})}
	s := NewPipelineService(testTracer, fetcher, preparer, filler, nil, 4, 250, 1)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	// wait until the first run holds the lock
	for !s.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("rejected run must not touch the provider, got %d fetches", got)
	}

	close(filler.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected running flag cleared after run")
	}
}

func TestRunFetchErrorReleasesLock(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	s := NewPipelineService(testTracer, fetcher, &fakePreparer{}, &fakeFiller{}, nil, 4, 250, 1)

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if s.IsRunning() {
		t.Error("expected running flag cleared after failed run")
	}

	// the next run must acquire the lock again
	fetcher.err = nil
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("expected recovery run to succeed, got %v", err)
	}
}

func TestRunProcessesEveryItem(t *testing.T) {
	pairs := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"}
	fetcher := &fakeFetcher{coins: testCoins("A", "B", "C", "D", "E")}
	preparer := &fakePreparer{items: workItems(pairs...)}
	filler := &fakeFiller{perPair: map[string]int{}}
	s := NewPipelineService(testTracer, fetcher, preparer, filler, nil, 4, 250, 3)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if summary.Processed != len(pairs) {
		t.Errorf("expected %d processed, got %d", len(pairs), summary.Processed)
	}
	seen := make(map[string]bool)
	for _, p := range filler.filled {
		seen[p] = true
	}
	for _, p := range pairs {
		if !seen[p] {
			t.Errorf("pair %s never filled", p)
		}
	}
}

func TestLastSummaryAfterRun(t *testing.T) {
	fetcher := &fakeFetcher{coins: testCoins("BTC")}
	preparer := &fakePreparer{items: workItems("BTCUSDT")}
	filler := &fakeFiller{perPair: map[string]int{"BTCUSDT": 7}}
	s := NewPipelineService(testTracer, fetcher, preparer, filler, nil, 4, 250, 1)

	if summary, err := s.LastSummary(context.Background()); err != nil || summary != nil {
		t.Fatalf("expected no summary before first run, got %+v, %v", summary, err)
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	summary, err := s.LastSummary(context.Background())
	if err != nil {
		t.Fatalf("expected summary after run, got %v", err)
	}
	if summary == nil || summary.CandlesAdded != 7 {
		t.Errorf("expected summary with 7 candles, got %+v", summary)
	}
}
