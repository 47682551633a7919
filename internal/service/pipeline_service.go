package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"coinfeed/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyRunning is returned when a run is requested while another
// is in flight. Retryable: the caller should try again later, not wait.
var ErrAlreadyRunning = errors.New("pipeline already running")

const (
	summaryCacheKey = "pipeline:last_summary"
	summaryCacheTTL = 48 * time.Hour
)

// UniverseFetcher retrieves the ranked coin universe from the provider.
type UniverseFetcher interface {
	FetchTopCoins(ctx context.Context, pageCount, perPage int) ([]domain.CoinSnapshot, error)
}

// WorklistPreparer is the cache gate producing the fill worklist.
type WorklistPreparer interface {
	PrepareWorklist(ctx context.Context, raw []domain.CoinSnapshot) ([]domain.WorkItem, bool, error)
}

// GapFiller fills one work item's missing ranges.
type GapFiller interface {
	Fill(ctx context.Context, item domain.WorkItem) (int, error)
}

// RedisClient is the subset of redis used to persist the last summary
// across restarts.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PipelineService composes fetch, gate, and fill phases into one run.
// Runs are mutually exclusive: a second request while one is in flight
// is rejected immediately rather than queued.
type PipelineService struct {
	tracer    trace.Tracer
	fetcher   UniverseFetcher
	universe  WorklistPreparer
	filler    GapFiller
	redis     RedisClient
	pageCount int
	perPage   int
	workers   int

	runMu   sync.Mutex
	running atomic.Bool

	summaryMu   sync.RWMutex
	lastSummary *domain.RunSummary
}

func NewPipelineService(
	tracer trace.Tracer,
	fetcher UniverseFetcher,
	universe WorklistPreparer,
	filler GapFiller,
	redisClient RedisClient,
	pageCount, perPage, workers int,
) *PipelineService {
	if workers <= 0 {
		workers = 1
	}
	return &PipelineService{
		tracer:    tracer,
		fetcher:   fetcher,
		universe:  universe,
		filler:    filler,
		redis:     redisClient,
		pageCount: pageCount,
		perPage:   perPage,
		workers:   workers,
	}
}

// Run executes one full pipeline pass: universe fetch, cache gate, and
// the parallel fill phase. Per-symbol failures are isolated and
// counted; run-level errors propagate with the lock released.
func (s *PipelineService) Run(ctx context.Context) (domain.RunSummary, error) {
	if !s.runMu.TryLock() {
		return domain.RunSummary{}, ErrAlreadyRunning
	}
	defer s.runMu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	ctx, span := s.tracer.Start(ctx, "pipeline-service.run")
	defer span.End()

	started := time.Now()

	raw, err := s.fetcher.FetchTopCoins(ctx, s.pageCount, s.perPage)
	if err != nil {
		return domain.RunSummary{}, err
	}

	items, refreshed, err := s.universe.PrepareWorklist(ctx, raw)
	if err != nil {
		return domain.RunSummary{}, err
	}

	summary := s.fillWorklist(ctx, items)
	summary.CoinsFetched = len(raw)
	summary.PairsPrepared = len(items)
	summary.CacheRefreshed = refreshed
	summary.StartedAt = started.UTC()
	summary.ElapsedMs = time.Since(started).Milliseconds()

	s.setLastSummary(ctx, summary)
	log.Printf("pipeline run done: %d pairs, %d candles added, %d failed in %dms",
		summary.PairsPrepared, summary.CandlesAdded, summary.Failed, summary.ElapsedMs)
	return summary, nil
}

// fillWorklist runs the gap-fill engine over the worklist under a
// bounded worker pool owned by this run.
func (s *PipelineService) fillWorklist(ctx context.Context, items []domain.WorkItem) domain.RunSummary {
	workers := s.workers
	if workers > len(items) {
		workers = len(items)
	}

	var processed, failed, added, binanceAdded, fallbackAdded int64
	jobs := make(chan domain.WorkItem)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				n, err := s.filler.Fill(ctx, item)
				atomic.AddInt64(&processed, 1)
				atomic.AddInt64(&added, int64(n))
				switch item.Source {
				case domain.SourceBinance:
					atomic.AddInt64(&binanceAdded, int64(n))
				case domain.SourceCoinGecko:
					atomic.AddInt64(&fallbackAdded, int64(n))
				}
				if err != nil {
					// One symbol's failure never aborts its siblings.
					atomic.AddInt64(&failed, 1)
					log.Printf("fill %s failed: %v", item.Pair, err)
				}
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	return domain.RunSummary{
		Processed:       int(processed),
		Failed:          int(failed),
		CandlesAdded:    int(added),
		BinanceCandles:  int(binanceAdded),
		FallbackCandles: int(fallbackAdded),
	}
}

// IsRunning reports whether a run is currently in flight.
func (s *PipelineService) IsRunning() bool {
	return s.running.Load()
}

// LastSummary returns the most recent run summary, falling back to the
// Redis copy after a restart.
func (s *PipelineService) LastSummary(ctx context.Context) (*domain.RunSummary, error) {
	s.summaryMu.RLock()
	summary := s.lastSummary
	s.summaryMu.RUnlock()
	if summary != nil {
		return summary, nil
	}

	if s.redis == nil {
		return nil, nil
	}
	data, err := s.redis.Get(ctx, summaryCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached domain.RunSummary
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (s *PipelineService) setLastSummary(ctx context.Context, summary domain.RunSummary) {
	s.summaryMu.Lock()
	s.lastSummary = &summary
	s.summaryMu.Unlock()

	if s.redis == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, summaryCacheKey, data, summaryCacheTTL).Err(); err != nil {
		log.Printf("redis summary cache write error: %v", err)
	}
}
