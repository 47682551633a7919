package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"coinfeed/internal/domain"
	"coinfeed/internal/provider"

	"go.opentelemetry.io/otel/trace"
)

// CandleStore is the write side of the time-series store.
type CandleStore interface {
	InsertIgnoreCandles(ctx context.Context, candles []domain.Candle) (int, error)
	TimeBounds(ctx context.Context, symbol string) (*int64, *int64, error)
}

// KlineSource serves one page of daily candles for a range. A short or
// empty page means the source has no more data there; ErrSourceFailed
// means the attempt is over and fallback should take the range.
type KlineSource interface {
	Klines(ctx context.Context, pair string, startMs, endMs int64, limit int) ([]domain.Candle, error)
}

// HistorySource is the secondary provider: one call covers a whole
// range with a price-only daily series.
type HistorySource interface {
	FetchDailyRange(ctx context.Context, coinID, pair string, startMs, endMs int64) ([]domain.Candle, error)
}

// BackfillService fills the store's gaps for one pair at a time.
type BackfillService struct {
	tracer          trace.Tracer
	store           CandleStore
	primary         KlineSource
	fallback        HistorySource
	fallbackEnabled bool
	lookbackYears   int
	now             func() time.Time
}

func NewBackfillService(
	tracer trace.Tracer,
	store CandleStore,
	primary KlineSource,
	fallback HistorySource,
	fallbackEnabled bool,
	lookbackYears int,
) *BackfillService {
	return &BackfillService{
		tracer:          tracer,
		store:           store,
		primary:         primary,
		fallback:        fallback,
		fallbackEnabled: fallbackEnabled,
		lookbackYears:   lookbackYears,
		now:             time.Now,
	}
}

// Fill computes the pair's missing ranges against the store and
// downloads them. Returns the number of candles actually inserted.
// Left and right gaps are independent; both may fill in one call.
func (s *BackfillService) Fill(ctx context.Context, item domain.WorkItem) (int, error) {
	ctx, span := s.tracer.Start(ctx, "backfill-service.fill")
	defer span.End()

	nowMs := s.now().UnixMilli()
	windowStart := s.windowStart()

	minTs, maxTs, err := s.store.TimeBounds(ctx, item.Pair)
	if err != nil {
		return 0, err
	}

	if minTs == nil {
		return s.backfillRange(ctx, item, windowStart, nowMs)
	}

	total := 0
	if *minTs > windowStart {
		n, err := s.backfillRange(ctx, item, windowStart, *minTs-1)
		total += n
		if err != nil {
			return total, err
		}
	}
	if *maxTs+domain.DayMillis < nowMs {
		n, err := s.backfillRange(ctx, item, *maxTs+domain.DayMillis, nowMs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *BackfillService) windowStart() int64 {
	if s.lookbackYears <= 0 {
		return 0
	}
	return domain.DayStart(s.now().UTC().AddDate(-s.lookbackYears, 0, 0).UnixMilli())
}

// backfillRange downloads [startMs, endMs] from the item's source and
// writes the collected candles as one idempotent batch. On a primary
// sentinel failure the remaining range comes from the fallback source;
// whatever was collected before a hard failure is still written.
func (s *BackfillService) backfillRange(ctx context.Context, item domain.WorkItem, startMs, endMs int64) (int, error) {
	if startMs >= endMs {
		return 0, nil
	}

	collected, fetchErr := s.collectRange(ctx, item, startMs, endMs)

	inserted, writeErr := s.store.InsertIgnoreCandles(ctx, collected)
	if writeErr != nil {
		return inserted, writeErr
	}
	return inserted, fetchErr
}

func (s *BackfillService) collectRange(ctx context.Context, item domain.WorkItem, startMs, endMs int64) ([]domain.Candle, error) {
	if item.Source == domain.SourceCoinGecko {
		return s.fallback.FetchDailyRange(ctx, item.Coin.CoinID, item.Pair, startMs, endMs)
	}

	var collected []domain.Candle
	cursor := startMs
	for cursor < endMs {
		chunk, err := s.primary.Klines(ctx, item.Pair, cursor, endMs, provider.KlinePageLimit)
		if err != nil {
			// The cursor never advances past a failed request. Hand the
			// rest of the range to the fallback source if we can.
			if !s.fallbackEnabled || item.Coin.CoinID == "" {
				return collected, err
			}
			log.Printf("primary source failed for %s, falling back: %v", item.Pair, err)
			fb, fbErr := s.fallback.FetchDailyRange(ctx, item.Coin.CoinID, item.Pair, cursor, endMs)
			if fbErr != nil {
				return collected, fmt.Errorf("both sources failed for %s: %w", item.Pair, fbErr)
			}
			return append(collected, fb...), nil
		}
		if len(chunk) == 0 {
			break
		}

		collected = append(collected, chunk...)
		cursor = chunk[len(chunk)-1].Timestamp + 1

		if len(chunk) < provider.KlinePageLimit {
			// Short page: the source has nothing more in range.
			break
		}
	}
	return collected, nil
}
