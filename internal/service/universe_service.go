package service

import (
	"context"
	"log"
	"time"

	"coinfeed/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// UniverseStore persists the daily top-coins cache and its refresh stamp.
type UniverseStore interface {
	ReplaceTopCoins(ctx context.Context, coins []domain.CoinSnapshot) error
	ListTopCoins(ctx context.Context) ([]domain.CoinSnapshot, error)
	LastUniverseUpdate(ctx context.Context) (string, error)
	SetLastUniverseUpdate(ctx context.Context, date string) error
}

// PairResolver reports the exchange's actively tradable pairs.
type PairResolver interface {
	TradablePairs(ctx context.Context) (map[string]struct{}, error)
}

// LastTimestampStore looks up the newest stored candle per pair.
type LastTimestampStore interface {
	LastTimestamp(ctx context.Context, symbol string) (*int64, error)
}

// UniverseService is the daily cache gate: it decides whether to
// replace the cached universe, intersects it with tradable pairs, and
// produces the fill worklist.
type UniverseService struct {
	tracer          trace.Tracer
	repo            UniverseStore
	candles         LastTimestampStore
	resolver        PairResolver
	fallbackEnabled bool
	maxSymbols      int
	now             func() time.Time
}

func NewUniverseService(
	tracer trace.Tracer,
	repo UniverseStore,
	candles LastTimestampStore,
	resolver PairResolver,
	fallbackEnabled bool,
	maxSymbols int,
) *UniverseService {
	return &UniverseService{
		tracer:          tracer,
		repo:            repo,
		candles:         candles,
		resolver:        resolver,
		fallbackEnabled: fallbackEnabled,
		maxSymbols:      maxSymbols,
		now:             time.Now,
	}
}

// PrepareWorklist replaces or reuses the cached universe, then builds
// work items for every coin that is tradable on the exchange or, when
// fallback is enabled, servable by the secondary source. The returned
// bool reports whether a genuine cache replace happened.
func (s *UniverseService) PrepareWorklist(ctx context.Context, raw []domain.CoinSnapshot) ([]domain.WorkItem, bool, error) {
	ctx, span := s.tracer.Start(ctx, "universe-service.prepare-worklist")
	defer span.End()

	coins, refreshed, err := s.loadOrRefresh(ctx, raw)
	if err != nil {
		return nil, false, err
	}

	pairs, err := s.resolver.TradablePairs(ctx)
	resolutionUnavailable := err != nil
	if resolutionUnavailable {
		// Unavailable resolution is not "no pairs": every coin routes
		// to the fallback source instead of dropping out.
		log.Printf("exchange resolution unavailable: %v", err)
	}

	items := make([]domain.WorkItem, 0, len(coins))
	for _, coin := range coins {
		pair := coin.Pair()

		var source domain.DataSource
		_, tradable := pairs[pair]
		switch {
		case !resolutionUnavailable && tradable:
			source = domain.SourceBinance
		case s.fallbackEnabled:
			source = domain.SourceCoinGecko
		default:
			continue
		}

		lastTs, err := s.candles.LastTimestamp(ctx, pair)
		if err != nil {
			return nil, refreshed, err
		}

		items = append(items, domain.WorkItem{
			Coin:          coin,
			Pair:          pair,
			Source:        source,
			LastTimestamp: lastTs,
		})
		if len(items) >= s.maxSymbols {
			break
		}
	}

	log.Printf("universe worklist: %d items (refreshed=%v)", len(items), refreshed)
	return items, refreshed, nil
}

// loadOrRefresh applies the once-per-day replace rule. A refresh-due
// day with an empty fetch must not wipe the cache: the existing rows
// are reused and the day is not stamped.
func (s *UniverseService) loadOrRefresh(ctx context.Context, raw []domain.CoinSnapshot) ([]domain.CoinSnapshot, bool, error) {
	today := s.now().UTC().Format("2006-01-02")

	last, err := s.repo.LastUniverseUpdate(ctx)
	if err != nil {
		return nil, false, err
	}
	cached, err := s.repo.ListTopCoins(ctx)
	if err != nil {
		return nil, false, err
	}

	if last == today && len(cached) > 0 {
		return cached, false, nil
	}

	if len(raw) == 0 {
		log.Printf("universe refresh due but provider returned nothing, reusing %d cached coins", len(cached))
		return cached, false, nil
	}

	if err := s.repo.ReplaceTopCoins(ctx, raw); err != nil {
		return nil, false, err
	}
	if err := s.repo.SetLastUniverseUpdate(ctx, today); err != nil {
		return nil, false, err
	}
	log.Printf("universe cache replaced with %d coins for %s", len(raw), today)
	return raw, true, nil
}
