package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"coinfeed/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const historyCacheTTL = 10 * time.Minute

// CandleReader is the read side of the time-series store.
type CandleReader interface {
	GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)
}

// CoinLookup finds a cached universe row by ticker symbol.
type CoinLookup interface {
	FindBySymbol(ctx context.Context, symbol string) (*domain.CoinSnapshot, error)
}

// HistoryService serves per-symbol daily history, filling the store on
// demand when a symbol has never been ingested.
type HistoryService struct {
	tracer   trace.Tracer
	candles  CandleReader
	universe CoinLookup
	filler   GapFiller
	redis    RedisClient
}

func NewHistoryService(
	tracer trace.Tracer,
	candles CandleReader,
	universe CoinLookup,
	filler GapFiller,
	redisClient RedisClient,
) *HistoryService {
	return &HistoryService{
		tracer:   tracer,
		candles:  candles,
		universe: universe,
		filler:   filler,
		redis:    redisClient,
	}
}

// GetHistory returns up to limit daily candles for a ticker symbol,
// oldest first. A store miss triggers a synchronous gap fill for that
// one symbol before the read is retried.
func (s *HistoryService) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	ctx, span := s.tracer.Start(ctx, "history-service.get-history")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pair := symbol + domain.QuoteAsset

	if cached := s.getCache(ctx, pair, limit); cached != nil {
		return cached, nil
	}

	candles, err := s.candles.GetHistory(ctx, pair, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		if err := s.ensureHistory(ctx, symbol, pair); err != nil {
			return nil, err
		}
		candles, err = s.candles.GetHistory(ctx, pair, limit)
		if err != nil {
			return nil, err
		}
	}

	s.setCache(ctx, pair, limit, candles)
	return candles, nil
}

func (s *HistoryService) ensureHistory(ctx context.Context, symbol, pair string) error {
	item := domain.WorkItem{Pair: pair, Source: domain.SourceBinance}

	coin, err := s.universe.FindBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if coin != nil {
		item.Coin = *coin
	}

	n, err := s.filler.Fill(ctx, item)
	if err != nil {
		return fmt.Errorf("on-demand fill for %s: %w", pair, err)
	}
	log.Printf("on-demand fill for %s inserted %d candles", pair, n)
	return nil
}

func historyCacheKey(pair string, limit int) string {
	return fmt.Sprintf("history:%s:%d", pair, limit)
}

func (s *HistoryService) getCache(ctx context.Context, pair string, limit int) []domain.Candle {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, historyCacheKey(pair, limit)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("redis history cache read error: %v", err)
		return nil
	}
	var candles []domain.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil
	}
	if len(candles) == 0 {
		return nil
	}
	return candles
}

func (s *HistoryService) setCache(ctx context.Context, pair string, limit int, candles []domain.Candle) {
	if s.redis == nil || len(candles) == 0 {
		return
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, historyCacheKey(pair, limit), data, historyCacheTTL).Err(); err != nil {
		log.Printf("redis history cache write error: %v", err)
	}
}
