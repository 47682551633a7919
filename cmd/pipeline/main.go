// Command pipeline executes one ingestion run and exits. Useful for
// cron setups and manual backfills where the HTTP server is overkill.
package main

import (
	"context"
	"log"

	"coinfeed/internal/cache"
	"coinfeed/internal/config"
	"coinfeed/internal/db"
	"coinfeed/internal/provider"
	"coinfeed/internal/repository"
	"coinfeed/internal/service"
	"coinfeed/pkg/tracing"

	"github.com/joho/godotenv"
)

var (
	loadEnvFunc         = godotenv.Load
	loadConfigFunc      = config.Load
	connectPostgresFunc = db.Connect
	connectRedisFunc    = cache.Connect
	initTracerFunc      = tracing.InitTracer
	exitFunc            = log.Fatalf
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	if cfg.DatabaseURL == "" {
		exitFunc("DATABASE_URL is required")
		return
	}

	ctx := context.Background()

	pool, err := connectPostgresFunc(ctx, cfg.DatabaseURL)
	if err != nil {
		exitFunc("failed to connect to postgres: %v", err)
		return
	}
	defer pool.Close()

	var summaryCache service.RedisClient
	if redisClient, err := connectRedisFunc(ctx, cfg.RedisURL); err != nil {
		log.Printf("Warning: running without redis: %v", err)
	} else if redisClient != nil {
		summaryCache = redisClient
	}

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		exitFunc("failed to initialize tracer: %v", err)
		return
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	candleRepo := repository.NewCandleRepository(pool, tracer)
	universeRepo := repository.NewUniverseRepository(pool, tracer)
	if err := candleRepo.RunMigrations(ctx); err != nil {
		exitFunc("failed to run candle migrations: %v", err)
		return
	}
	if err := universeRepo.RunMigrations(ctx); err != nil {
		exitFunc("failed to run universe migrations: %v", err)
		return
	}

	coinGecko := provider.NewCoinGeckoProvider(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey, cfg.MaxRetries, cfg.PageDelayMs, tracer)
	binance := provider.NewBinanceProvider(cfg.BinanceBaseURLs, cfg.MaxRetries, tracer)

	universeService := service.NewUniverseService(tracer, universeRepo, candleRepo, binance, cfg.FallbackEnabled, cfg.MaxSymbols)
	backfillService := service.NewBackfillService(tracer, candleRepo, binance, coinGecko, cfg.FallbackEnabled, cfg.MaxLookbackYears)
	pipelineService := service.NewPipelineService(tracer, coinGecko, universeService, backfillService, summaryCache, cfg.PageCount, cfg.PerPage, cfg.WorkerCount)

	summary, err := pipelineService.Run(ctx)
	if err != nil {
		exitFunc("pipeline run failed: %v", err)
		return
	}

	log.Printf(
		"run complete: coins=%d pairs=%d processed=%d failed=%d added=%d (binance=%d fallback=%d) refreshed=%v elapsed=%dms",
		summary.CoinsFetched,
		summary.PairsPrepared,
		summary.Processed,
		summary.Failed,
		summary.CandlesAdded,
		summary.BinanceCandles,
		summary.FallbackCandles,
		summary.CacheRefreshed,
		summary.ElapsedMs,
	)
}
