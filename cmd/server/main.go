package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinfeed/internal/cache"
	"coinfeed/internal/config"
	"coinfeed/internal/db"
	"coinfeed/internal/handler"
	"coinfeed/internal/job"
	"coinfeed/internal/provider"
	"coinfeed/internal/repository"
	"coinfeed/internal/service"
	"coinfeed/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "coinfeed/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	connectPostgresFunc    = db.Connect
	connectRedisFunc       = cache.Connect
	initTracerFunc         = tracing.InitTracer
	startJobFunc           = func(j *job.PipelineJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Coinfeed API
// @version         1.0
// @description     Daily OHLCV ingestion service for the top crypto market pairs.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = connectPostgresFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
	} else {
		log.Println("Warning: running without postgres")
	}

	redisClient, err := connectRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: running without redis: %v", err)
		redisClient = nil
	}
	var summaryCache service.RedisClient
	if redisClient != nil {
		summaryCache = redisClient
	}

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	candleRepo := repository.NewCandleRepository(pool, tracer)
	universeRepo := repository.NewUniverseRepository(pool, tracer)
	if pool != nil {
		if err := candleRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run candle migrations: %v", err)
		}
		if err := universeRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run universe migrations: %v", err)
		}
	}

	coinGecko := provider.NewCoinGeckoProvider(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey, cfg.MaxRetries, cfg.PageDelayMs, tracer)
	binance := provider.NewBinanceProvider(cfg.BinanceBaseURLs, cfg.MaxRetries, tracer)

	universeService := service.NewUniverseService(tracer, universeRepo, candleRepo, binance, cfg.FallbackEnabled, cfg.MaxSymbols)
	backfillService := service.NewBackfillService(tracer, candleRepo, binance, coinGecko, cfg.FallbackEnabled, cfg.MaxLookbackYears)
	pipelineService := service.NewPipelineService(tracer, coinGecko, universeService, backfillService, summaryCache, cfg.PageCount, cfg.PerPage, cfg.WorkerCount)
	historyService := service.NewHistoryService(tracer, candleRepo, universeRepo, backfillService, summaryCache)

	if cfg.DailyRunEnabled {
		startJobFunc(job.NewPipelineJob(tracer, pipelineService, cfg.DailyRunHourUTC), ctx)
	}

	h := handler.New(tracer, pipelineService, historyService, cfg.APIKey)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("coinfeed"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
