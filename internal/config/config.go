package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	APIKey      string

	CoinGeckoBaseURL string
	CoinGeckoAPIKey  string
	PageCount        int
	PerPage          int
	PageDelayMs      int
	MaxRetries       int

	BinanceBaseURLs []string

	MaxSymbols       int
	MaxLookbackYears int
	WorkerCount      int
	FallbackEnabled  bool

	DailyRunEnabled bool
	DailyRunHourUTC int
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		APIKey:      strings.TrimSpace(os.Getenv("API_KEY")),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.CoinGeckoBaseURL = strings.TrimSpace(os.Getenv("COINGECKO_BASE_URL"))
	if cfg.CoinGeckoBaseURL == "" {
		cfg.CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	}
	cfg.CoinGeckoAPIKey = strings.TrimSpace(os.Getenv("COINGECKO_API_KEY"))

	cfg.PageCount = 4
	if v := os.Getenv("COINGECKO_PAGE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PageCount = n
		}
	}

	cfg.PerPage = 250
	if v := os.Getenv("COINGECKO_PER_PAGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 250 {
			cfg.PerPage = n
		}
	}

	cfg.PageDelayMs = 1500
	if v := os.Getenv("COINGECKO_PAGE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PageDelayMs = n
		}
	}

	cfg.MaxRetries = 3
	if v := os.Getenv("PROVIDER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	hosts := strings.TrimSpace(os.Getenv("BINANCE_BASE_URLS"))
	if hosts == "" {
		hosts = "https://api.binance.com"
	}
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.BinanceBaseURLs = append(cfg.BinanceBaseURLs, strings.TrimSuffix(h, "/"))
		}
	}

	cfg.MaxSymbols = 1000
	if v := os.Getenv("MAX_SYMBOLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSymbols = n
		}
	}

	cfg.MaxLookbackYears = 0
	if v := os.Getenv("MAX_LOOKBACK_YEARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxLookbackYears = n
		}
	}

	cfg.WorkerCount = 16
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerCount = n
		}
	}

	cfg.FallbackEnabled = true
	if v := strings.TrimSpace(os.Getenv("FALLBACK_ENABLED")); v != "" {
		cfg.FallbackEnabled = strings.EqualFold(v, "true")
	}

	cfg.DailyRunEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("PIPELINE_DAILY_ENABLED")), "true")

	cfg.DailyRunHourUTC = 0
	if v := strings.TrimSpace(os.Getenv("PIPELINE_RUN_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.DailyRunHourUTC = n
		}
	}

	return cfg
}
