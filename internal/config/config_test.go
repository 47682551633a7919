package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("COINGECKO_PAGE_COUNT", "")
	t.Setenv("BINANCE_BASE_URLS", "")
	t.Setenv("FALLBACK_ENABLED", "")

	cfg := Load()
	if cfg.RedisURL != "localhost:6379" {
		t.Fatalf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.PageCount != 4 || cfg.PerPage != 250 {
		t.Fatalf("expected default paging 4x250, got %dx%d", cfg.PageCount, cfg.PerPage)
	}
	if len(cfg.BinanceBaseURLs) != 1 || cfg.BinanceBaseURLs[0] != "https://api.binance.com" {
		t.Fatalf("expected default binance host, got %v", cfg.BinanceBaseURLs)
	}
	if !cfg.FallbackEnabled {
		t.Fatal("fallback should be enabled by default")
	}
	if cfg.WorkerCount != 16 || cfg.MaxSymbols != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("BINANCE_BASE_URLS", "https://api1.binance.com, https://api2.binance.com/")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("FALLBACK_ENABLED", "false")
	t.Setenv("MAX_LOOKBACK_YEARS", "5")

	cfg := Load()
	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	want := []string{"https://api1.binance.com", "https://api2.binance.com"}
	if len(cfg.BinanceBaseURLs) != 2 || cfg.BinanceBaseURLs[0] != want[0] || cfg.BinanceBaseURLs[1] != want[1] {
		t.Fatalf("expected hosts %v, got %v", want, cfg.BinanceBaseURLs)
	}
	if cfg.WorkerCount != 8 || cfg.FallbackEnabled || cfg.MaxLookbackYears != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("WORKER_COUNT", "bad")
	cfg = Load()
	if cfg.WorkerCount != 16 {
		t.Fatalf("invalid worker count should fall back to default, got %d", cfg.WorkerCount)
	}
}
