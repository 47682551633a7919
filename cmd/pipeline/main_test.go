package main

import (
	"testing"

	"coinfeed/internal/config"
)

func TestMainRequiresDatabaseURL(t *testing.T) {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origExit := exitFunc
	defer func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		exitFunc = origExit
	}()

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return &config.Config{} }

	var exited bool
	exitFunc = func(format string, args ...any) { exited = true }

	main()

	if !exited {
		t.Fatal("expected main to exit without DATABASE_URL")
	}
}
