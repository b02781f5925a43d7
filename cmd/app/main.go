package main

import (
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"

	"MarketLens/internal/di"
	"MarketLens/pkg/config"
	applogger "MarketLens/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	l.Info("starting marketlens",
		applogger.String("env", cfg.Environment),
		applogger.String("storage", cfg.Storage.Backend),
		applogger.String("cache", cfg.Cache.Mode),
		applogger.String("dispatch", cfg.Scraper.Dispatch),
		applogger.Bool("scraper", cfg.Scraper.Enabled),
		applogger.Bool("queue", cfg.Queue.Enabled))

	app, cleanup, err := di.InitializeApp(cfg, l)
	if err != nil {
		l.Error("app initialization failed", applogger.Error(err))
		os.Exit(1)
	}

	err = app.Run()
	cleanup()
	if err != nil {
		l.Error("app error", applogger.Error(err))
		os.Exit(1)
	}
}
