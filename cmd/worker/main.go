// Package main provides the price refresh worker for the portfolio guardian service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-guardian/internal/adapter"
	"github.com/portfolio-guardian/internal/config"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/storage"
	"github.com/portfolio-guardian/internal/worker"
)

const jobTimeout = 30 * time.Minute

func main() {
	once := flag.Bool("once", false, "Refresh prices once and exit")
	flag.Parse()

	fmt.Println("Portfolio Guardian Price Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sectors, err := provider.NewFileSectorMap(cfg.Data.SectorMappingsPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load sector mappings")
	}
	coins := sectors.CoinGeckoIDs()
	if _, ok := coins[cfg.Analysis.ReferenceSymbol]; !ok && cfg.Analysis.ReferenceSymbol == "ETH" {
		coins["ETH"] = "ethereum"
	}

	// Sink: ClickHouse, or the CSV directory the server reads in csv mode
	var sink worker.PriceSink
	switch cfg.Data.PriceSource {
	case "csv":
		sink = provider.NewCSVPriceProvider(cfg.Data.PriceDataDir)
	default:
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		sink = storage.NewPriceRepository(clickhouse)
	}

	// Cached series are dropped after each symbol refresh
	var invalidator worker.CacheInvalidator
	if cfg.Data.PriceCacheTTL > 0 {
		redisClient, err := storage.NewRedisClient(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, cached prices will expire on their own")
		} else {
			defer redisClient.Close()
			invalidator = storage.NewCachedPriceProvider(nil, redisClient, cfg.Data.PriceCacheTTL, logger)
		}
	}

	client := adapter.NewCoinGeckoClient(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, cfg.CoinGecko.RequestsPerSecond, logger)
	refresher := worker.NewPriceRefresher(client, sink, invalidator, coins, cfg.CoinGecko.HistoryDays, logger)

	scheduler := worker.NewScheduler(jobTimeout, logger)

	if *once {
		if err := scheduler.RunNow(refresher); err != nil {
			logger.WithError(err).Fatal("Price refresh failed")
		}
		return
	}

	if err := scheduler.AddJob(cfg.CoinGecko.RefreshSchedule, refresher); err != nil {
		logger.WithError(err).Fatal("Invalid refresh schedule")
	}
	scheduler.Start()

	logger.WithFields(map[string]interface{}{
		"schedule": cfg.CoinGecko.RefreshSchedule,
		"symbols":  len(coins),
	}).Info("Worker started successfully")

	// Wait for interrupt signal to gracefully shutdown the worker
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	scheduler.Stop()
	logger.Info("Worker exited")
}
