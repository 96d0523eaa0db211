// Package main provides the API server entry point for the portfolio guardian service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-guardian/internal/adapter"
	"github.com/portfolio-guardian/internal/agent"
	"github.com/portfolio-guardian/internal/analysis"
	"github.com/portfolio-guardian/internal/api"
	"github.com/portfolio-guardian/internal/config"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/orchestrator"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/service"
	"github.com/portfolio-guardian/internal/session"
	"github.com/portfolio-guardian/internal/storage"
	"github.com/portfolio-guardian/internal/synthesis"
	"github.com/redis/go-redis/v9"
)

func main() {
	fmt.Println("Portfolio Guardian API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var redisClient *redis.Client
	if cfg.Session.Store == "redis" || cfg.Data.PriceCacheTTL > 0 {
		redisClient, err = storage.NewRedisClient(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	// Data collaborators
	crashes := provider.NewCrashDataset(cfg.Data.HistoricalCrashPath, logger)
	sectors, err := provider.NewFileSectorMap(cfg.Data.SectorMappingsPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load sector mappings")
	}
	wallets, err := provider.NewDemoWalletSource(cfg.Data.DemoWalletsPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load demo wallets")
	}

	var prices provider.PriceSeriesProvider
	switch cfg.Data.PriceSource {
	case "csv":
		prices = provider.NewCSVPriceProvider(cfg.Data.PriceDataDir)
	default:
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		prices = storage.NewPriceRepository(clickhouse)
	}
	if redisClient != nil && cfg.Data.PriceCacheTTL > 0 {
		prices = storage.NewCachedPriceProvider(prices, redisClient, cfg.Data.PriceCacheTTL, logger)
	}
	logger.WithField("source", cfg.Data.PriceSource).Info("Price provider initialized")

	// Analyzer roles served by this process
	params := analysis.CorrelationParams{
		ReferenceSymbol:   cfg.Analysis.ReferenceSymbol,
		WindowDays:        cfg.Analysis.WindowDays,
		MinDays:           cfg.Analysis.MinDays,
		MaxExcludedRatio:  cfg.Analysis.MaxExcludedValueRatio,
		HighThreshold:     cfg.Analysis.HighCorrelation,
		ModerateThreshold: cfg.Analysis.ModerateCorrelation,
	}
	correlationAgent := agent.NewCorrelationAgent(analysis.NewCorrelationEngine(prices, crashes, logger), params, logger)
	classifier := analysis.NewSectorClassifier(crashes, cfg.Analysis.SectorCrashScenario, logger).
		WithExtremeThreshold(cfg.Analysis.ExtremeConcentration)
	sectorAgent := agent.NewSectorAgent(classifier, sectors, cfg.Analysis.ConcentrationThreshold, logger)

	// The coordinator reaches each role in-process unless a remote URL is set
	var correlationRole orchestrator.CorrelationAnalyzer = correlationAgent
	if cfg.Agents.CorrelationAgentURL != "" {
		correlationRole = adapter.NewAgentClient(cfg.Agents.CorrelationAgentURL, logger)
		logger.WithField("url", cfg.Agents.CorrelationAgentURL).Info("Using remote correlation analyzer")
	}
	var sectorRole orchestrator.SectorAnalyzer = sectorAgent
	if cfg.Agents.SectorAgentURL != "" {
		sectorRole = adapter.NewAgentClient(cfg.Agents.SectorAgentURL, logger)
		logger.WithField("url", cfg.Agents.SectorAgentURL).Info("Using remote sector analyzer")
	}

	history := storage.NewAnalysisRepository(postgres)
	coordinator := orchestrator.NewCoordinator(
		correlationRole,
		sectorRole,
		synthesis.NewEngine(crashes, logger),
		history,
		orchestrator.Config{
			AgentTimeout:      cfg.Agents.ResponseTimeout,
			LateResponseGrace: cfg.Agents.LateResponseRetention,
		},
		logger,
	)

	// Conversation state
	var sessions session.Store
	if cfg.Session.Store == "redis" {
		sessions = session.NewRedisStore(redisClient, cfg.Session.TTL, logger)
	} else {
		sessions = session.NewMemoryStore()
	}

	guardian := service.NewGuardianService(coordinator, wallets, sessions, crashes, service.Config{
		CrashScenario: cfg.Analysis.SectorCrashScenario,
	}, logger)
	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*cfg.Agents.ResponseTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}
	server := api.NewServer(serverConfig, guardian, history, api.Agents{
		Correlation: correlationAgent,
		Sector:      sectorAgent,
		Replies:     coordinator,
	}, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
