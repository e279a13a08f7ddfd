package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cart-safety-engine/internal/api"
	"github.com/cart-safety-engine/internal/config"
	"github.com/cart-safety-engine/internal/evidence"
	"github.com/cart-safety-engine/internal/mitigation"
	"github.com/cart-safety-engine/internal/registry"
	"github.com/cart-safety-engine/internal/service"
	"github.com/cart-safety-engine/internal/setup"
	detect "github.com/cart-safety-engine/internal/signal"
	"github.com/cart-safety-engine/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, err := setup.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}

	// External reporting source with its cache tiers
	reportClient := external.NewReportClient(cfg.Reporting, logger)
	memoryCache := external.NewMemoryCache(cfg.Cache.MemorySize, cfg.Cache.DefaultTTL)
	var redisCache *external.ReportCache
	if cfg.Cache.RedisURL != "" {
		redisCache, err = external.NewReportCache(cfg.Cache)
		if err != nil {
			log.Fatalf("Failed to connect report cache: %v", err)
		}
		defer redisCache.Close()
	} else {
		logger.Warn("No Redis URL configured; report counts cached in process only")
	}
	source := external.NewResilientReportSource(reportClient, redisCache, memoryCache, logger)

	// Estimation components
	engine := evidence.NewEngine(logger)
	reg, err := registry.NewRegistry(logger, engine)
	if err != nil {
		log.Fatalf("Failed to build estimator registry: %v", err)
	}
	clinical := configManager.Clinical()
	analysis := *configManager.GetAnalysisConfig()

	detector := detect.NewDetector(source, logger, detect.DetectorOptions{
		Level:         analysis.CredibleLevel,
		WeberWindow:   analysis.WeberWindow,
		WeberSuppress: analysis.WeberSuppress,
	})
	combiner := mitigation.NewCombiner(clinical, logger, mitigation.Options{
		Samples:      analysis.MonteCarloSamples,
		DefaultLevel: analysis.CredibleLevel,
	})

	riskService := service.NewRiskService(engine, reg, detector, combiner, clinical, analysis, logger)

	logger.WithField("addr", cfg.Server.Host).WithField("port", cfg.Server.Port).
		Info("Starting risk estimation server")

	// Create server
	server := api.NewServer(cfg, riskService, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}
