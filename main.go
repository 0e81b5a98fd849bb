package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"papertrader/config"
	"papertrader/internal/adapters/binanceclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Snapshot Store
	store, err := app.OpenStore(context.Background(), cfg, appLogger.With("store"))
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize snapshot store")
		log.Fatalf("FATAL: Failed to initialize snapshot store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing snapshot store")
		}
	}()
	appLogger.Info(context.Background(), "Snapshot store initialized", map[string]interface{}{"driver": cfg.StoreDriver})

	// 4. Initialize Market Data Feed (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger.With("binance"),
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Paper Trading Service
	service, err := app.NewPaperService(cfg, appLogger.With("session"), binanceClient, store)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize paper trading service")
		log.Fatalf("FATAL: Failed to initialize paper trading service: %v", err)
	}

	// 6. Run until interrupted
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Paper trading service exited with error")
		log.Fatalf("FATAL: Paper trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
