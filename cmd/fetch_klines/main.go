package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"papertrader/config"
	"papertrader/internal/adapters/binanceclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/utils"
)

var (
	days     = flag.Int("days", 90, "number of days of history to fetch")
	symbol   = flag.String("symbol", "", "symbol to fetch (defaults to SYMBOL)")
	interval = flag.String("interval", "", "kline interval (defaults to KLINE_INTERVAL)")
	output   = flag.String("out", "", "output CSV path (defaults to data/<symbol>_<interval>_<from>_to_<to>.csv)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger.With("binance"),
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	sym, ivl := *symbol, *interval
	if sym == "" {
		sym = cfg.Symbol
	}
	if ivl == "" {
		ivl = cfg.KlineInterval
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	fmt.Printf("Fetching klines for %s %s from %s to %s...\n", sym, ivl, start.Format(time.RFC3339), end.Format(time.RFC3339))
	klines, err := binanceClient.GetKlinesRange(context.Background(), sym, ivl, start, end)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(context.Background(), "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", sym, ivl, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(context.Background(), err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved klines", map[string]interface{}{"filename": filename})
}
