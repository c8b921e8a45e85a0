package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"cryptoExecCore/config"
	"cryptoExecCore/internal/adapters/binanceclient"
	"cryptoExecCore/internal/adapters/logger"
	"cryptoExecCore/internal/adapters/sqlstore"
	"cryptoExecCore/internal/utils"
)

func main() {
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "Comma separated symbols")
	interval := flag.String("interval", "1h", "Candle interval")
	days := flag.Int("days", 90, "Days of history to download")
	testnet := flag.Bool("testnet", false, "Download from the testnet endpoint")
	csvDir := flag.String("csv", "", "Also write one CSV file per symbol into this directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync() //nolint:errcheck
	ctx := context.Background()

	// 3. Initialize Store
	store, err := sqlstore.NewStore(sqlstore.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database store: %v", err)
	}
	defer store.Close()

	// 4. Public exchange client; candles need no credentials
	client, err := binanceclient.New(binanceclient.Config{
		UseTestnet:   *testnet,
		RecvWindow:   cfg.ExchangeRecvWindow,
		RateLimitRPS: cfg.ExchangeRateLimitRPS,
		ReadRetries:  cfg.ExchangeReadRetries,
		Logger:       appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		fields := map[string]interface{}{"symbol": symbol, "interval": *interval, "from": start.Format(time.RFC3339), "to": end.Format(time.RFC3339)}
		appLogger.Info(ctx, "Fetching klines", fields)

		klines, err := client.GetKlinesRange(ctx, symbol, *interval, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching klines", fields)
			log.Fatalf("Error fetching klines for %s: %v", symbol, err)
		}
		if err := store.SaveCandles(ctx, klines); err != nil {
			appLogger.Error(ctx, err, "Error storing klines", fields)
			log.Fatalf("Error storing klines for %s: %v", symbol, err)
		}
		fields["count"] = len(klines)
		appLogger.Info(ctx, "Stored klines", fields)

		if *csvDir != "" {
			filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", strings.TrimRight(*csvDir, "/"), symbol, *interval, start.Format("20060102"), end.Format("20060102"))
			if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
				appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"filename": filename})
				log.Fatalf("Error writing CSV: %v", err)
			}
			appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
		}
	}
}
