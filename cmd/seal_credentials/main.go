// Command seal_credentials encrypts exchange API credentials with the master
// key and stores them as a user's exchange config. Secrets are read from the
// environment so they never appear in the process list.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"cryptoExecCore/config"
	"cryptoExecCore/internal/adapters/logger"
	"cryptoExecCore/internal/adapters/sqlstore"
	"cryptoExecCore/internal/broker"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/secrets"
)

func main() {
	userID := flag.Int64("user", 0, "User id owning the config")
	paperMode := flag.Bool("paper", false, "Paper trading over live quotes (credentials optional)")
	testnet := flag.Bool("testnet", true, "Use the exchange testnet")
	maxTradeSize := flag.Float64("max-trade-size", 0, "Max notional per order, 0 disables")
	maxDailyTrades := flag.Int("max-daily-trades", 0, "Max orders per UTC day, 0 disables")
	allowed := flag.String("allowed-symbols", "", "Comma separated symbol whitelist, empty allows all")
	keyVersion := flag.Int("key-version", 1, "Master key version stamped on the ciphertext")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *userID <= 0 {
		log.Fatalf("FATAL: -user is required")
	}
	apiKey := os.Getenv("EXCHANGE_API_KEY")
	apiSecret := os.Getenv("EXCHANGE_API_SECRET")
	if !*paperMode && (apiKey == "" || apiSecret == "") {
		log.Fatalf("FATAL: EXCHANGE_API_KEY and EXCHANGE_API_SECRET must be set for a live config")
	}
	if cfg.MasterEncryptionKey == "" && (apiKey != "" || apiSecret != "") {
		log.Fatalf("FATAL: MASTER_ENCRYPTION_KEY must be set to seal credentials")
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync() //nolint:errcheck
	ctx := context.Background()

	ec := &domain.ExchangeConfig{
		UserID:         *userID,
		Exchange:       broker.ExchangeBinance,
		PaperTrading:   *paperMode,
		Testnet:        *testnet,
		MaxTradeSize:   *maxTradeSize,
		MaxDailyTrades: *maxDailyTrades,
		IsActive:       true,
		IsDefault:      true,
	}
	for _, s := range strings.Split(*allowed, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			ec.AllowedSymbols = append(ec.AllowedSymbols, s)
		}
	}
	if apiKey != "" || apiSecret != "" {
		cipher, err := secrets.NewCipherFromBase64(cfg.MasterEncryptionKey, *keyVersion)
		if err != nil {
			log.Fatalf("FATAL: Invalid master encryption key: %v", err)
		}
		if ec.EncryptedAPIKey, err = cipher.Seal(apiKey); err != nil {
			log.Fatalf("FATAL: Failed to seal API key: %v", err)
		}
		if ec.EncryptedAPISecret, err = cipher.Seal(apiSecret); err != nil {
			log.Fatalf("FATAL: Failed to seal API secret: %v", err)
		}
	}

	store, err := sqlstore.NewStore(sqlstore.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database store: %v", err)
	}
	defer store.Close()

	id, err := store.Upsert(ctx, ec)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to store exchange config", map[string]interface{}{"userID": *userID})
		log.Fatalf("FATAL: Failed to store exchange config: %v", err)
	}
	appLogger.Info(ctx, "Exchange config stored", map[string]interface{}{
		"configID": id,
		"userID":   *userID,
		"paper":    *paperMode,
		"testnet":  *testnet,
		"apiKey":   secrets.Mask(apiKey),
	})
}
