package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoExecCore/config"
	"cryptoExecCore/internal/adapters/logger"
	"cryptoExecCore/internal/adapters/sqlstore"
	"cryptoExecCore/internal/api"
	"cryptoExecCore/internal/app"
	"cryptoExecCore/internal/broker"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/lifecycle"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/risk"
	"cryptoExecCore/internal/secrets"
	"cryptoExecCore/internal/strategy"
)

func main() {
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
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Store (Database Adapter)
	store, err := sqlstore.NewStore(sqlstore.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database store")
		}
	}()

	// 4. Credential cipher; without it only paper configs can be used
	var cipher *secrets.Cipher
	if cfg.MasterEncryptionKey != "" {
		if cipher, err = secrets.NewCipherFromBase64(cfg.MasterEncryptionKey, 1); err != nil {
			appLogger.Error(ctx, err, "FATAL: Invalid master encryption key")
			log.Fatalf("FATAL: Invalid master encryption key: %v", err)
		}
	}

	// 5. Backend Factory
	factory, err := broker.NewFactory(broker.Config{
		Configs:  store,
		Counters: store,
		Cipher:   cipher,
		Paper: broker.PaperDefaults{
			QuoteAsset:     cfg.PaperQuoteAsset,
			InitialBalance: cfg.PaperInitialBalance,
			SlippageBps:    cfg.PaperSlippageBps,
			CommissionRate: cfg.PaperCommissionRate,
		},
		Exchange: broker.ExchangeDefaults{
			RecvWindow:       cfg.ExchangeRecvWindow,
			MaxClockSkew:     cfg.ExchangeMaxClockSkew,
			TimeSyncInterval: cfg.ExchangeTimeSyncInterval,
			RateLimitRPS:     cfg.ExchangeRateLimitRPS,
			ReadRetries:      cfg.ExchangeReadRetries,
		},
		DefaultLimits: domain.TradingLimits{
			MaxTradeSize:   cfg.DefaultMaxTradeSize,
			MaxDailyTrades: cfg.DefaultMaxDailyTrades,
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize broker factory: %v", err)
	}

	// 6. Risk: breakers, tracker and sizer
	engine, err := risk.NewEngine(risk.RiskConfig{
		MaxDrawdown:            cfg.MaxDrawdownPct,
		MaxDailyLoss:           cfg.MaxDailyLossPct,
		MaxOpenPositions:       cfg.MaxOpenPositions,
		MaxCorrelatedPositions: cfg.MaxCorrelatedPositions,
		CorrelationThreshold:   cfg.CorrelationThreshold,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk engine: %v", err)
	}
	tracker, err := risk.NewTracker(risk.TrackerConfig{
		Trades:          store,
		State:           store,
		Logger:          appLogger,
		ReferenceSymbol: cfg.CorrelationReference,
		Interval:        cfg.BotInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk tracker: %v", err)
	}
	sizer, err := risk.NewSizer(risk.SizingConfig{
		Method:        cfg.SizingMethod,
		RiskPct:       cfg.RiskPerTradePct,
		KellyFraction: cfg.KellyFraction,
		KellyMaxPct:   cfg.KellyMaxPct,
		MinTrades:     cfg.KellyMinTrades,
		ATRMultiplier: cfg.VolATRMultiplier,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position sizer: %v", err)
	}

	// 7. Lifecycle profiles and manager
	catalog, err := lifecycle.LoadCatalog(cfg.RiskProfilesPath, cfg.DefaultRiskProfile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load risk profiles: %v", err)
	}
	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Trades:         store,
		Events:         store,
		Profiles:       catalog,
		Logger:         appLogger,
		AlertThreshold: cfg.CloseFailureAlertThreshold,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize lifecycle manager: %v", err)
	}

	// 8. Initialize Strategy
	strat, err := strategy.New(strategy.Config{
		ShortTermMAPeriod: cfg.StrategyShortMAPeriod,
		LongTermMAPeriod:  cfg.StrategyLongMAPeriod,
		EMAPeriod:         cfg.StrategyEMAPeriod,
		RSIPeriod:         cfg.StrategyRSIPeriod,
		RSIOverbought:     cfg.StrategyRSIOverbought,
		RSIOversold:       cfg.StrategyRSIOversold,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}

	// 9. Bot runner, one account per configured user
	accounts := make([]app.AccountConfig, 0, len(cfg.BotUsers))
	for _, userID := range cfg.BotUsers {
		accounts = append(accounts, app.AccountConfig{
			UserID:          userID,
			Symbols:         cfg.BotSymbols,
			Interval:        cfg.BotInterval,
			SignalInterval:  cfg.SignalInterval,
			MonitorInterval: cfg.MonitorInterval,
			CallTimeout:     cfg.CallTimeout,
		})
	}
	runner, err := app.NewRunner(accounts, app.Deps{
		Resolve: func(ctx context.Context, userID int64) (ports.Broker, error) {
			g, err := factory.FromUser(ctx, userID)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
		Trades:    store,
		Events:    store,
		Tracker:   tracker,
		Engine:    engine,
		Sizer:     sizer,
		Lifecycle: manager,
		Strategy:  strat,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bot runner: %v", err)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if len(accounts) > 0 {
		if err := runner.Start(ctx); err != nil {
			appLogger.Error(ctx, err, "No trading account could be started")
		}
	} else {
		appLogger.Warn(ctx, "BOT_USERS is empty, serving the HTTP API only")
	}

	// 10. HTTP API
	server := api.NewServer(cfg.HTTPAddr, api.Dependencies{
		Prober: factory,
		Closer: runner,
		Trades: store,
		Events: store,
		Logger: appLogger,
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			appLogger.Error(ctx, err, "HTTP API stopped unexpectedly")
		}
	}

	cancel()
	runner.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP API shutdown failed")
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
