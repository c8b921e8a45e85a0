// Command paper_replay runs the full entry and lifecycle path against recorded
// candles on a paper backend, one candle at a time, and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cryptoExecCore/config"
	"cryptoExecCore/internal/adapters/logger"
	"cryptoExecCore/internal/adapters/paper"
	"cryptoExecCore/internal/adapters/sqlstore"
	"cryptoExecCore/internal/analytics"
	"cryptoExecCore/internal/app"
	"cryptoExecCore/internal/broker"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/lifecycle"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/risk"
	"cryptoExecCore/internal/strategy"
	"cryptoExecCore/internal/utils"
)

const replayUser = 1

func main() {
	symbols := flag.String("symbols", "BTCUSDT", "Comma separated symbols to replay")
	interval := flag.String("interval", "1h", "Candle interval")
	days := flag.Int("days", 30, "Days of stored history to replay")
	csvFiles := flag.String("csv", "", "Comma separated CSV files to replay instead of stored candles")
	profile := flag.String("profile", "", "Lifecycle profile, defaults to DEFAULT_RISK_PROFILE")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync() //nolint:errcheck
	ctx := context.Background()

	symbolList := splitList(*symbols)
	source, err := loadSource(ctx, cfg, appLogger, symbolList, *interval, *days, *csvFiles)
	if err != nil {
		log.Fatalf("FATAL: Failed to load candles: %v", err)
	}

	// Replay bookkeeping lives in a throwaway database.
	dir, err := os.MkdirTemp("", "paper-replay-")
	if err != nil {
		log.Fatalf("FATAL: Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	store, err := sqlstore.NewStore(sqlstore.Config{DBPath: filepath.Join(dir, "replay.db"), Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize replay store: %v", err)
	}
	defer store.Close()

	factory, err := broker.NewFactory(broker.Config{
		Configs:  store,
		Counters: store,
		Paper: broker.PaperDefaults{
			QuoteAsset:     cfg.PaperQuoteAsset,
			InitialBalance: cfg.PaperInitialBalance,
			SlippageBps:    cfg.PaperSlippageBps,
			CommissionRate: cfg.PaperCommissionRate,
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize broker factory: %v", err)
	}
	paperBroker, err := factory.CreatePaper(source)
	if err != nil {
		log.Fatalf("FATAL: Failed to create paper broker: %v", err)
	}

	svc, err := buildService(cfg, appLogger, store, paperBroker, symbolList, *interval, *profile)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		log.Fatalf("FATAL: Failed to connect replay account: %v", err)
	}

	steps := 0
	for {
		svc.RunMonitorCycle(ctx)
		svc.RunSignalCycle(ctx)
		steps++
		if !source.Advance() {
			break
		}
	}
	// Whatever is still open is closed at the last price.
	open, err := store.ListOpenByUser(ctx, replayUser)
	if err != nil {
		log.Fatalf("FATAL: Failed to list open trades: %v", err)
	}
	for _, t := range open {
		if _, err := svc.CloseTrade(ctx, t.ID); err != nil {
			appLogger.Warn(ctx, "Could not close trade at end of replay", map[string]interface{}{"tradeID": t.ID, "error": err.Error()})
		}
	}

	printSummary(ctx, store, paperBroker, cfg.PaperInitialBalance, steps)
}

func loadSource(ctx context.Context, cfg *config.Config, appLogger *logger.ZapLogger, symbols []string, interval string, days int, csvFiles string) (*paper.SeriesSource, error) {
	if csvFiles != "" {
		series := make(map[string][]*domain.Kline)
		for _, file := range splitRaw(csvFiles) {
			klines, err := utils.ReadKlinesFromCSV(file)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if len(klines) == 0 {
				return nil, fmt.Errorf("%s holds no candles", file)
			}
			series[klines[0].Symbol] = append(series[klines[0].Symbol], klines...)
		}
		return paper.NewSeriesSource(series), nil
	}

	store, err := sqlstore.NewStore(sqlstore.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return nil, err
	}
	defer store.Close()
	to := time.Now().UTC()
	replay, err := paper.NewStoreReplaySource(ctx, store, symbols, interval, to.AddDate(0, 0, -days), to)
	if err != nil {
		return nil, err
	}
	return replay.SeriesSource, nil
}

func buildService(cfg *config.Config, appLogger *logger.ZapLogger, store *sqlstore.Store, b ports.Broker, symbols []string, interval, profile string) (*app.AccountService, error) {
	engine, err := risk.NewEngine(risk.RiskConfig{
		MaxDrawdown:      cfg.MaxDrawdownPct,
		MaxDailyLoss:     cfg.MaxDailyLossPct,
		MaxOpenPositions: cfg.MaxOpenPositions,
	}, appLogger)
	if err != nil {
		return nil, err
	}
	tracker, err := risk.NewTracker(risk.TrackerConfig{Trades: store, State: store, Logger: appLogger})
	if err != nil {
		return nil, err
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
		return nil, err
	}
	if profile == "" {
		profile = cfg.DefaultRiskProfile
	}
	catalog, err := lifecycle.LoadCatalog(cfg.RiskProfilesPath, strings.ToUpper(profile))
	if err != nil {
		return nil, err
	}
	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{Trades: store, Events: store, Profiles: catalog, Logger: appLogger})
	if err != nil {
		return nil, err
	}
	strat, err := strategy.New(strategy.Config{
		ShortTermMAPeriod: cfg.StrategyShortMAPeriod,
		LongTermMAPeriod:  cfg.StrategyLongMAPeriod,
		EMAPeriod:         cfg.StrategyEMAPeriod,
		RSIPeriod:         cfg.StrategyRSIPeriod,
		RSIOverbought:     cfg.StrategyRSIOverbought,
		RSIOversold:       cfg.StrategyRSIOversold,
	}, appLogger)
	if err != nil {
		return nil, err
	}
	return app.NewAccountService(app.AccountConfig{UserID: replayUser, Symbols: symbols, Interval: interval}, app.Deps{
		Resolve:   func(context.Context, int64) (ports.Broker, error) { return b, nil },
		Trades:    store,
		Events:    store,
		Tracker:   tracker,
		Engine:    engine,
		Sizer:     sizer,
		Lifecycle: manager,
		Strategy:  strat,
		Logger:    appLogger,
	})
}

func printSummary(ctx context.Context, store *sqlstore.Store, b ports.Broker, initialBalance float64, steps int) {
	closed, err := store.ListClosedByUser(ctx, replayUser)
	if err != nil {
		log.Fatalf("FATAL: Failed to read closed trades: %v", err)
	}
	bal, err := b.GetAccountBalance(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to read paper balance: %v", err)
	}
	events, err := store.ListEvents(ctx, replayUser, 1<<20)
	if err != nil {
		log.Fatalf("FATAL: Failed to read events: %v", err)
	}
	byKind := make(map[domain.TradeEventKind]int)
	for _, e := range events {
		byKind[e.Kind]++
	}
	m := analytics.AnalyzePerformance(closed, initialBalance)

	fmt.Println("\n=== Paper Replay Summary ===")
	fmt.Printf("Candles replayed:   %d\n", steps)
	fmt.Printf("Closed trades:      %d (wins %d, losses %d, win rate %.2f%%)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate*100)
	fmt.Printf("Realized PnL:       %.4f (ROI %.2f%%)\n", m.TotalProfit, m.ReturnOnInvestment*100)
	fmt.Printf("Average win/loss:   %.4f / %.4f\n", m.AverageWin, m.AverageLoss)
	fmt.Printf("Profit factor:      %.2f\n", m.ProfitFactor)
	fmt.Printf("Expectancy:         %.4f\n", m.Expectancy)
	fmt.Printf("Max drawdown:       %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Streaks:            %d wins / %d losses\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Printf("Avg trade duration: %s\n", m.AverageTradeDuration)
	fmt.Printf("TP1 partial exits:  %d\n", m.PartialExits)
	fmt.Printf("Final equity:       %.2f %s (fees and slippage included)\n", bal.Total, bal.QuoteAsset)
	for reason, n := range m.ByExitReason {
		fmt.Printf("Exit %-21s %d\n", string(reason)+":", n)
	}
	for _, mr := range m.GetMonthlyReturns() {
		fmt.Printf("Month %s:        %.4f\n", mr.Month.Format("2006-01"), mr.Return)
	}
	for kind, n := range byKind {
		fmt.Printf("Events %-20s %d\n", kind+":", n)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range splitRaw(s) {
		out = append(out, strings.ToUpper(p))
	}
	return out
}

func splitRaw(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
