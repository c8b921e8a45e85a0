package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoExecCore/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration. Per-account credentials and
// trading limits live in the exchange_configs table, not here.
type Config struct {
	// Database
	DBDriver string // "sqlite3" or "postgres"
	DBDSN    string
	DBPath   string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "json" or "console"

	// Credential encryption; empty disables live trading
	MasterEncryptionKey string

	// Bot
	BotUsers        []int64
	BotSymbols      []string
	BotInterval     string
	SignalInterval  time.Duration
	MonitorInterval time.Duration
	CallTimeout     time.Duration
	HTTPAddr        string

	// Strategy Parameters
	StrategyShortMAPeriod int     // e.g., 20
	StrategyLongMAPeriod  int     // e.g., 50
	StrategyEMAPeriod     int     // e.g., 20
	StrategyRSIPeriod     int     // e.g., 14
	StrategyRSIOverbought float64 // e.g., 70.0
	StrategyRSIOversold   float64 // e.g., 30.0

	// Paper backend
	PaperInitialBalance float64
	PaperQuoteAsset     string
	PaperSlippageBps    float64
	PaperCommissionRate float64

	// Fallback limits for users without a stored exchange config; zero disables a limit
	DefaultMaxTradeSize   float64
	DefaultMaxDailyTrades int

	// Lifecycle profiles
	RiskProfilesPath           string
	DefaultRiskProfile         string
	CloseFailureAlertThreshold int

	// Circuit breakers
	MaxDrawdownPct         float64
	MaxDailyLossPct        float64
	MaxOpenPositions       int
	MaxCorrelatedPositions int
	CorrelationThreshold   float64
	CorrelationReference   string

	// Position sizing
	SizingMethod     string
	RiskPerTradePct  float64
	KellyFraction    float64
	KellyMaxPct      float64
	KellyMinTrades   int
	VolATRMultiplier float64

	// Exchange connection settings
	ExchangeRecvWindow       time.Duration
	ExchangeMaxClockSkew     time.Duration
	ExchangeTimeSyncInterval time.Duration
	ExchangeRateLimitRPS     float64
	ExchangeReadRetries      int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Database
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", "sqlite3"))
	cfg.DBDSN = getEnv("DB_DSN", "")
	cfg.DBPath = getEnv("DB_PATH", "./data/exec_core.db")
	switch cfg.DBDriver {
	case "sqlite3":
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set for sqlite3")
		}
	case "postgres":
		if cfg.DBDSN == "" {
			errs = append(errs, "DB_DSN must be set for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be sqlite3 or postgres, got %q", cfg.DBDriver))
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	cfg.MasterEncryptionKey = getEnv("MASTER_ENCRYPTION_KEY", "")

	// Bot
	if cfg.BotUsers, err = getEnvAsInt64List("BOT_USERS"); err != nil {
		errs = append(errs, fmt.Sprintf("invalid BOT_USERS: %v", err))
	}
	cfg.BotSymbols = getEnvAsList("BOT_SYMBOLS", "BTCUSDT")
	if len(cfg.BotUsers) > 0 && len(cfg.BotSymbols) == 0 {
		errs = append(errs, "BOT_SYMBOLS must be set when BOT_USERS is set")
	}
	cfg.BotInterval = getEnv("BOT_INTERVAL", "1h")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SIGNAL_INTERVAL", time.Minute, &cfg.SignalInterval},
		{"MONITOR_INTERVAL", 60 * time.Second, &cfg.MonitorInterval},
		{"CALL_TIMEOUT", 15 * time.Second, &cfg.CallTimeout},
		{"EXCHANGE_TIME_SYNC_INTERVAL", 30 * time.Minute, &cfg.ExchangeTimeSyncInterval},
	}
	for _, d := range durations {
		*d.dest, err = getEnvAsDurationRequired(d.key, d.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
		} else if *d.dest <= 0 {
			errs = append(errs, d.key+" must be positive")
		}
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyShortMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", 20)
	cfg.StrategyLongMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", 50)
	cfg.StrategyEMAPeriod = getEnvAsInt("STRATEGY_EMA_PERIOD", 20)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)

	// Validate strategy periods
	if cfg.StrategyShortMAPeriod <= 0 || cfg.StrategyLongMAPeriod <= 0 || cfg.StrategyEMAPeriod <= 0 || cfg.StrategyRSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, EMA, RSI) must be positive")
	}
	if cfg.StrategyShortMAPeriod >= cfg.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Paper backend
	cfg.PaperInitialBalance, err = getEnvAsFloatRequired("PAPER_INITIAL_BALANCE", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_INITIAL_BALANCE: %v", err))
	} else if cfg.PaperInitialBalance <= 0 {
		errs = append(errs, "PAPER_INITIAL_BALANCE must be positive")
	}
	cfg.PaperQuoteAsset = strings.ToUpper(getEnv("PAPER_QUOTE_ASSET", "USDT"))
	cfg.PaperSlippageBps, err = getEnvAsFloatRequired("PAPER_SLIPPAGE_BPS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_SLIPPAGE_BPS: %v", err))
	} else if cfg.PaperSlippageBps < 0 {
		errs = append(errs, "PAPER_SLIPPAGE_BPS cannot be negative")
	}
	cfg.PaperCommissionRate, err = getEnvAsFloatRequired("PAPER_COMMISSION_RATE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_COMMISSION_RATE: %v", err))
	} else if cfg.PaperCommissionRate < 0 || cfg.PaperCommissionRate >= 1 {
		errs = append(errs, "PAPER_COMMISSION_RATE must be in [0, 1)")
	}

	cfg.DefaultMaxTradeSize, err = getEnvAsFloatRequired("DEFAULT_MAX_TRADE_SIZE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_MAX_TRADE_SIZE: %v", err))
	} else if cfg.DefaultMaxTradeSize < 0 {
		errs = append(errs, "DEFAULT_MAX_TRADE_SIZE cannot be negative")
	}
	cfg.DefaultMaxDailyTrades, err = getEnvAsIntRequired("DEFAULT_MAX_DAILY_TRADES", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_MAX_DAILY_TRADES: %v", err))
	} else if cfg.DefaultMaxDailyTrades < 0 {
		errs = append(errs, "DEFAULT_MAX_DAILY_TRADES cannot be negative")
	}

	// Lifecycle profiles
	cfg.RiskProfilesPath = getEnv("RISK_PROFILES_PATH", "")
	cfg.DefaultRiskProfile = strings.ToUpper(getEnv("DEFAULT_RISK_PROFILE", "BALANCED"))
	cfg.CloseFailureAlertThreshold, err = getEnvAsIntRequired("CLOSE_FAILURE_ALERT_THRESHOLD", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CLOSE_FAILURE_ALERT_THRESHOLD: %v", err))
	} else if cfg.CloseFailureAlertThreshold <= 0 {
		errs = append(errs, "CLOSE_FAILURE_ALERT_THRESHOLD must be positive")
	}

	// Circuit breakers
	fractions := []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"MAX_DRAWDOWN_PCT", 0.20, &cfg.MaxDrawdownPct},
		{"MAX_DAILY_LOSS_PCT", 0.05, &cfg.MaxDailyLossPct},
		{"CORRELATION_THRESHOLD", 0.8, &cfg.CorrelationThreshold},
		{"RISK_PER_TRADE_PCT", 0.01, &cfg.RiskPerTradePct},
		{"KELLY_FRACTION", 0.5, &cfg.KellyFraction},
		{"KELLY_MAX_PCT", 0.05, &cfg.KellyMaxPct},
	}
	for _, f := range fractions {
		*f.dest, err = getEnvAsFloatRequired(f.key, f.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", f.key, err))
		} else if *f.dest < 0 || *f.dest > 1 {
			errs = append(errs, f.key+" must be between 0 and 1")
		}
	}
	if cfg.RiskPerTradePct == 0 {
		errs = append(errs, "RISK_PER_TRADE_PCT must be positive")
	}

	cfg.MaxOpenPositions, err = getEnvAsIntRequired("MAX_OPEN_POSITIONS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_POSITIONS: %v", err))
	} else if cfg.MaxOpenPositions < 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS cannot be negative")
	}
	cfg.MaxCorrelatedPositions, err = getEnvAsIntRequired("MAX_CORRELATED_POSITIONS", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CORRELATED_POSITIONS: %v", err))
	} else if cfg.MaxCorrelatedPositions < 0 {
		errs = append(errs, "MAX_CORRELATED_POSITIONS cannot be negative")
	}
	cfg.CorrelationReference = strings.ToUpper(getEnv("CORRELATION_REFERENCE", "BTCUSDT"))

	// Position sizing
	cfg.SizingMethod = strings.ToLower(getEnv("SIZING_METHOD", "fixed"))
	switch cfg.SizingMethod {
	case "fixed", "kelly", "volatility":
	default:
		errs = append(errs, fmt.Sprintf("SIZING_METHOD must be fixed, kelly or volatility, got %q", cfg.SizingMethod))
	}
	cfg.KellyMinTrades = getEnvAsInt("KELLY_MIN_TRADES", 20)
	cfg.VolATRMultiplier = getEnvAsFloat("VOLATILITY_ATR_MULTIPLIER", 2.0)

	// Exchange connection settings
	recvWindowMs := getEnvAsInt("EXCHANGE_RECV_WINDOW_MS", 5000)
	if recvWindowMs <= 0 || recvWindowMs > 60000 {
		errs = append(errs, "EXCHANGE_RECV_WINDOW_MS must be in (0, 60000]")
	}
	cfg.ExchangeRecvWindow = time.Duration(recvWindowMs) * time.Millisecond
	skewMs := getEnvAsInt("EXCHANGE_MAX_CLOCK_SKEW_MS", recvWindowMs)
	if skewMs <= 0 {
		errs = append(errs, "EXCHANGE_MAX_CLOCK_SKEW_MS must be positive")
	}
	cfg.ExchangeMaxClockSkew = time.Duration(skewMs) * time.Millisecond
	cfg.ExchangeRateLimitRPS = getEnvAsFloat("EXCHANGE_RATE_LIMIT_RPS", 10)
	if cfg.ExchangeRateLimitRPS <= 0 {
		errs = append(errs, "EXCHANGE_RATE_LIMIT_RPS must be positive")
	}
	cfg.ExchangeReadRetries = getEnvAsInt("EXCHANGE_READ_RETRIES", 3)
	if cfg.ExchangeReadRetries < 0 {
		errs = append(errs, "EXCHANGE_READ_RETRIES cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsDurationRequired accepts Go durations ("90s", "1m") or bare seconds.
func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsInt64List(key string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(os.Getenv(key), ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id '%s' for key %s", p, key)
		}
		out = append(out, id)
	}
	return out, nil
}
