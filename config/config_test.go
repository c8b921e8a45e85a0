package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.BotUsers)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.BotSymbols)
	assert.Equal(t, time.Minute, cfg.SignalInterval)
	assert.Equal(t, 15*time.Second, cfg.CallTimeout)
	assert.Equal(t, 0.05, cfg.MaxDailyLossPct)
	assert.Equal(t, "fixed", cfg.SizingMethod)
	assert.Equal(t, 5*time.Second, cfg.ExchangeMaxClockSkew)
	assert.Equal(t, 3, cfg.CloseFailureAlertThreshold)
	assert.Equal(t, "BALANCED", cfg.DefaultRiskProfile)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://bot@localhost/exec")
	t.Setenv("BOT_USERS", "1, 2,3")
	t.Setenv("BOT_SYMBOLS", "ethusdt,btcusdt")
	t.Setenv("MONITOR_INTERVAL", "30")
	t.Setenv("SIGNAL_INTERVAL", "5m")
	t.Setenv("EXCHANGE_RECV_WINDOW_MS", "10000")
	t.Setenv("SIZING_METHOD", "Kelly")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, cfg.BotUsers)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.BotSymbols)
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 5*time.Minute, cfg.SignalInterval)
	assert.Equal(t, 10*time.Second, cfg.ExchangeRecvWindow)
	assert.Equal(t, 10*time.Second, cfg.ExchangeMaxClockSkew, "skew defaults to the recv window")
	assert.Equal(t, "kelly", cfg.SizingMethod)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestLoadConfig_AggregatesErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg []string
	}{
		{
			name:    "postgres without dsn",
			env:     map[string]string{"DB_DRIVER": "postgres"},
			wantMsg: []string{"DB_DSN must be set"},
		},
		{
			name: "several invalid values",
			env: map[string]string{
				"MAX_DAILY_LOSS_PCT": "1.5",
				"SIZING_METHOD":      "martingale",
				"BOT_USERS":          "1,abc",
				"CALL_TIMEOUT":       "soon",
			},
			wantMsg: []string{"MAX_DAILY_LOSS_PCT", "SIZING_METHOD", "BOT_USERS", "CALL_TIMEOUT"},
		},
		{
			name:    "strategy periods",
			env:     map[string]string{"STRATEGY_SHORT_MA_PERIOD": "60"},
			wantMsg: []string{"STRATEGY_SHORT_MA_PERIOD must be less than"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			for _, msg := range tt.wantMsg {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}
