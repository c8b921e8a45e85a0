package domain

import (
	"strings"
	"time"
)

// ExchangeConfig is a user's stored exchange connection. Credential fields hold
// ciphertext; only the broker factory decrypts them.
type ExchangeConfig struct {
	ID                  int64
	UserID              int64
	Exchange            string
	EncryptedAPIKey     string
	EncryptedAPISecret  string
	EncryptedPassphrase string
	PaperTrading        bool
	Testnet             bool
	MaxTradeSize        float64 // Zero disables the size check
	MaxDailyTrades      int     // Zero disables the daily count check
	AllowedSymbols      []string
	IsActive            bool
	IsDefault           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Limits returns the trading limits carried by the config.
func (c *ExchangeConfig) Limits() TradingLimits {
	return TradingLimits{
		MaxTradeSize:   c.MaxTradeSize,
		MaxDailyTrades: c.MaxDailyTrades,
		AllowedSymbols: c.AllowedSymbols,
	}
}

// TradingLimits are the per-account limits enforced before any order placement.
type TradingLimits struct {
	MaxTradeSize   float64
	MaxDailyTrades int
	AllowedSymbols []string
}

// SymbolAllowed reports whether symbol passes the whitelist. An empty list
// allows every symbol.
func (l TradingLimits) SymbolAllowed(symbol string) bool {
	if len(l.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range l.AllowedSymbols {
		if strings.EqualFold(strings.TrimSpace(s), symbol) {
			return true
		}
	}
	return false
}
