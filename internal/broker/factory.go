// Package broker resolves a user's stored exchange configuration into a
// guarded execution backend.
package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cryptoExecCore/internal/adapters/binanceclient"
	"cryptoExecCore/internal/adapters/paper"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/secrets"
)

// ExchangeBinance is the only exchange with a live backend.
const ExchangeBinance = "binance"

// PaperDefaults configures paper ledgers created by the factory.
type PaperDefaults struct {
	QuoteAsset     string
	InitialBalance float64
	SlippageBps    float64
	CommissionRate float64
}

// ExchangeDefaults configures live and public exchange clients.
type ExchangeDefaults struct {
	BaseURL          string // Overrides production and testnet endpoints when set
	RecvWindow       time.Duration
	MaxClockSkew     time.Duration
	TimeSyncInterval time.Duration
	RateLimitRPS     float64
	ReadRetries      int
}

// Config holds the factory's collaborators.
type Config struct {
	Configs       ports.ExchangeConfigRepository
	Counters      ports.TradeCounterRepository
	Cipher        *secrets.Cipher // Nil disables live trading
	Paper         PaperDefaults
	Exchange      ExchangeDefaults
	DefaultLimits domain.TradingLimits // Applied to users without a stored config
	Logger        ports.Logger
}

// Factory builds per-user brokers. It is the only holder of the credential
// cipher.
type Factory struct {
	configs       ports.ExchangeConfigRepository
	counters      ports.TradeCounterRepository
	cipher        *secrets.Cipher
	paperCfg      PaperDefaults
	exchangeCfg   ExchangeDefaults
	defaultLimits domain.TradingLimits
	logger        ports.Logger

	mu     sync.Mutex
	public map[bool]*binanceclient.Client // Unauthenticated quote clients keyed by testnet
}

// NewFactory validates cfg and creates a Factory.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for broker factory")
	}
	if cfg.Configs == nil || cfg.Counters == nil {
		return nil, fmt.Errorf("config and counter repositories are required: %w", ports.ErrConfigurationError)
	}
	p := cfg.Paper
	if p.QuoteAsset == "" {
		p.QuoteAsset = "USDT"
	}
	p.QuoteAsset = strings.ToUpper(p.QuoteAsset)
	if p.InitialBalance <= 0 {
		p.InitialBalance = 10000
	}
	if cfg.Cipher == nil {
		cfg.Logger.Warn(context.Background(), "No credential cipher configured; live exchange configs will be refused")
	}
	return &Factory{
		configs:       cfg.Configs,
		counters:      cfg.Counters,
		cipher:        cfg.Cipher,
		paperCfg:      p,
		exchangeCfg:   cfg.Exchange,
		defaultLimits: cfg.DefaultLimits,
		logger:        cfg.Logger,
		public:        make(map[bool]*binanceclient.Client),
	}, nil
}

// FromUser loads the user's active default exchange config and returns the
// matching backend wrapped in the trading limits guard. A user without a
// config gets a default-funded paper backend.
func (f *Factory) FromUser(ctx context.Context, userID int64) (*Guard, error) {
	op := "FromUser"
	cfg, err := f.configs.FindActiveDefault(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: load exchange config for user %d: %w", op, userID, err)
	}

	var inner ports.Broker
	switch {
	case cfg == nil:
		f.logger.Info(ctx, "No exchange config, using default paper backend", map[string]interface{}{"userID": userID})
		inner, err = f.paperOverLive(ctx, false)
	case !strings.EqualFold(cfg.Exchange, ExchangeBinance):
		err = fmt.Errorf("unsupported exchange %q: %w", cfg.Exchange, ports.ErrConfigurationError)
	case cfg.PaperTrading:
		inner, err = f.paperOverLive(ctx, cfg.Testnet)
	default:
		inner, err = f.live(ctx, cfg)
	}
	if err != nil {
		f.logger.Error(ctx, err, "Failed to resolve broker", map[string]interface{}{"userID": userID})
		return nil, fmt.Errorf("%s failed for user %d: %w", op, userID, err)
	}

	guard, err := NewGuard(inner, GuardConfig{
		UserID:   userID,
		Configs:  f.configs,
		Counters: f.counters,
		Fallback: f.defaultLimits,
		Logger:   f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	f.logger.Info(ctx, "Broker resolved", map[string]interface{}{"userID": userID, "backend": inner.Name(), "paper": inner.IsPaper()})
	return guard, nil
}

// CreatePaper builds an unguarded paper backend over source, bypassing any
// stored configuration.
func (f *Factory) CreatePaper(source ports.DataSource) (*paper.Broker, error) {
	return paper.NewBroker(source, paper.Config{
		QuoteAsset:      f.paperCfg.QuoteAsset,
		InitialBalances: map[string]float64{f.paperCfg.QuoteAsset: f.paperCfg.InitialBalance},
		SlippageBps:     f.paperCfg.SlippageBps,
		CommissionRate:  f.paperCfg.CommissionRate,
		Logger:          f.logger,
	})
}

func (f *Factory) paperOverLive(ctx context.Context, testnet bool) (ports.Broker, error) {
	quotes, err := f.publicClient(testnet)
	if err != nil {
		return nil, err
	}
	return f.CreatePaper(paper.NewLiveQuoteSource(quotes))
}

// publicClient returns a shared unauthenticated client used only for quotes.
func (f *Factory) publicClient(testnet bool) (*binanceclient.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.public[testnet]; ok {
		return c, nil
	}
	c, err := binanceclient.New(f.clientConfig("", "", testnet))
	if err != nil {
		return nil, err
	}
	f.public[testnet] = c
	return c, nil
}

func (f *Factory) live(ctx context.Context, cfg *domain.ExchangeConfig) (ports.Broker, error) {
	if f.cipher == nil {
		return nil, fmt.Errorf("live trading requires a master encryption key: %w", ports.ErrConfigurationError)
	}
	if cfg.EncryptedAPIKey == "" || cfg.EncryptedAPISecret == "" {
		return nil, fmt.Errorf("exchange config %d has no API credentials: %w", cfg.ID, ports.ErrCredentialsMissing)
	}
	apiKey, err := f.cipher.Open(cfg.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt API key of config %d: %w: %w", cfg.ID, ports.ErrConfigurationError, err)
	}
	apiSecret, err := f.cipher.Open(cfg.EncryptedAPISecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt API secret of config %d: %w: %w", cfg.ID, ports.ErrConfigurationError, err)
	}

	client, err := binanceclient.New(f.clientConfig(apiKey, apiSecret, cfg.Testnet))
	if err != nil {
		return nil, err
	}
	if err := client.SyncTime(ctx); err != nil {
		return nil, err
	}
	f.logger.Info(ctx, "Live exchange backend created", map[string]interface{}{
		"userID":  cfg.UserID,
		"testnet": cfg.Testnet,
		"apiKey":  secrets.Mask(apiKey),
	})
	return client, nil
}

func (f *Factory) clientConfig(apiKey, apiSecret string, testnet bool) binanceclient.Config {
	return binanceclient.Config{
		APIKey:           apiKey,
		SecretKey:        apiSecret,
		UseTestnet:       testnet,
		BaseURL:          f.exchangeCfg.BaseURL,
		QuoteAsset:       f.paperCfg.QuoteAsset,
		RecvWindow:       f.exchangeCfg.RecvWindow,
		MaxClockSkew:     f.exchangeCfg.MaxClockSkew,
		TimeSyncInterval: f.exchangeCfg.TimeSyncInterval,
		RateLimitRPS:     f.exchangeCfg.RateLimitRPS,
		ReadRetries:      f.exchangeCfg.ReadRetries,
		Logger:           f.logger,
	}
}
