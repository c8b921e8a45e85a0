package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/adapters/paper"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/secrets"
)

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	c, err := secrets.NewCipher([]byte("0123456789abcdef0123456789abcdef"), 1)
	require.NoError(t, err)
	return c
}

func newTestFactory(t *testing.T, configs *fakeConfigs, baseURL string) *Factory {
	t.Helper()
	f, err := NewFactory(Config{
		Configs:  configs,
		Counters: newFakeCounters(),
		Cipher:   testCipher(t),
		Paper:    PaperDefaults{QuoteAsset: "usdt", InitialBalance: 2500, SlippageBps: 5, CommissionRate: 0.001},
		Exchange: ExchangeDefaults{BaseURL: baseURL, ReadRetries: 1},
		Logger:   &mockLogger{},
	})
	require.NoError(t, err)
	return f
}

func TestFactory_MissingConfigFallsBackToPaper(t *testing.T) {
	f := newTestFactory(t, &fakeConfigs{}, "http://127.0.0.1:1")

	b, err := f.FromUser(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, b.IsPaper())
	assert.Equal(t, "paper", b.Name())

	res, err := f.Probe(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, res.FreeBalance)
	assert.Equal(t, 2500.0, res.TotalValue)
	assert.Equal(t, 1, res.AssetCount)
	assert.Equal(t, "USDT", res.QuoteAsset)
	assert.True(t, res.Paper)
}

func TestFactory_PaperConfig(t *testing.T) {
	configs := &fakeConfigs{cfg: &domain.ExchangeConfig{UserID: 1, Exchange: "Binance", PaperTrading: true, Testnet: true, IsActive: true}}
	f := newTestFactory(t, configs, "http://127.0.0.1:1")

	b, err := f.FromUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, b.IsPaper())
	_, ok := b.Inner().(*paper.Broker)
	assert.True(t, ok, "paper config resolves to the paper backend")
}

func TestFactory_ConfigurationErrors(t *testing.T) {
	sealedKey, err := testCipher(t).Seal("key")
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     *domain.ExchangeConfig
		cipher  bool
		wantErr error
	}{
		{
			name:    "unsupported exchange",
			cfg:     &domain.ExchangeConfig{Exchange: "kraken", PaperTrading: true},
			cipher:  true,
			wantErr: ports.ErrConfigurationError,
		},
		{
			name:    "live without credentials",
			cfg:     &domain.ExchangeConfig{Exchange: ExchangeBinance},
			cipher:  true,
			wantErr: ports.ErrCredentialsMissing,
		},
		{
			name:    "live with undecryptable secret",
			cfg:     &domain.ExchangeConfig{Exchange: ExchangeBinance, EncryptedAPIKey: sealedKey, EncryptedAPISecret: "ENC[v1]:bm90LXJlYWw="},
			cipher:  true,
			wantErr: ports.ErrConfigurationError,
		},
		{
			name:    "live without cipher",
			cfg:     &domain.ExchangeConfig{Exchange: ExchangeBinance, EncryptedAPIKey: sealedKey, EncryptedAPISecret: sealedKey},
			wantErr: ports.ErrConfigurationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Configs: &fakeConfigs{cfg: tt.cfg}, Counters: newFakeCounters(), Logger: &mockLogger{}}
			if tt.cipher {
				cfg.Cipher = testCipher(t)
			}
			f, err := NewFactory(cfg)
			require.NoError(t, err)

			_, err = f.FromUser(context.Background(), 1)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFactory_LiveDecryptsCredentials(t *testing.T) {
	c := testCipher(t)
	key, err := c.Seal("live-api-key")
	require.NoError(t, err)
	secret, err := c.Seal("live-api-secret")
	require.NoError(t, err)

	var seenKey atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		seenKey.Store(r.Header.Get("X-MBX-APIKEY"))
		fmt.Fprint(w, `{"canTrade":true,"balances":[{"asset":"USDT","free":"250.5","locked":"10"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	configs := &fakeConfigs{cfg: &domain.ExchangeConfig{
		UserID: 9, Exchange: ExchangeBinance, EncryptedAPIKey: key, EncryptedAPISecret: secret,
		Testnet: true, MaxTradeSize: 1000, IsActive: true, IsDefault: true,
	}}
	f := newTestFactory(t, configs, server.URL)

	res, err := f.Probe(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, res.Paper)
	assert.Equal(t, "binance-testnet", res.Backend)
	assert.Equal(t, 250.5, res.FreeBalance)
	assert.Equal(t, 260.5, res.TotalValue)
	assert.Equal(t, "live-api-key", seenKey.Load())
}

func TestFactory_CreatePaper(t *testing.T) {
	f := newTestFactory(t, &fakeConfigs{}, "")
	b, err := f.CreatePaper(&mockBroker{price: 20})
	require.NoError(t, err)

	res, err := b.PlaceOrder(context.Background(), buy("ETHUSDT", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 20.01, res.AvgFillPrice)
}
