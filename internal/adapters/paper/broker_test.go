package paper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// quoteSource serves fixed prices.
type quoteSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (q *quoteSource) set(symbol string, price float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[symbol] = price
}

func (q *quoteSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

func (q *quoteSource) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	p, err := q.GetLatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &domain.Ticker{Symbol: symbol, LastPrice: p}, nil
}

func (q *quoteSource) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[symbol]
	if !ok {
		return 0, ports.ErrInvalidSymbol
	}
	return p, nil
}

func newTestBroker(t *testing.T, usdt float64) (*Broker, *quoteSource) {
	t.Helper()
	src := &quoteSource{prices: map[string]float64{"BTCUSDT": 50000}}
	b, err := NewBroker(src, Config{
		QuoteAsset:      "USDT",
		InitialBalances: map[string]float64{"USDT": usdt},
		SlippageBps:     5,
		CommissionRate:  0.001,
		Logger:          &mockLogger{},
		Now:             func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return b, src
}

func marketOrder(side domain.OrderSide, qty float64) domain.OrderIntent {
	return domain.OrderIntent{Symbol: "BTCUSDT", Side: side, Type: domain.OrderTypeMarket, Quantity: qty}
}

func TestPaperBroker_BuyFillWithSlippageAndCommission(t *testing.T) {
	b, _ := newTestBroker(t, 100000)

	res, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 1))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 50025.0, res.AvgFillPrice)
	assert.Equal(t, 50.025, res.Commission)
	assert.Equal(t, "USDT", res.CommissionAsset)
	assert.Equal(t, 1.0, res.FilledQuantity)
	assert.InDelta(t, 49924.975, b.Balance("USDT"), 1e-9)
	assert.Equal(t, 1.0, b.Balance("BTC"))
	assert.NoError(t, res.Validate())
}

func TestPaperBroker_FillDirection(t *testing.T) {
	tests := []struct {
		name   string
		latest float64
		qty    float64
	}{
		{"round price", 50000, 0.5},
		{"odd price", 123.45, 3},
		{"small quantity", 27123.17, 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, src := newTestBroker(t, 1e9)
			src.set("BTCUSDT", tt.latest)

			buy, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, tt.qty))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, buy.AvgFillPrice, tt.latest)
			assert.InDelta(t, buy.AvgFillPrice*tt.qty*0.001, buy.Commission, 1e-9)

			sell, err := b.PlaceOrder(context.Background(), marketOrder(domain.Sell, tt.qty))
			require.NoError(t, err)
			assert.LessOrEqual(t, sell.AvgFillPrice, tt.latest)
			assert.InDelta(t, sell.AvgFillPrice*tt.qty*0.001, sell.Commission, 1e-9)
		})
	}
}

func TestPaperBroker_InsufficientFundsLeavesLedger(t *testing.T) {
	b, _ := newTestBroker(t, 1000)

	_, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 1))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Equal(t, 1000.0, b.Balance("USDT"))
	assert.Equal(t, 0.0, b.Balance("BTC"))

	_, err = b.PlaceOrder(context.Background(), marketOrder(domain.Sell, 0.1))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Equal(t, 1000.0, b.Balance("USDT"))
}

func TestPaperBroker_BuyNeedsCommissionHeadroom(t *testing.T) {
	// Exactly the fill value but not the commission.
	b, _ := newTestBroker(t, 50025)
	_, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 1))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
}

func TestPaperBroker_IdempotentClientOrderID(t *testing.T) {
	b, _ := newTestBroker(t, 100000)
	intent := marketOrder(domain.Buy, 0.5)
	intent.ClientOrderID = "cid-1"

	first, err := b.PlaceOrder(context.Background(), intent)
	require.NoError(t, err)
	second, err := b.PlaceOrder(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 0.5, b.Balance("BTC"))
}

func TestPaperBroker_RejectsInvalidIntents(t *testing.T) {
	b, _ := newTestBroker(t, 100000)

	_, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 0))
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)

	// Below min notional of 5 USDT.
	_, err = b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 0.00001))
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)

	_, err = b.PlaceOrder(context.Background(), domain.OrderIntent{Symbol: "ETHUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 1})
	assert.ErrorIs(t, err, ports.ErrInvalidSymbol)
}

func TestPaperBroker_LimitOrderRestsAndFillsOnStatus(t *testing.T) {
	b, src := newTestBroker(t, 100000)

	res, err := b.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 49000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, res.Status)
	assert.Equal(t, 100000.0, b.Balance("USDT"))

	src.set("BTCUSDT", 48900)
	status, err := b.GetOrderStatus(context.Background(), "BTCUSDT", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status.Status)
	assert.LessOrEqual(t, status.AvgFillPrice, 49000.0)
	assert.Equal(t, 1.0, b.Balance("BTC"))
}

func TestPaperBroker_CancelRestingOrder(t *testing.T) {
	b, _ := newTestBroker(t, 100000)

	res, err := b.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.OrderTypeStop, Quantity: 1, StopPrice: 45000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, res.Status)

	cancelled, err := b.CancelOrder(context.Background(), "BTCUSDT", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, cancelled.Status)

	_, err = b.CancelOrder(context.Background(), "BTCUSDT", res.OrderID)
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)

	_, err = b.GetOrderStatus(context.Background(), "BTCUSDT", "404")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestPaperBroker_AccountBalance(t *testing.T) {
	b, src := newTestBroker(t, 100000)
	_, err := b.PlaceOrder(context.Background(), marketOrder(domain.Buy, 1))
	require.NoError(t, err)

	src.set("BTCUSDT", 52000)
	bal, err := b.GetAccountBalance(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 100000-50025-50.025, bal.Free, 1e-9)
	assert.InDelta(t, bal.Free+52000, bal.Total, 1e-9)
	assert.Equal(t, 2, bal.AssetCount())
	assert.NoError(t, bal.Validate())
}

func TestPaperBroker_Identity(t *testing.T) {
	b, _ := newTestBroker(t, 1)
	assert.Equal(t, "paper", b.Name())
	assert.True(t, b.IsPaper())
	var _ ports.Broker = b
}

func TestNewBroker_Validation(t *testing.T) {
	src := &quoteSource{prices: map[string]float64{}}
	_, err := NewBroker(nil, Config{Logger: &mockLogger{}})
	assert.Error(t, err)
	_, err = NewBroker(src, Config{})
	assert.Error(t, err)
	_, err = NewBroker(src, Config{Logger: &mockLogger{}, CommissionRate: -0.1})
	assert.Error(t, err)
}
