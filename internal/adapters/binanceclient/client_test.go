package binanceclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/retry"
)

type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// fakeExchange serves a minimal subset of the spot REST API.
type fakeExchange struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
}

func newFakeExchange() *fakeExchange {
	f := &fakeExchange{calls: make(map[string]int), handlers: make(map[string]http.HandlerFunc)}
	f.handle("GET /api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
	})
	return f
}

func (f *fakeExchange) handle(route string, h http.HandlerFunc) {
	f.handlers[route] = h
}

func (f *fakeExchange) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls[route]++
	h, ok := f.handlers[route]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":-1000,"msg":"no handler"}`)
		return
	}
	h(w, r)
}

func apiError(w http.ResponseWriter, status int, code int, msg string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":%d,"msg":%q}`, code, msg)
}

func newTestClient(t *testing.T, fake *fakeExchange) (*Client, *mockLogger) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	logger := &mockLogger{}
	c, err := New(Config{
		APIKey:       "key",
		SecretKey:    "secret",
		BaseURL:      srv.URL,
		QuoteAsset:   "USDT",
		RateLimitRPS: 1000,
		ReadPolicy:   &retry.Policy{Attempts: 3, Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		Logger:       logger,
	})
	require.NoError(t, err)
	return c, logger
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_Identity(t *testing.T) {
	c, _ := newTestClient(t, newFakeExchange())
	assert.Equal(t, "binance", c.Name())
	assert.False(t, c.IsPaper())
}

func TestGetLatestPrice_RetriesUnavailable(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		if fake.count("GET /api/v3/ticker/price") < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "bad gateway")
			return
		}
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"50000.00"}]`)
	})
	c, _ := newTestClient(t, fake)

	price, err := c.GetLatestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, price)
	assert.Equal(t, 3, fake.count("GET /api/v3/ticker/price"))
}

func TestGetLatestPrice_InvalidSymbolNotRetried(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusBadRequest, -1121, "Invalid symbol.")
	})
	c, _ := newTestClient(t, fake)

	_, err := c.GetLatestPrice(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, ports.ErrInvalidSymbol)
	assert.Equal(t, 1, fake.count("GET /api/v3/ticker/price"))
}

func TestGetLatestPrice_GivesUpAfterBoundedAttempts(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "unavailable")
	})
	c, _ := newTestClient(t, fake)

	_, err := c.GetLatestPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Equal(t, 3, fake.count("GET /api/v3/ticker/price"))
}

func TestGetTicker(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","lastPrice":"50000.5","bidPrice":"50000.0","askPrice":"50001.0",
			"highPrice":"51000","lowPrice":"49000","volume":"1234.5","quoteVolume":"61725000","priceChangePercent":"1.25",
			"closeTime":1700000000000}]`)
	})
	c, _ := newTestClient(t, fake)

	tk, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.Equal(t, 50000.5, tk.LastPrice)
	assert.Equal(t, 50000.0, tk.BidPrice)
	assert.Equal(t, 50001.0, tk.AskPrice)
	assert.Equal(t, 1.25, tk.PriceChangePercent)
}

func TestGetCandles(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `[
			[1700000000000,"100.0","110.0","95.0","105.0","10.0",1700003599999,"1000.0",5,"5.0","500.0","0"],
			[1700003600000,"105.0","112.0","101.0","111.0","12.0",1700007199999,"1300.0",6,"6.0","650.0","0"]
		]`)
	})
	c, _ := newTestClient(t, fake)

	klines, err := c.GetCandles(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, 105.0, klines[0].Close)
	assert.Equal(t, 112.0, klines[1].High)
	assert.Equal(t, "1h", klines[1].Interval)
	assert.True(t, klines[0].OpenTime.Before(klines[1].OpenTime))
}

func TestGetSymbolInfo_ParsesFiltersAndCaches(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true}
		]}]}`)
	})
	c, _ := newTestClient(t, fake)

	info, err := c.GetSymbolInfo(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC", info.BaseAsset)
	assert.Equal(t, 0.01, info.TickSize)
	assert.Equal(t, 0.00001, info.StepSize)
	assert.Equal(t, 0.00001, info.MinQty)
	assert.Equal(t, 5.0, info.MinNotional)

	_, err = c.GetSymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("GET /api/v3/exchangeInfo"))
}

func TestGetAccountBalance_ConvertsToQuote(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		fmt.Fprint(w, `{"balances":[
			{"asset":"USDT","free":"1000.0","locked":"0.0"},
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"EUR","free":"100.0","locked":"0.0"},
			{"asset":"DUST","free":"7.0","locked":"0.0"},
			{"asset":"ETH","free":"0.0","locked":"0.0"}
		]}`)
	})
	fake.handle("GET /api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"50000"},{"symbol":"USDTEUR","price":"0.5"}]`)
	})
	c, _ := newTestClient(t, fake)

	bal, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USDT", bal.QuoteAsset)
	assert.Equal(t, 1000.0, bal.Free)
	// 1000 + 0.6*50000 + 100/0.5; DUST has no market
	assert.InDelta(t, 31200.0, bal.Total, 1e-6)
	assert.Equal(t, 4, bal.AssetCount())
	assert.LessOrEqual(t, bal.Free, bal.Total)
}

const filledOrderJSON = `{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"cid-1","transactTime":1700000000000,
	"price":"0.00000000","origQty":"0.01000000","executedQty":"0.01000000","cummulativeQuoteQty":"500.10000000",
	"status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY",
	"fills":[{"price":"50010.00","qty":"0.01","commission":"0.00001","commissionAsset":"BTC","tradeId":1}]}`

func TestPlaceOrder_Filled(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.FormValue("signature"))
		assert.Equal(t, "MARKET", r.FormValue("type"))
		assert.Equal(t, "0.01", r.FormValue("quantity"))
		fmt.Fprint(w, filledOrderJSON)
	})
	c, _ := newTestClient(t, fake)

	res, err := c.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 0.01, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "28", res.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.InDelta(t, 50010.0, res.AvgFillPrice, 1e-6)
	assert.Equal(t, 0.01, res.FilledQuantity)
	assert.Equal(t, 0.00001, res.Commission)
	assert.Equal(t, "BTC", res.CommissionAsset)
}

func TestPlaceOrder_NeverRetried(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "unavailable")
	})
	c, _ := newTestClient(t, fake)

	_, err := c.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 0.01,
	})
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Equal(t, 1, fake.count("POST /api/v3/order"))
	assert.Equal(t, 0, fake.count("GET /api/v3/order"))
}

func TestPlaceOrder_UnknownOutcomeReconciledByClientID(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		fmt.Fprint(w, "gateway timeout")
	})
	fake.handle("GET /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cid-1", r.URL.Query().Get("origClientOrderId"))
		fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"cid-1","price":"0","origQty":"0.01",
			"executedQty":"0.01","cummulativeQuoteQty":"500.10","status":"FILLED","timeInForce":"GTC","type":"MARKET",
			"side":"BUY","time":1700000000000,"updateTime":1700000000000,"isWorking":true}`)
	})
	c, _ := newTestClient(t, fake)

	res, err := c.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 0.01, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "28", res.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 1, fake.count("POST /api/v3/order"))
	assert.Equal(t, 1, fake.count("GET /api/v3/order"))
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    int
		msg     string
		wantErr error
	}{
		{"insufficient balance", http.StatusBadRequest, -2010, "Account has insufficient balance for requested action.", ports.ErrInsufficientFunds},
		{"filter failure", http.StatusBadRequest, -1013, "Filter failure: LOT_SIZE", ports.ErrInvalidOrder},
		{"invalid symbol", http.StatusBadRequest, -1121, "Invalid symbol.", ports.ErrInvalidSymbol},
		{"rate limited", http.StatusTooManyRequests, -1003, "Too many requests.", ports.ErrRateLimited},
		{"bad signature", http.StatusUnauthorized, -1022, "Signature for this request is not valid.", ports.ErrAuthenticationFailed},
		{"timestamp outside recvWindow", http.StatusBadRequest, -1021, "Timestamp for this request is outside of the recvWindow.", ports.ErrClockSkew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeExchange()
			fake.handle("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
				apiError(w, tt.status, tt.code, tt.msg)
			})
			c, _ := newTestClient(t, fake)

			_, err := c.PlaceOrder(context.Background(), domain.OrderIntent{
				Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 0.01,
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, fake.count("POST /api/v3/order"))
		})
	}
}

func TestPlaceOrder_RejectsInvalidIntentLocally(t *testing.T) {
	fake := newFakeExchange()
	c, _ := newTestClient(t, fake)

	_, err := c.PlaceOrder(context.Background(), domain.OrderIntent{Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeLimit, Quantity: 1})
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)
	assert.Equal(t, 0, fake.count("POST /api/v3/order"))
}

func TestPlaceOrder_RefusesWhenClockSkewed(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().Add(-time.Minute).UnixMilli())
	})
	c, _ := newTestClient(t, fake)

	_, err := c.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.OrderTypeMarket, Quantity: 0.01,
	})
	assert.ErrorIs(t, err, ports.ErrClockSkew)
	assert.Equal(t, 0, fake.count("POST /api/v3/order"))
	assert.InDelta(t, time.Minute.Seconds(), c.TimeOffset().Seconds(), 5)
}

func TestCancelOrder(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("DELETE /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","origClientOrderId":"cid-1","orderId":28,"transactTime":1700000000000,
			"price":"49000","origQty":"0.01","executedQty":"0","cummulativeQuoteQty":"0","status":"CANCELED",
			"timeInForce":"GTC","type":"LIMIT","side":"BUY"}`)
	})
	c, _ := newTestClient(t, fake)

	res, err := c.CancelOrder(context.Background(), "BTCUSDT", "28")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, res.Status)
	assert.Equal(t, domain.OrderTypeLimit, res.Type)
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	fake := newFakeExchange()
	fake.handle("GET /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusBadRequest, -2013, "Order does not exist.")
	})
	c, _ := newTestClient(t, fake)

	_, err := c.GetOrderStatus(context.Background(), "BTCUSDT", "99")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
	assert.Equal(t, 1, fake.count("GET /api/v3/order"))
}

func TestConversionRate(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000, "USDTEUR": 0.5}
	r, ok := conversionRate("USDT", "USDT", prices)
	assert.True(t, ok)
	assert.Equal(t, 1.0, r)
	r, ok = conversionRate("BTC", "USDT", prices)
	assert.True(t, ok)
	assert.Equal(t, 50000.0, r)
	r, ok = conversionRate("EUR", "USDT", prices)
	assert.True(t, ok)
	assert.Equal(t, 2.0, r)
	_, ok = conversionRate("XYZ", "USDT", prices)
	assert.False(t, ok)
}
