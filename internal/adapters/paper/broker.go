// Package paper simulates order execution against a pluggable market data source.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
)

// BackendName identifies the paper backend.
const BackendName = "paper"

var (
	bpsDivisor  = decimal.NewFromInt(10000)
	knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH", "BNB", "EUR"}
)

// Config holds the simulation parameters.
type Config struct {
	QuoteAsset      string
	InitialBalances map[string]float64 // Seed ledger; quote asset keyed by QuoteAsset
	SlippageBps     float64
	CommissionRate  float64
	Symbols         map[string]domain.SymbolInfo // Per-symbol rule overrides
	Logger          ports.Logger
	Now             func() time.Time
}

type paperOrder struct {
	intent domain.OrderIntent
	result domain.OrderResult
}

// Broker implements ports.Broker by filling orders in an in-memory ledger.
type Broker struct {
	source     ports.DataSource
	logger     ports.Logger
	quoteAsset string
	slippage   decimal.Decimal // Fraction, not bps
	commission decimal.Decimal
	symbols    map[string]domain.SymbolInfo
	now        func() time.Time

	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	orders     map[string]*paperOrder
	byClientID map[string]string
	nextID     int64
}

// NewBroker creates a paper broker priced by source.
func NewBroker(source ports.DataSource, cfg Config) (*Broker, error) {
	if source == nil {
		return nil, fmt.Errorf("data source is required for paper broker")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper broker")
	}
	if cfg.SlippageBps < 0 || cfg.CommissionRate < 0 || cfg.CommissionRate >= 1 {
		return nil, fmt.Errorf("invalid paper costs: slippage %v bps, commission %v", cfg.SlippageBps, cfg.CommissionRate)
	}
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	balances := make(map[string]decimal.Decimal, len(cfg.InitialBalances))
	for asset, amount := range cfg.InitialBalances {
		if amount < 0 {
			return nil, fmt.Errorf("negative seed balance for %s", asset)
		}
		balances[strings.ToUpper(asset)] = decimal.NewFromFloat(amount)
	}
	symbols := make(map[string]domain.SymbolInfo, len(cfg.Symbols))
	for k, v := range cfg.Symbols {
		symbols[strings.ToUpper(k)] = v
	}

	return &Broker{
		source:     source,
		logger:     cfg.Logger,
		quoteAsset: quote,
		slippage:   decimal.NewFromFloat(cfg.SlippageBps).Div(bpsDivisor),
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		symbols:    symbols,
		now:        now,
		balances:   balances,
		orders:     make(map[string]*paperOrder),
		byClientID: make(map[string]string),
	}, nil
}

// Name identifies the backend.
func (b *Broker) Name() string { return BackendName }

// IsPaper reports true: no order leaves the process.
func (b *Broker) IsPaper() bool { return true }

// GetCandles delegates to the data source.
func (b *Broker) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return b.source.GetCandles(ctx, symbol, interval, limit)
}

// GetTicker delegates to the data source.
func (b *Broker) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return b.source.GetTicker(ctx, symbol)
}

// GetLatestPrice delegates to the data source.
func (b *Broker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return b.source.GetLatestPrice(ctx, symbol)
}

// GetSymbolInfo returns the configured override for symbol or the default paper rules.
func (b *Broker) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	key := strings.ToUpper(symbol)
	if info, ok := b.symbols[key]; ok {
		return &info, nil
	}
	base, quote, err := b.splitSymbol(key)
	if err != nil {
		return nil, err
	}
	return &domain.SymbolInfo{
		Symbol:      key,
		BaseAsset:   base,
		QuoteAsset:  quote,
		Status:      "TRADING",
		TickSize:    0.01,
		StepSize:    0.00001,
		MinQty:      0.00001,
		MinNotional: 5,
	}, nil
}

func (b *Broker) splitSymbol(symbol string) (string, string, error) {
	if strings.HasSuffix(symbol, b.quoteAsset) && len(symbol) > len(b.quoteAsset) {
		return strings.TrimSuffix(symbol, b.quoteAsset), b.quoteAsset, nil
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, nil
		}
	}
	return "", "", fmt.Errorf("paper: cannot split %q into base and quote: %w", symbol, ports.ErrInvalidSymbol)
}

// fillPrice applies slippage against the trader: up for BUY, down for SELL.
func (b *Broker) fillPrice(side domain.OrderSide, latest decimal.Decimal) decimal.Decimal {
	if side == domain.Buy {
		return latest.Mul(decimal.NewFromInt(1).Add(b.slippage))
	}
	return latest.Mul(decimal.NewFromInt(1).Sub(b.slippage))
}

// PlaceOrder simulates the intent. Market orders and marketable limit or
// triggered stop orders fill immediately; others rest as NEW and are
// re-evaluated on GetOrderStatus. A repeated client order id returns the
// original result.
func (b *Broker) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	op := "PaperPlaceOrder"
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidOrder, err)
	}
	intent.Symbol = strings.ToUpper(intent.Symbol)

	if intent.ClientOrderID != "" {
		b.mu.Lock()
		id, seen := b.byClientID[intent.ClientOrderID]
		var prior domain.OrderResult
		if seen {
			prior = b.orders[id].result
		}
		b.mu.Unlock()
		if seen {
			b.logger.Debug(ctx, op+": duplicate client order id, returning original result", map[string]interface{}{"clientOrderID": intent.ClientOrderID})
			return &prior, nil
		}
	}

	info, err := b.GetSymbolInfo(ctx, intent.Symbol)
	if err != nil {
		return nil, err
	}
	latest, err := b.source.GetLatestPrice(ctx, intent.Symbol)
	if err != nil {
		return nil, err
	}
	if latest <= 0 {
		return nil, fmt.Errorf("%s failed: %w: no price for %s", op, ports.ErrExchangeUnavailable, intent.Symbol)
	}
	if err := info.CheckIntent(intent, latest); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidOrder, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-check under the lock so concurrent duplicates resolve to one order.
	if intent.ClientOrderID != "" {
		if id, ok := b.byClientID[intent.ClientOrderID]; ok {
			prior := b.orders[id].result
			return &prior, nil
		}
	}

	b.nextID++
	order := &paperOrder{
		intent: intent,
		result: domain.OrderResult{
			OrderID:           strconv.FormatInt(b.nextID, 10),
			ClientOrderID:     intent.ClientOrderID,
			Symbol:            intent.Symbol,
			Side:              intent.Side,
			Type:              intent.Type,
			Status:            domain.OrderStatusNew,
			RequestedQuantity: intent.Quantity,
		},
	}

	if price, ok := b.executablePrice(intent, decimal.NewFromFloat(latest)); ok {
		if err := b.fill(order, info, price); err != nil {
			metrics.OrdersPlaced.WithLabelValues(BackendName, string(intent.Side), "rejected").Inc()
			b.logger.Warn(ctx, op+": rejected", map[string]interface{}{"symbol": intent.Symbol, "side": intent.Side, "quantity": intent.Quantity, "error": err.Error()})
			return nil, err
		}
	}

	b.orders[order.result.OrderID] = order
	if intent.ClientOrderID != "" {
		b.byClientID[intent.ClientOrderID] = order.result.OrderID
	}
	metrics.OrdersPlaced.WithLabelValues(BackendName, string(intent.Side), string(order.result.Status)).Inc()
	b.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": intent.Symbol, "side": intent.Side, "type": intent.Type, "quantity": intent.Quantity,
		"orderID": order.result.OrderID, "status": order.result.Status, "avgPrice": order.result.AvgFillPrice,
		"commission": order.result.Commission,
	})
	res := order.result
	return &res, nil
}

// executablePrice returns the simulated fill price if the order can execute at latest.
func (b *Broker) executablePrice(intent domain.OrderIntent, latest decimal.Decimal) (decimal.Decimal, bool) {
	slipped := b.fillPrice(intent.Side, latest)
	switch intent.Type {
	case domain.OrderTypeLimit:
		limit := decimal.NewFromFloat(intent.Price)
		if intent.Side == domain.Buy && latest.LessThanOrEqual(limit) {
			return decimal.Min(slipped, limit), true
		}
		if intent.Side == domain.Sell && latest.GreaterThanOrEqual(limit) {
			return decimal.Max(slipped, limit), true
		}
		return decimal.Zero, false
	case domain.OrderTypeStop:
		stop := decimal.NewFromFloat(intent.StopPrice)
		triggered := (intent.Side == domain.Buy && latest.GreaterThanOrEqual(stop)) ||
			(intent.Side == domain.Sell && latest.LessThanOrEqual(stop))
		return slipped, triggered
	default:
		return slipped, true
	}
}

// fill applies the trade to the ledger. The ledger is untouched on error.
// Caller holds b.mu.
func (b *Broker) fill(order *paperOrder, info *domain.SymbolInfo, price decimal.Decimal) error {
	qty := decimal.NewFromFloat(order.intent.Quantity)
	value := price.Mul(qty)
	fee := value.Mul(b.commission)
	base, quote := info.BaseAsset, info.QuoteAsset

	switch order.intent.Side {
	case domain.Buy:
		need := value.Add(fee)
		if have := b.balances[quote]; have.LessThan(need) {
			return fmt.Errorf("paper: buy %s needs %s %s, have %s: %w", order.intent.Symbol, need.StringFixed(8), quote, have.StringFixed(8), ports.ErrInsufficientFunds)
		}
		b.balances[quote] = b.balances[quote].Sub(need)
		b.balances[base] = b.balances[base].Add(qty)
	default:
		if have := b.balances[base]; have.LessThan(qty) {
			return fmt.Errorf("paper: sell %s needs %s %s, have %s: %w", order.intent.Symbol, qty.String(), base, have.String(), ports.ErrInsufficientFunds)
		}
		b.balances[base] = b.balances[base].Sub(qty)
		b.balances[quote] = b.balances[quote].Add(value.Sub(fee))
	}

	fillPrice, _ := price.Float64()
	commission, _ := fee.Float64()
	order.result.Status = domain.OrderStatusFilled
	order.result.FilledQuantity = order.intent.Quantity
	order.result.AvgFillPrice = fillPrice
	order.result.Commission = commission
	order.result.CommissionAsset = quote
	order.result.FilledAt = b.now()
	return nil
}

// CancelOrder cancels a resting order.
func (b *Broker) CancelOrder(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, err := b.lookup(symbol, orderID)
	if err != nil {
		return nil, err
	}
	if order.result.Status.IsFinal() {
		return nil, fmt.Errorf("paper: order %s is already %s: %w", orderID, order.result.Status, ports.ErrOrderNotFound)
	}
	order.result.Status = domain.OrderStatusCanceled
	res := order.result
	b.logger.Info(ctx, "PaperCancelOrder successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return &res, nil
}

// GetOrderStatus returns the order, first trying to execute it if it is still resting.
func (b *Broker) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error) {
	b.mu.Lock()
	order, err := b.lookup(symbol, orderID)
	resting := err == nil && order.result.Status == domain.OrderStatusNew
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !resting {
		res := order.result
		return &res, nil
	}

	latest, err := b.source.GetLatestPrice(ctx, order.intent.Symbol)
	if err != nil {
		return nil, err
	}
	info, err := b.GetSymbolInfo(ctx, order.intent.Symbol)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if order.result.Status == domain.OrderStatusNew {
		if price, ok := b.executablePrice(order.intent, decimal.NewFromFloat(latest)); ok {
			if err := b.fill(order, info, price); err != nil {
				order.result.Status = domain.OrderStatusRejected
				b.logger.Warn(ctx, "PaperOrder rejected on trigger", map[string]interface{}{"orderID": orderID, "error": err.Error()})
			}
		}
	}
	res := order.result
	return &res, nil
}

// lookup accepts the paper order id or the client order id. Caller holds b.mu.
func (b *Broker) lookup(symbol, orderID string) (*paperOrder, error) {
	order, ok := b.orders[orderID]
	if !ok {
		if id, byClient := b.byClientID[orderID]; byClient {
			order, ok = b.orders[id]
		}
	}
	if !ok || !strings.EqualFold(order.intent.Symbol, symbol) {
		return nil, fmt.Errorf("paper: order %s on %s: %w", orderID, symbol, ports.ErrOrderNotFound)
	}
	return order, nil
}

// GetAccountBalance values every holding at the latest source price.
func (b *Broker) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	b.mu.Lock()
	snapshot := make(map[string]decimal.Decimal, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	b.mu.Unlock()

	quoteFree, _ := snapshot[b.quoteAsset].Float64()
	bal := &domain.AccountBalance{
		QuoteAsset: b.quoteAsset,
		Free:       quoteFree,
		Holdings:   make(map[string]domain.Holding, len(snapshot)),
	}
	total := decimal.Zero
	for asset, amount := range snapshot {
		if amount.IsZero() {
			continue
		}
		f, _ := amount.Float64()
		bal.Holdings[asset] = domain.Holding{Asset: asset, Free: f}
		if asset == b.quoteAsset {
			total = total.Add(amount)
			continue
		}
		price, err := b.source.GetLatestPrice(ctx, asset+b.quoteAsset)
		if err != nil {
			b.logger.Warn(ctx, "PaperGetAccountBalance: cannot value asset", map[string]interface{}{"asset": asset, "error": err.Error()})
			continue
		}
		total = total.Add(amount.Mul(decimal.NewFromFloat(price)))
	}
	bal.Total, _ = total.Float64()
	return bal, bal.Validate()
}

// Balance returns the ledger amount of one asset.
func (b *Broker) Balance(asset string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.balances[strings.ToUpper(asset)].Float64()
	return f
}
