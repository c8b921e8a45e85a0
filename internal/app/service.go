package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cryptoExecCore/internal/broker"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/lifecycle"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/risk"
	"cryptoExecCore/internal/strategy/indicators"
)

const (
	atrPeriod          = 14
	defaultCallTimeout = 15 * time.Second
)

// BrokerResolver returns the guarded broker of a user.
type BrokerResolver func(ctx context.Context, userID int64) (ports.Broker, error)

// Deps holds the collaborators shared by every account.
type Deps struct {
	Resolve   BrokerResolver
	Trades    ports.TradeRepository
	Events    ports.EventRepository
	Tracker   *risk.Tracker
	Engine    *risk.Engine
	Sizer     risk.Sizer
	Lifecycle *lifecycle.Manager
	Strategy  ports.Strategy
	Logger    ports.Logger
}

func (d Deps) validate() error {
	if d.Resolve == nil || d.Trades == nil || d.Events == nil || d.Tracker == nil ||
		d.Engine == nil || d.Sizer == nil || d.Lifecycle == nil || d.Strategy == nil || d.Logger == nil {
		return fmt.Errorf("missing required dependencies for account service: %w", ports.ErrConfigurationError)
	}
	return nil
}

// AccountConfig describes one account's bot.
type AccountConfig struct {
	UserID          int64
	Symbols         []string
	Interval        string // Candle interval fed to the strategy
	SignalInterval  time.Duration
	MonitorInterval time.Duration
	CallTimeout     time.Duration
}

// AccountService runs the signal loop and the position-monitoring loop of one
// account. Work on a symbol is serialized between the two loops.
type AccountService struct {
	cfg  AccountConfig
	deps Deps

	mu     sync.Mutex
	broker ports.Broker
	locks  map[string]*sync.Mutex
}

// NewAccountService creates the service for one account.
func NewAccountService(cfg AccountConfig, deps Deps) (*AccountService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.UserID <= 0 || len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("account needs a user id and at least one symbol: %w", ports.ErrConfigurationError)
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &AccountService{cfg: cfg, deps: deps, locks: make(map[string]*sync.Mutex)}, nil
}

// UserID returns the account owner.
func (s *AccountService) UserID() int64 { return s.cfg.UserID }

// Connect resolves the account's broker. A configuration error is recorded as
// an account event and disables trading for the account.
func (s *AccountService) Connect(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	b, err := s.deps.Resolve(callCtx, s.cfg.UserID)
	if err != nil {
		s.deps.Logger.Error(ctx, err, "Trading disabled: broker unavailable for account", map[string]interface{}{"userID": s.cfg.UserID})
		s.record(ctx, 0, "", domain.EventConfigurationError, err.Error())
		return fmt.Errorf("resolve broker for user %d: %w", s.cfg.UserID, err)
	}
	s.mu.Lock()
	s.broker = b
	s.mu.Unlock()
	s.deps.Logger.Info(ctx, "Account connected", map[string]interface{}{"userID": s.cfg.UserID, "backend": b.Name(), "paper": b.IsPaper()})
	return nil
}

func (s *AccountService) currentBroker() (ports.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broker == nil {
		return nil, fmt.Errorf("account %d is not connected: %w", s.cfg.UserID, ports.ErrConfigurationError)
	}
	return s.broker, nil
}

// lock serializes work on one symbol of the account.
func (s *AccountService) lock(symbol string) func() {
	s.mu.Lock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run drives both loops until ctx is cancelled.
func (s *AccountService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.cfg.SignalInterval, s.RunSignalCycle)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.cfg.MonitorInterval, s.RunMonitorCycle)
	}()
	wg.Wait()
}

func (s *AccountService) loop(ctx context.Context, every time.Duration, cycle func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// RunSignalCycle evaluates the strategy once for every symbol.
func (s *AccountService) RunSignalCycle(ctx context.Context) {
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if err := s.EvaluateSymbol(ctx, symbol); err != nil {
			s.deps.Logger.Debug(ctx, "Signal cycle ended without entry", map[string]interface{}{"userID": s.cfg.UserID, "symbol": symbol, "error": err.Error()})
		}
	}
}

// EvaluateSymbol runs the strategy for symbol and acts on its signal.
func (s *AccountService) EvaluateSymbol(ctx context.Context, symbol string) error {
	op := "EvaluateSymbol"
	b, err := s.currentBroker()
	if err != nil {
		return err
	}
	unlock := s.lock(symbol)
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	limit := s.deps.Strategy.RequiredDataPoints()
	if n := indicators.Lookback(indicators.NameATR, atrPeriod); limit < n {
		limit = n
	}
	klines, err := b.GetCandles(callCtx, symbol, s.cfg.Interval, limit)
	if err != nil {
		return fmt.Errorf("%s failed: candles: %w", op, err)
	}
	price, err := b.GetLatestPrice(callCtx, symbol)
	if err != nil {
		return fmt.Errorf("%s failed: price: %w", op, err)
	}
	open, err := s.deps.Trades.FindOpen(callCtx, s.cfg.UserID, symbol, s.deps.Strategy.Name())
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	signal := s.deps.Strategy.Evaluate(callCtx, klines, price, open)
	switch signal.Action {
	case ports.SignalBuy, ports.SignalSell:
		if open != nil {
			msg := fmt.Sprintf("%s signal ignored: trade %d already open", signal.Action, open.ID)
			s.record(ctx, open.ID, symbol, domain.EventSignalSkipped, msg)
			return fmt.Errorf("%s failed: %w", op, ports.ErrDuplicatePosition)
		}
		side := domain.Buy
		if signal.Action == ports.SignalSell {
			side = domain.Sell
		}
		return s.enter(ctx, b, symbol, side, klines, price)
	case ports.SignalExit:
		if open == nil {
			return nil
		}
		s.deps.Logger.Info(ctx, "Strategy requested exit", map[string]interface{}{"tradeID": open.ID, "symbol": symbol, "reason": signal.Reason})
		exitCtx, cancel := s.detached(ctx)
		defer cancel()
		return s.deps.Lifecycle.Exit(exitCtx, b, open, domain.ExitReasonStrategyExit)
	default:
		return nil
	}
}

// detached returns a context that outlives the bot's cancellation so an
// order and its bookkeeping are never half-applied.
func (s *AccountService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
}

// enter runs breakers, sizing and the guarded placement, then hands the fill
// to the lifecycle manager.
func (s *AccountService) enter(ctx context.Context, b ports.Broker, symbol string, side domain.OrderSide, klines []*domain.Kline, price float64) error {
	op := "enter"
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	snap, err := s.deps.Tracker.Snapshot(callCtx, s.cfg.UserID, symbol, b)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if d := s.deps.Engine.Check(ctx, snap); !d.Allowed {
		s.record(ctx, 0, symbol, domain.EventBreakerBlocked, d.Err().Error())
		return d.Err()
	}

	atr, err := indicators.ATR(klines, atrPeriod)
	if err != nil {
		s.deps.Logger.Debug(ctx, "ATR unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		atr = 0
	}
	levels, err := lifecycle.InitialLevels(s.deps.Lifecycle.Profile(s.cfg.UserID), side, price, atr)
	if err != nil {
		s.record(ctx, 0, symbol, domain.EventSignalSkipped, fmt.Sprintf("no valid stop: %v", err))
		return fmt.Errorf("%s failed: %w", op, err)
	}

	in := risk.SizingInput{Balance: snap.Balance, Entry: price, StopLoss: levels.StopLoss, ATR: atr}
	if s.deps.Sizer.Name() == risk.MethodKelly {
		if in.Stats, err = s.deps.Tracker.TradeStats(callCtx, s.cfg.UserID); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	qty, err := s.deps.Sizer.Quantity(in)
	if err != nil {
		s.record(ctx, 0, symbol, domain.EventSignalSkipped, fmt.Sprintf("sizing: %v", err))
		return fmt.Errorf("%s failed: %w", op, err)
	}
	info, err := b.GetSymbolInfo(callCtx, symbol)
	if err != nil {
		return fmt.Errorf("%s failed: symbol info: %w", op, err)
	}
	qty = info.RoundQuantity(qty)
	if qty <= 0 || (info.MinQty > 0 && qty < info.MinQty) {
		s.record(ctx, 0, symbol, domain.EventSignalSkipped, fmt.Sprintf("sized quantity %v below the symbol minimum", qty))
		return fmt.Errorf("%s failed: quantity %v too small: %w", op, qty, ports.ErrInvalidOrder)
	}

	intent := domain.OrderIntent{
		Symbol:        symbol,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: domain.NewClientOrderID(),
	}
	placeCtx, cancelPlace := s.detached(ctx)
	defer cancelPlace()
	return s.place(placeCtx, b, intent, info, atr)
}

// place submits the entry and persists the resulting trade. It runs on a
// detached context.
func (s *AccountService) place(ctx context.Context, b ports.Broker, intent domain.OrderIntent, info *domain.SymbolInfo, atr float64) error {
	op := "place"
	fields := map[string]interface{}{"userID": s.cfg.UserID, "symbol": intent.Symbol, "side": string(intent.Side), "quantity": intent.Quantity, "clientOrderID": intent.ClientOrderID}
	s.deps.Logger.Info(ctx, "Placing entry order", fields)

	res, err := b.PlaceOrder(ctx, intent)
	if err != nil {
		var v *broker.LimitViolation
		if errors.As(err, &v) {
			s.record(ctx, 0, intent.Symbol, domain.EventLimitViolation, v.Error())
		} else {
			s.deps.Logger.Error(ctx, err, "Entry order failed", fields)
			s.record(ctx, 0, intent.Symbol, domain.EventOrderFailed, err.Error())
		}
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if !res.HasFill() {
		msg := fmt.Sprintf("entry order %s ended %s without a fill", res.OrderID, res.Status)
		s.record(ctx, 0, intent.Symbol, domain.EventOrderFailed, msg)
		return fmt.Errorf("%s failed: %s: %w", op, msg, ports.ErrOrderPlacementFailed)
	}

	trade, err := s.deps.Lifecycle.Open(s.cfg.UserID, s.deps.Strategy.Name(), res, info, atr)
	if err != nil {
		s.emergencyClose(ctx, b, res, info, err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
	id, err := s.deps.Trades.CreateTrade(ctx, trade)
	if err != nil {
		if errors.Is(err, ports.ErrDuplicatePosition) {
			s.deps.Logger.Error(ctx, err, "Duplicate open trade rejected by storage", fields)
			s.record(ctx, 0, intent.Symbol, domain.EventInvariantViolation, err.Error())
		}
		s.emergencyClose(ctx, b, res, info, err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
	trade.ID = id

	s.deps.Logger.Info(ctx, "Trade opened", map[string]interface{}{
		"tradeID":     id,
		"symbol":      trade.Symbol,
		"entryPrice":  trade.EntryPrice,
		"quantity":    trade.Quantity,
		"stopLoss":    trade.StopLossPrice,
		"takeProfit1": trade.TakeProfit1,
		"takeProfit2": trade.TakeProfit2,
	})
	s.record(ctx, id, trade.Symbol, domain.EventTradeOpened,
		fmt.Sprintf("%s %v at %v, stop %v", trade.Side, trade.Quantity, trade.EntryPrice, trade.StopLossPrice))
	return nil
}

// emergencyClose flattens a fill that could not be turned into a stored trade.
func (s *AccountService) emergencyClose(ctx context.Context, b ports.Broker, res *domain.OrderResult, info *domain.SymbolInfo, cause error) {
	op := "emergencyClose"
	qty := info.RoundQuantity(res.FilledQuantity)
	s.deps.Logger.Warn(ctx, op+": Attempting emergency close", map[string]interface{}{"orderID": res.OrderID, "symbol": res.Symbol, "quantity": qty, "cause": cause.Error()})
	if qty <= 0 {
		return
	}
	intent := domain.OrderIntent{
		Symbol:        res.Symbol,
		Side:          res.Side.Opposite(),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: domain.NewClientOrderID(),
		ReduceOnly:    true,
	}
	if _, err := b.PlaceOrder(ctx, intent); err != nil {
		s.deps.Logger.Error(ctx, err, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"orderID": res.OrderID, "symbol": res.Symbol})
		s.record(ctx, 0, res.Symbol, domain.EventOrderFailed, fmt.Sprintf("emergency close of order %s failed: %v", res.OrderID, err))
		return
	}
	metrics.TradeCloses.WithLabelValues(string(domain.ExitReasonEmergency)).Inc()
	s.record(ctx, 0, res.Symbol, domain.EventOrderFailed, fmt.Sprintf("order %s closed in emergency: %v", res.OrderID, cause))
}

// RunMonitorCycle re-prices every open trade of the account and applies the
// lifecycle plan.
func (s *AccountService) RunMonitorCycle(ctx context.Context) {
	b, err := s.currentBroker()
	if err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	open, err := s.deps.Trades.ListOpenByUser(callCtx, s.cfg.UserID)
	cancel()
	if err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to list open trades", map[string]interface{}{"userID": s.cfg.UserID})
		return
	}
	metrics.OpenTrades.WithLabelValues(strconv.FormatInt(s.cfg.UserID, 10)).Set(float64(len(open)))

	for _, t := range open {
		if ctx.Err() != nil {
			return
		}
		s.monitor(ctx, b, t)
	}
}

func (s *AccountService) monitor(ctx context.Context, b ports.Broker, listed *domain.Trade) {
	unlock := s.lock(listed.Symbol)
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	t, err := s.reload(callCtx, listed.ID)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Could not reload open trade, retrying next cycle", map[string]interface{}{"tradeID": listed.ID, "error": err.Error()})
		return
	}
	if t == nil || !t.IsOpen() {
		s.deps.Logger.Debug(ctx, "Trade closed while waiting for its symbol", map[string]interface{}{"tradeID": listed.ID})
		return
	}
	price, err := b.GetLatestPrice(callCtx, t.Symbol)
	if err != nil {
		s.deps.Logger.Warn(ctx, "No price for open trade, retrying next cycle", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "error": err.Error()})
		return
	}
	processCtx, cancel := s.detached(ctx)
	defer cancel()
	out, err := s.deps.Lifecycle.Process(processCtx, b, t, price)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Lifecycle step failed", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "error": err.Error()})
		return
	}
	if out.Closed {
		s.deps.Logger.Info(ctx, "Open trade closed by lifecycle", map[string]interface{}{"tradeID": t.ID, "reason": string(out.Reason)})
	}
}

// CloseTrade exits an open trade of the account manually.
func (s *AccountService) CloseTrade(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	op := "CloseTrade"
	b, err := s.currentBroker()
	if err != nil {
		return nil, err
	}
	t, err := s.deps.Trades.FindByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if t == nil || t.UserID != s.cfg.UserID {
		return nil, fmt.Errorf("%s failed: trade %d: %w", op, tradeID, ports.ErrNotFound)
	}
	unlock := s.lock(t.Symbol)
	defer unlock()
	if t, err = s.reload(ctx, tradeID); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if t == nil || !t.IsOpen() {
		return t, fmt.Errorf("%s failed: trade %d is not open: %w", op, tradeID, ports.ErrInvalidRequest)
	}
	exitCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.deps.Lifecycle.Exit(exitCtx, b, t, domain.ExitReasonManual); err != nil {
		return t, fmt.Errorf("%s failed: %w", op, err)
	}
	return t, nil
}

// reload reads the stored trade again. Callers hold the symbol lock, so the
// row is the one any close decision must be based on.
func (s *AccountService) reload(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	t, err := s.deps.Trades.FindByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t != nil && t.UserID != s.cfg.UserID {
		return nil, nil
	}
	return t, nil
}

func (s *AccountService) record(ctx context.Context, tradeID int64, symbol string, kind domain.TradeEventKind, msg string) {
	e := &domain.TradeEvent{UserID: s.cfg.UserID, TradeID: tradeID, Symbol: symbol, Kind: kind, Message: msg, CreatedAt: time.Now().UTC()}
	if err := s.deps.Events.SaveEvent(context.WithoutCancel(ctx), e); err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to record account event", map[string]interface{}{"userID": s.cfg.UserID, "kind": string(kind)})
	}
}
