package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"cryptoExecCore/internal/domain"
)

func parseFloat(field, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s '%s': %w", field, v, err)
	}
	return f, nil
}

func translateStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return domain.OrderStatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	default: // CANCELED, PENDING_CANCEL, EXPIRED
		return domain.OrderStatusCanceled
	}
}

func translateType(t binance.OrderType) domain.OrderType {
	switch t {
	case binance.OrderTypeLimit, binance.OrderTypeLimitMaker:
		return domain.OrderTypeLimit
	case binance.OrderTypeMarket:
		return domain.OrderTypeMarket
	default:
		return domain.OrderTypeStop
	}
}

// avgPrice derives the average fill price from cumulative quote and executed quantity.
func avgPrice(cumQuote, executed float64) float64 {
	if executed <= 0 {
		return 0
	}
	return cumQuote / executed
}

func translateCreateOrder(order *binance.CreateOrderResponse, intent domain.OrderIntent) (*domain.OrderResult, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	executed, err := parseFloat("executed quantity", order.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	cumQuote, err := parseFloat("cumulative quote", order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	res := &domain.OrderResult{
		OrderID:           strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:     order.ClientOrderID,
		Symbol:            order.Symbol,
		Side:              domain.OrderSide(order.Side),
		Type:              translateType(order.Type),
		Status:            translateStatus(order.Status),
		RequestedQuantity: intent.Quantity,
		FilledQuantity:    executed,
		AvgFillPrice:      avgPrice(cumQuote, executed),
		FilledAt:          time.UnixMilli(order.TransactTime),
	}
	for _, f := range order.Fills {
		commission, err := parseFloat("commission", f.Commission)
		if err != nil {
			return nil, err
		}
		res.Commission += commission
		if res.CommissionAsset == "" {
			res.CommissionAsset = f.CommissionAsset
		}
	}
	if res.AvgFillPrice == 0 && len(order.Fills) > 0 {
		res.AvgFillPrice, err = weightedFillPrice(order.Fills)
		if err != nil {
			return nil, err
		}
	}
	return res, res.Validate()
}

func weightedFillPrice(fills []*binance.Fill) (float64, error) {
	var qty, value float64
	for _, f := range fills {
		p, err := parseFloat("fill price", f.Price)
		if err != nil {
			return 0, err
		}
		q, err := parseFloat("fill quantity", f.Quantity)
		if err != nil {
			return 0, err
		}
		qty += q
		value += p * q
	}
	return avgPrice(value, qty), nil
}

func translateOrder(order *binance.Order) (*domain.OrderResult, error) {
	if order == nil {
		return nil, errors.New("received nil order")
	}
	orig, err := parseFloat("original quantity", order.OrigQuantity)
	if err != nil {
		return nil, err
	}
	executed, err := parseFloat("executed quantity", order.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	cumQuote, err := parseFloat("cumulative quote", order.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	res := &domain.OrderResult{
		OrderID:           strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:     order.ClientOrderID,
		Symbol:            order.Symbol,
		Side:              domain.OrderSide(order.Side),
		Type:              translateType(order.Type),
		Status:            translateStatus(order.Status),
		RequestedQuantity: orig,
		FilledQuantity:    executed,
		AvgFillPrice:      avgPrice(cumQuote, executed),
		FilledAt:          time.UnixMilli(order.UpdateTime),
	}
	return res, res.Validate()
}

func translateCancel(res *binance.CancelOrderResponse) (*domain.OrderResult, error) {
	if res == nil {
		return nil, errors.New("received nil cancel response")
	}
	orig, err := parseFloat("original quantity", res.OrigQuantity)
	if err != nil {
		return nil, err
	}
	executed, err := parseFloat("executed quantity", res.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	cumQuote, err := parseFloat("cumulative quote", res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	return &domain.OrderResult{
		OrderID:           strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:     res.OrigClientOrderID,
		Symbol:            res.Symbol,
		Side:              domain.OrderSide(res.Side),
		Type:              translateType(res.Type),
		Status:            translateStatus(res.Status),
		RequestedQuantity: orig,
		FilledQuantity:    executed,
		AvgFillPrice:      avgPrice(cumQuote, executed),
		FilledAt:          time.UnixMilli(res.TransactTime),
	}, nil
}

func translateTicker(s *binance.PriceChangeStats) (*domain.Ticker, error) {
	if s == nil {
		return nil, errors.New("received nil ticker")
	}
	t := &domain.Ticker{Symbol: s.Symbol, Time: time.UnixMilli(s.CloseTime)}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"last price", s.LastPrice, &t.LastPrice},
		{"bid price", s.BidPrice, &t.BidPrice},
		{"ask price", s.AskPrice, &t.AskPrice},
		{"high price", s.HighPrice, &t.HighPrice},
		{"low price", s.LowPrice, &t.LowPrice},
		{"volume", s.Volume, &t.Volume},
		{"quote volume", s.QuoteVolume, &t.QuoteVolume},
		{"price change percent", s.PriceChangePercent, &t.PriceChangePercent},
	}
	for _, f := range fields {
		v, err := parseFloat(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return t, nil
}

// translateSymbol reads the price, lot size and notional filters from the raw
// exchange filter maps.
func translateSymbol(symbol, base, quote, status string, filters []map[string]interface{}) (*domain.SymbolInfo, error) {
	info := &domain.SymbolInfo{
		Symbol:     symbol,
		BaseAsset:  base,
		QuoteAsset: quote,
		Status:     status,
	}
	for _, f := range filters {
		filterType, _ := f["filterType"].(string)
		var err error
		switch strings.ToUpper(filterType) {
		case "PRICE_FILTER":
			info.TickSize, err = filterFloat(f, "tickSize")
		case "LOT_SIZE":
			if info.StepSize, err = filterFloat(f, "stepSize"); err == nil {
				info.MinQty, err = filterFloat(f, "minQty")
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			var v float64
			if v, err = filterFloat(f, "minNotional"); err == nil && v > info.MinNotional {
				info.MinNotional = v
			}
		}
		if err != nil {
			return nil, fmt.Errorf("symbol %s filter %s: %w", symbol, filterType, err)
		}
	}
	return info, nil
}

func filterFloat(f map[string]interface{}, key string) (float64, error) {
	switch v := f[key].(type) {
	case nil:
		return 0, nil
	case string:
		return parseFloat(key, v)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected %s type %T", key, v)
	}
}

func translateKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := parseFloat("open price", bk.Open)
	if err != nil {
		return nil, err
	}
	high, err := parseFloat("high price", bk.High)
	if err != nil {
		return nil, err
	}
	low, err := parseFloat("low price", bk.Low)
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat("close price", bk.Close)
	if err != nil {
		return nil, err
	}
	vol, err := parseFloat("volume", bk.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,   // Use passed symbol as it's not in binance.Kline
		Interval:  interval, // Use passed interval
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   time.UnixMilli(bk.CloseTime).Before(time.Now()),
	}, nil
}
