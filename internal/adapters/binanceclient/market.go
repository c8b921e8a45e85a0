package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// GetCandles retrieves the most recent klines for symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetCandles"
	binanceKlines, err := read(ctx, c, op, func(ctx context.Context) ([]*binance.Kline, error) {
		return c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	const maxLimit = 1000
	from := start

	for {
		klines, err := read(ctx, c, op, func(ctx context.Context) ([]*binance.Kline, error) {
			return c.spot.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(maxLimit).
				Do(ctx)
		})
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline range: %w", err), op)
			}
			allKlines = append(allKlines, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	return allKlines, nil
}

// GetTicker retrieves the 24h ticker for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	op := "GetTicker"
	stats, err := read(ctx, c, op, func(ctx context.Context) ([]*binance.PriceChangeStats, error) {
		return c.spot.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no ticker returned for %s", op, ports.ErrInvalidSymbol, symbol)
	}
	t, err := translateTicker(stats[0])
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return t, nil
}

// GetLatestPrice retrieves the last traded price for symbol.
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetLatestPrice"
	prices, err := read(ctx, c, op, func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		return c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if strings.EqualFold(p.Symbol, symbol) {
			price, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", p.Price, err), op)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("%s failed: %w: no price returned for %s", op, ports.ErrInvalidSymbol, symbol)
}

// allPrices returns the last price of every symbol keyed by symbol.
func (c *Client) allPrices(ctx context.Context) (map[string]float64, error) {
	op := "ListPrices"
	prices, err := read(ctx, c, op, func(ctx context.Context) ([]*binance.SymbolPrice, error) {
		return c.spot.NewListPricesService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		out[p.Symbol] = v
	}
	return out, nil
}

// GetSymbolInfo returns the trading rules for symbol. Results are cached for
// the life of the client.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	op := "GetSymbolInfo"
	key := strings.ToUpper(symbol)

	c.symbolsMu.RLock()
	cached, ok := c.symbols[key]
	c.symbolsMu.RUnlock()
	if ok {
		info := *cached
		return &info, nil
	}

	exInfo, err := read(ctx, c, op, func(ctx context.Context) (*binance.ExchangeInfo, error) {
		return c.spot.NewExchangeInfoService().Symbol(key).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	for i := range exInfo.Symbols {
		s := exInfo.Symbols[i]
		if s.Symbol != key {
			continue
		}
		info, err := translateSymbol(s.Symbol, s.BaseAsset, s.QuoteAsset, s.Status, s.Filters)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		c.symbolsMu.Lock()
		c.symbols[key] = info
		c.symbolsMu.Unlock()
		out := *info
		return &out, nil
	}
	return nil, fmt.Errorf("%s failed: %w: %s not listed", op, ports.ErrInvalidSymbol, symbol)
}
