package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"cryptoExecCore/internal/domain"
)

// GetAccountBalance returns every non-zero holding and the account total
// converted to the quote asset with one all-prices call. Assets without a
// direct or inverse market against the quote asset are left out of the total.
func (c *Client) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	op := "GetAccountBalance"
	account, err := read(ctx, c, op, func(ctx context.Context) (*binance.Account, error) {
		return c.spot.NewGetAccountService().Do(ctx, c.recvWindowOpt())
	})
	if err != nil {
		return nil, err
	}

	holdings := make(map[string]domain.Holding)
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse free balance '%s' for %s: %w", b.Free, b.Asset, err), op)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse locked balance '%s' for %s: %w", b.Locked, b.Asset, err), op)
		}
		if free == 0 && locked == 0 {
			continue
		}
		holdings[b.Asset] = domain.Holding{Asset: b.Asset, Free: free, Locked: locked}
	}

	var prices map[string]float64
	if needsConversion(holdings, c.quoteAsset) {
		prices, err = c.allPrices(ctx)
		if err != nil {
			return nil, err
		}
	}

	bal := &domain.AccountBalance{
		QuoteAsset: c.quoteAsset,
		Free:       holdings[c.quoteAsset].Free,
		Holdings:   holdings,
	}
	for asset, h := range holdings {
		rate, ok := conversionRate(asset, c.quoteAsset, prices)
		if !ok {
			c.logger.Debug(ctx, op+": no market to value asset", map[string]interface{}{"asset": asset, "quote": c.quoteAsset})
			continue
		}
		bal.Total += h.Total() * rate
	}
	return bal, bal.Validate()
}

func needsConversion(holdings map[string]domain.Holding, quote string) bool {
	for asset := range holdings {
		if asset != quote {
			return true
		}
	}
	return false
}

// conversionRate returns the price of one unit of asset in quote.
func conversionRate(asset, quote string, prices map[string]float64) (float64, bool) {
	if asset == quote {
		return 1, true
	}
	if p, ok := prices[asset+quote]; ok && p > 0 {
		return p, true
	}
	if p, ok := prices[quote+asset]; ok && p > 0 {
		return 1 / p, true
	}
	return 0, false
}
