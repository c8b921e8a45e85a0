package broker

import (
	"context"
	"fmt"
)

// ProbeResult is the outcome of a connectivity probe.
type ProbeResult struct {
	UserID      int64   `json:"user_id"`
	Backend     string  `json:"backend"`
	Paper       bool    `json:"paper"`
	QuoteAsset  string  `json:"quote_asset"`
	FreeBalance float64 `json:"free_balance"`
	TotalValue  float64 `json:"total_value"`
	AssetCount  int     `json:"asset_count"`
}

// Probe resolves the user's broker and reads the account balance without
// placing any order. It validates newly stored credentials.
func (f *Factory) Probe(ctx context.Context, userID int64) (*ProbeResult, error) {
	op := "Probe"
	b, err := f.FromUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal, err := b.GetAccountBalance(ctx)
	if err != nil {
		f.logger.Warn(ctx, "Connectivity probe failed", map[string]interface{}{"userID": userID, "backend": b.Name(), "error": err.Error()})
		return nil, fmt.Errorf("%s failed for user %d: %w", op, userID, err)
	}
	return &ProbeResult{
		UserID:      userID,
		Backend:     b.Name(),
		Paper:       b.IsPaper(),
		QuoteAsset:  bal.QuoteAsset,
		FreeBalance: bal.Free,
		TotalValue:  bal.Total,
		AssetCount:  bal.AssetCount(),
	}, nil
}
