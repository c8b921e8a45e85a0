package domain

import "fmt"

// Holding is the amount of a single asset held in an account.
type Holding struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked.
func (h Holding) Total() float64 {
	return h.Free + h.Locked
}

// AccountBalance summarizes an account in its quote currency.
type AccountBalance struct {
	QuoteAsset string
	Free       float64 // Free quote currency
	Total      float64 // All holdings converted to the quote currency
	Holdings   map[string]Holding
}

// Validate enforces free ≤ total.
func (b *AccountBalance) Validate() error {
	if b == nil {
		return fmt.Errorf("account balance is nil")
	}
	if b.Free < 0 {
		return fmt.Errorf("account balance: negative free balance %v", b.Free)
	}
	if b.Free > b.Total*(1+1e-9) {
		return fmt.Errorf("account balance: free %v exceeds total %v", b.Free, b.Total)
	}
	return nil
}

// AssetCount returns the number of assets with a non-zero holding.
func (b *AccountBalance) AssetCount() int {
	n := 0
	for _, h := range b.Holdings {
		if h.Total() > 0 {
			n++
		}
	}
	return n
}
