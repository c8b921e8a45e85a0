package domain

import "time"

// Ticker is a normalized 24h ticker snapshot.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	BidPrice           float64
	AskPrice           float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
	PriceChangePercent float64
	Time               time.Time
}
