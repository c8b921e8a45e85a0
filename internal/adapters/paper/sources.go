package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// LiveQuoteSource exposes only the read path of an upstream backend, so paper
// fills are priced from real quotes while orders never leave the process.
type LiveQuoteSource struct {
	upstream ports.DataSource
}

// NewLiveQuoteSource wraps upstream.
func NewLiveQuoteSource(upstream ports.DataSource) *LiveQuoteSource {
	return &LiveQuoteSource{upstream: upstream}
}

func (s *LiveQuoteSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return s.upstream.GetCandles(ctx, symbol, interval, limit)
}

func (s *LiveQuoteSource) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return s.upstream.GetTicker(ctx, symbol)
}

func (s *LiveQuoteSource) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return s.upstream.GetLatestPrice(ctx, symbol)
}

// SeriesSource replays recorded candles. Each symbol has a cursor; the candle
// under the cursor is "now". Advance moves every cursor one candle forward.
type SeriesSource struct {
	mu      sync.RWMutex
	series  map[string][]*domain.Kline
	cursors map[string]int
}

// NewSeriesSource builds a source from candles keyed by symbol. Candles are
// sorted by open time and the cursor starts on the first one.
func NewSeriesSource(series map[string][]*domain.Kline) *SeriesSource {
	s := &SeriesSource{
		series:  make(map[string][]*domain.Kline, len(series)),
		cursors: make(map[string]int, len(series)),
	}
	for symbol, klines := range series {
		sorted := append([]*domain.Kline(nil), klines...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })
		s.series[strings.ToUpper(symbol)] = sorted
	}
	return s
}

// Seek places every cursor on the given candle index, clamped to each series.
func (s *SeriesSource) Seek(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, klines := range s.series {
		i := index
		if i >= len(klines) {
			i = len(klines) - 1
		}
		if i < 0 {
			i = 0
		}
		s.cursors[symbol] = i
	}
}

// Advance moves every cursor forward and reports whether any series moved.
func (s *SeriesSource) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := false
	for symbol, klines := range s.series {
		if s.cursors[symbol] < len(klines)-1 {
			s.cursors[symbol]++
			moved = true
		}
	}
	return moved
}

// Current returns the candle under the cursor for symbol.
func (s *SeriesSource) Current(symbol string) (*domain.Kline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	klines, i, err := s.window(symbol)
	if err != nil {
		return nil, err
	}
	return klines[i], nil
}

// window returns the series and the cursor. Caller holds s.mu.
func (s *SeriesSource) window(symbol string) ([]*domain.Kline, int, error) {
	key := strings.ToUpper(symbol)
	klines, ok := s.series[key]
	if !ok || len(klines) == 0 {
		return nil, 0, fmt.Errorf("no recorded series for %s: %w", symbol, ports.ErrInvalidSymbol)
	}
	return klines, s.cursors[key], nil
}

// GetCandles returns up to limit candles ending at the cursor. The interval
// must match the recorded one when the series carries it.
func (s *SeriesSource) GetCandles(_ context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	klines, i, err := s.window(symbol)
	if err != nil {
		return nil, err
	}
	if rec := klines[i].Interval; rec != "" && interval != "" && rec != interval {
		return nil, fmt.Errorf("series for %s is recorded at %s, not %s: %w", symbol, rec, interval, ports.ErrInvalidRequest)
	}
	start := 0
	if limit > 0 && i+1-limit > 0 {
		start = i + 1 - limit
	}
	out := make([]*domain.Kline, 0, i+1-start)
	for _, k := range klines[start : i+1] {
		c := *k
		out = append(out, &c)
	}
	return out, nil
}

// GetTicker derives a 24h ticker from the candles up to the cursor.
func (s *SeriesSource) GetTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	klines, i, err := s.window(symbol)
	if err != nil {
		return nil, err
	}
	cur := klines[i]
	t := &domain.Ticker{
		Symbol:    strings.ToUpper(symbol),
		LastPrice: cur.Close,
		BidPrice:  cur.Close,
		AskPrice:  cur.Close,
		HighPrice: cur.High,
		LowPrice:  cur.Low,
		Time:      cur.CloseTime,
	}
	since := cur.CloseTime.Add(-24 * time.Hour)
	open := cur.Open
	for j := i; j >= 0 && klines[j].OpenTime.After(since); j-- {
		k := klines[j]
		if k.High > t.HighPrice {
			t.HighPrice = k.High
		}
		if k.Low < t.LowPrice {
			t.LowPrice = k.Low
		}
		t.Volume += k.Volume
		t.QuoteVolume += k.Volume * k.Close
		open = k.Open
	}
	if open > 0 {
		t.PriceChangePercent = (cur.Close - open) / open * 100
	}
	return t, nil
}

// GetLatestPrice returns the close of the candle under the cursor.
func (s *SeriesSource) GetLatestPrice(_ context.Context, symbol string) (float64, error) {
	k, err := s.Current(symbol)
	if err != nil {
		return 0, err
	}
	return k.Close, nil
}

// StoreReplaySource replays candles loaded from durable storage.
type StoreReplaySource struct {
	*SeriesSource
}

// NewStoreReplaySource loads the [from, to] window of each symbol from repo.
func NewStoreReplaySource(ctx context.Context, repo ports.CandleRepository, symbols []string, interval string, from, to time.Time) (*StoreReplaySource, error) {
	series := make(map[string][]*domain.Kline, len(symbols))
	for _, symbol := range symbols {
		klines, err := repo.LoadCandles(ctx, symbol, interval, from, to)
		if err != nil {
			return nil, fmt.Errorf("load candles for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			return nil, fmt.Errorf("no stored candles for %s %s between %s and %s: %w", symbol, interval, from.Format(time.RFC3339), to.Format(time.RFC3339), ports.ErrNotFound)
		}
		series[symbol] = klines
	}
	return &StoreReplaySource{SeriesSource: NewSeriesSource(series)}, nil
}
