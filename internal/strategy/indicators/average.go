package indicators

import "cryptoExecCore/internal/domain"

// SMA is the mean close of the last period klines.
func SMA(klines []*domain.Kline, period int) (float64, error) {
	if err := checkWindow(NameSMA, period, len(klines)); err != nil {
		return 0, err
	}
	return meanClose(klines[len(klines)-period:]), nil
}

// EMA seeds with the SMA of the first period klines and smooths the rest
// with a 2/(period+1) multiplier.
func EMA(klines []*domain.Kline, period int) (float64, error) {
	if err := checkWindow(NameEMA, period, len(klines)); err != nil {
		return 0, err
	}
	k := 2.0 / float64(period+1)
	ema := meanClose(klines[:period])
	for _, kl := range klines[period:] {
		ema += (kl.Close - ema) * k
	}
	return ema, nil
}

func meanClose(klines []*domain.Kline) float64 {
	var sum float64
	for _, kl := range klines {
		sum += kl.Close
	}
	return sum / float64(len(klines))
}
