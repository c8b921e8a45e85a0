package indicators

import (
	"math"

	"cryptoExecCore/internal/domain"
)

// TrueRange is the widest of the kline's range and its gaps to the previous
// close. Without a previous kline it is High minus Low.
func TrueRange(cur, prev *domain.Kline) float64 {
	tr := cur.High - cur.Low
	if prev == nil {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR is the Average True Range: the mean of the first period true ranges,
// then Wilder smoothed over the rest of the window.
func ATR(klines []*domain.Kline, period int) (float64, error) {
	if err := checkWindow(NameATR, period, len(klines)); err != nil {
		return 0, err
	}
	var atr float64
	var prev *domain.Kline
	for i, kl := range klines {
		tr := TrueRange(kl, prev)
		prev = kl
		if i < period {
			atr += tr / float64(period)
			continue
		}
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, nil
}
