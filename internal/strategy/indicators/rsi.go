package indicators

import "cryptoExecCore/internal/domain"

// RSI is the Relative Strength Index with Wilder smoothing, in [0, 100].
// A flat window reads 50.
func RSI(klines []*domain.Kline, period int) (float64, error) {
	if err := checkWindow(NameRSI, period, len(klines)); err != nil {
		return 0, err
	}
	p := float64(period)
	var gain, loss float64
	for i := 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		up, down := 0.0, 0.0
		if change > 0 {
			up = change
		} else {
			down = -change
		}
		if i <= period {
			gain += up / p
			loss += down / p
			continue
		}
		gain = (gain*(p-1) + up) / p
		loss = (loss*(p-1) + down) / p
	}

	switch {
	case loss == 0 && gain == 0:
		return 50, nil
	case loss == 0:
		return 100, nil
	}
	return 100 - 100/(1+gain/loss), nil
}
