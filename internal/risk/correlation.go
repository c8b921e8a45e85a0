package risk

import (
	"math"

	"cryptoExecCore/internal/domain"
)

// Returns converts closes into close-to-close simple returns.
func Returns(klines []*domain.Kline) []float64 {
	if len(klines) < 2 {
		return nil
	}
	out := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (klines[i].Close-prev)/prev)
	}
	return out
}

// Pearson returns the correlation coefficient of the overlapping tails of a
// and b, or 0 when either series is too short or flat.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
