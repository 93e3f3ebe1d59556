package indicators

import "gonum.org/v1/gonum/stat"

// ZScore measures how far the latest price sits from the rolling mean,
// in standard deviations over a fixed window.
type ZScore struct {
	period int
	window []float64
}

func NewZScore(period int) *ZScore {
	if period < 2 {
		period = 2
	}
	return &ZScore{period: period, window: make([]float64, 0, period)}
}

func (z *ZScore) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	z.window = append(z.window, price)
	if len(z.window) > z.period {
		z.window = z.window[1:]
	}
}

// Value returns the z-score of the newest price. Zero with ok=false
// until the window fills; a flat window also reports zero.
func (z *ZScore) Value() (float64, bool) {
	if len(z.window) < z.period {
		return 0, false
	}
	mean := stat.Mean(z.window, nil)
	sd := stat.StdDev(z.window, nil)
	latest := z.window[len(z.window)-1]
	return safeDiv(latest-mean, sd, 0), true
}

func (z *ZScore) Reset() {
	z.window = z.window[:0]
}
