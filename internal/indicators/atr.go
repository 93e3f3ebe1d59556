package indicators

// ATR measures tick-level volatility as the Wilder-smoothed mean of
// absolute price changes. With tick data every observation is its own
// bar, so true range collapses to |Δprice|.
type ATR struct {
	period   int
	prev     float64
	havePrev bool
	seen     int
	seedSum  float64
	value    float64
	ready    bool
}

func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

func (a *ATR) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	if !a.havePrev {
		a.prev = price
		a.havePrev = true
		return
	}

	tr := price - a.prev
	if tr < 0 {
		tr = -tr
	}
	a.prev = price

	if !a.ready {
		a.seedSum += tr
		a.seen++
		if a.seen == a.period {
			a.value = a.seedSum / float64(a.period)
			a.ready = true
		}
		return
	}

	n := float64(a.period)
	a.value = (a.value*(n-1) + tr) / n
}

func (a *ATR) Value() (float64, bool) {
	return a.value, a.ready
}

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

// ATRFromSeries replays prices through a fresh ATR.
func ATRFromSeries(prices []float64, period int) (float64, bool) {
	a := NewATR(period)
	for _, p := range prices {
		a.Update(p)
	}
	return a.Value()
}
