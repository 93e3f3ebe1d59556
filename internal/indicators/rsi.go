package indicators

// RSI is Wilder's relative strength index. The first period changes
// seed the average gain/loss with a simple mean; afterwards both
// accumulators use Wilder smoothing: avg = (avg*(n-1) + x) / n.
type RSI struct {
	period    int
	prev      float64
	havePrev  bool
	changes   int
	gainSum   float64
	lossSum   float64
	avgGain   float64
	avgLoss   float64
	ready     bool
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	if !r.havePrev {
		r.prev = price
		r.havePrev = true
		return
	}

	change := price - r.prev
	r.prev = price

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !r.ready {
		r.gainSum += gain
		r.lossSum += loss
		r.changes++
		if r.changes == r.period {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
			r.ready = true
		}
		return
	}

	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

// Value returns the RSI in [0,100]. Before the seed completes it
// reports the neutral 50 with ok=false. A flat market (no losses)
// saturates at 100 rather than dividing by zero.
func (r *RSI) Value() (float64, bool) {
	if !r.ready {
		return NeutralRSI, false
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return NeutralRSI, true
		}
		return 100, true
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs), true
}

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

// RSIFromSeries replays prices through a fresh RSI.
func RSIFromSeries(prices []float64, period int) (float64, bool) {
	r := NewRSI(period)
	for _, p := range prices {
		r.Update(p)
	}
	return r.Value()
}
