package indicators

// EMA is an exponential moving average with k = 2/(n+1), seeded with
// the simple average of the first n prices.
type EMA struct {
	period int
	k      float64
	seed   []float64
	value  float64
	ready  bool
}

func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period: period,
		k:      2.0 / (float64(period) + 1.0),
		seed:   make([]float64, 0, period),
	}
}

// Update folds one price into the average in O(1).
// Invalid prices are ignored.
func (e *EMA) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	if !e.ready {
		e.seed = append(e.seed, price)
		if len(e.seed) < e.period {
			return
		}
		sum := 0.0
		for _, p := range e.seed {
			sum += p
		}
		e.value = sum / float64(e.period)
		e.seed = nil
		e.ready = true
		return
	}
	e.value = price*e.k + e.value*(1.0-e.k)
}

// Value returns the current average; ok is false until n prices have
// been seen.
func (e *EMA) Value() (float64, bool) {
	return e.value, e.ready
}

// Reset discards all state, forcing a fresh seed.
func (e *EMA) Reset() {
	e.value = 0
	e.ready = false
	e.seed = make([]float64, 0, e.period)
}

// EMAFromSeries is the canonical full recomputation: a fresh EMA
// replayed over prices.
func EMAFromSeries(prices []float64, period int) (float64, bool) {
	e := NewEMA(period)
	for _, p := range prices {
		e.Update(p)
	}
	return e.Value()
}
