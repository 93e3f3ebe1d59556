package indicators

// MACD tracks the fast/slow EMA pair plus the signal EMA of their
// difference. The signal line only starts averaging once both source
// EMAs are seeded, matching the canonical batch computation.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

func (m *MACD) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	m.fast.Update(price)
	m.slow.Update(price)

	f, fok := m.fast.Value()
	s, sok := m.slow.Value()
	if fok && sok {
		m.signal.Update2(f - s)
	}
}

// Line returns fastEMA - slowEMA.
func (m *MACD) Line() (float64, bool) {
	f, fok := m.fast.Value()
	s, sok := m.slow.Value()
	if !fok || !sok {
		return 0, false
	}
	return f - s, true
}

// Signal returns the EMA of the MACD line.
func (m *MACD) Signal() (float64, bool) {
	return m.signal.Value()
}

// Histogram returns line - signal.
func (m *MACD) Histogram() (float64, bool) {
	l, lok := m.Line()
	s, sok := m.Signal()
	if !lok || !sok {
		return 0, false
	}
	return l - s, true
}

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}

// MACDFromSeries replays prices through a fresh MACD and returns
// line, signal, histogram.
func MACDFromSeries(prices []float64, fast, slow, signal int) (line, sig, hist float64, ok bool) {
	m := NewMACD(fast, slow, signal)
	for _, p := range prices {
		m.Update(p)
	}
	line, lok := m.Line()
	sig, sok := m.Signal()
	hist, hok := m.Histogram()
	return line, sig, hist, lok && sok && hok
}

// Update2 feeds a derived (possibly negative or zero) series value into
// an EMA. The public Update rejects non-positive inputs because raw
// prices must be positive; MACD lines legitimately cross zero.
func (e *EMA) Update2(v float64) {
	if !finite(v) {
		return
	}
	if !e.ready {
		e.seed = append(e.seed, v)
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
	e.value = v*e.k + e.value*(1.0-e.k)
}
