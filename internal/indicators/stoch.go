package indicators

// Stochastic computes %K over a sliding window of tick prices and %D
// as a simple moving average of the last dPeriod %K values. Window
// scans are bounded by the period, so updates stay O(period).
type Stochastic struct {
	kPeriod int
	dPeriod int
	window  []float64
	kHist   []float64
}

func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	if kPeriod < 1 {
		kPeriod = 1
	}
	if dPeriod < 1 {
		dPeriod = 1
	}
	return &Stochastic{
		kPeriod: kPeriod,
		dPeriod: dPeriod,
		window:  make([]float64, 0, kPeriod),
		kHist:   make([]float64, 0, dPeriod),
	}
}

func (s *Stochastic) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	s.window = append(s.window, price)
	if len(s.window) > s.kPeriod {
		s.window = s.window[1:]
	}
	if len(s.window) < s.kPeriod {
		return
	}

	lo, hi := s.window[0], s.window[0]
	for _, p := range s.window {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	// Flat window: no range, hold at neutral.
	k := safeDiv(price-lo, hi-lo, 0.5) * 100

	s.kHist = append(s.kHist, k)
	if len(s.kHist) > s.dPeriod {
		s.kHist = s.kHist[1:]
	}
}

// Value returns %K and %D. Neutral 50/50 with ok=false until the
// window fills.
func (s *Stochastic) Value() (k, d float64, ok bool) {
	if len(s.kHist) < s.dPeriod {
		return NeutralStoch, NeutralStoch, false
	}
	k = s.kHist[len(s.kHist)-1]
	sum := 0.0
	for _, v := range s.kHist {
		sum += v
	}
	return k, sum / float64(len(s.kHist)), true
}

func (s *Stochastic) Reset() {
	s.window = s.window[:0]
	s.kHist = s.kHist[:0]
}

// StochFromSeries replays prices through a fresh Stochastic.
func StochFromSeries(prices []float64, kPeriod, dPeriod int) (k, d float64, ok bool) {
	s := NewStochastic(kPeriod, dPeriod)
	for _, p := range prices {
		s.Update(p)
	}
	return s.Value()
}
