package indicators

// ROC is the percentage rate of change over a lookback, with a
// multi-period velocity helper and an up-tick imbalance counter.
// All three share the same bounded price window.
type ROC struct {
	lookback int
	window   []float64
}

func NewROC(lookback int) *ROC {
	if lookback < 1 {
		lookback = 1
	}
	return &ROC{lookback: lookback, window: make([]float64, 0, lookback+1)}
}

func (r *ROC) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	r.window = append(r.window, price)
	if len(r.window) > r.lookback+1 {
		r.window = r.window[1:]
	}
}

// Value returns the percent change across the full lookback.
func (r *ROC) Value() (float64, bool) {
	if len(r.window) < r.lookback+1 {
		return 0, false
	}
	oldest := r.window[0]
	latest := r.window[len(r.window)-1]
	return safeDiv(latest-oldest, oldest, 0) * 100, true
}

// Velocity returns the mean per-tick change over the last n steps,
// clamped to the available window.
func (r *ROC) Velocity(n int) (float64, bool) {
	if len(r.window) < 2 {
		return 0, false
	}
	if n > len(r.window)-1 {
		n = len(r.window) - 1
	}
	tail := r.window[len(r.window)-1-n:]
	return (tail[len(tail)-1] - tail[0]) / float64(n), true
}

// Imbalance is the fraction of up-ticks over the last n changes,
// in [0,1]. 0.5 with ok=false when the window is too short.
func (r *ROC) Imbalance(n int) (float64, bool) {
	if len(r.window) < 2 {
		return 0.5, false
	}
	if n > len(r.window)-1 {
		n = len(r.window) - 1
	}
	tail := r.window[len(r.window)-1-n:]
	ups := 0
	for i := 1; i < len(tail); i++ {
		if tail[i] > tail[i-1] {
			ups++
		}
	}
	return float64(ups) / float64(n), true
}

func (r *ROC) Reset() {
	r.window = r.window[:0]
}
