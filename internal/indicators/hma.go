package indicators

import "math"

// HMA is the Hull moving average: WMA(2*WMA(n/2) - WMA(n), sqrt(n)).
// It keeps just enough raw history to recompute the final smoothing
// window, so an update costs O(period).
type HMA struct {
	period  int
	sqrtLen int
	prices  []float64
	diffs   []float64 // 2*WMA(n/2) - WMA(n) series tail
	value   float64
	prevVal float64
	haveTwo bool
	ready   bool
}

func NewHMA(period int) *HMA {
	if period < 2 {
		period = 2
	}
	return &HMA{
		period:  period,
		sqrtLen: int(math.Round(math.Sqrt(float64(period)))),
		prices:  make([]float64, 0, period+1),
	}
}

func (h *HMA) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	h.prices = append(h.prices, price)
	if len(h.prices) > h.period {
		h.prices = h.prices[1:]
	}
	if len(h.prices) < h.period {
		return
	}

	half := h.period / 2
	wmaHalf, ok1 := wma(h.prices[len(h.prices)-half:])
	wmaFull, ok2 := wma(h.prices)
	if !ok1 || !ok2 {
		return
	}

	h.diffs = append(h.diffs, 2*wmaHalf-wmaFull)
	if len(h.diffs) > h.sqrtLen {
		h.diffs = h.diffs[1:]
	}
	if len(h.diffs) < h.sqrtLen {
		return
	}

	v, ok := wma(h.diffs)
	if !ok {
		return
	}
	if h.ready {
		h.prevVal = h.value
		h.haveTwo = true
	}
	h.value = v
	h.ready = true
}

// Value returns the current Hull MA.
func (h *HMA) Value() (float64, bool) {
	return h.value, h.ready
}

// Slope is the change between the last two HMA values. Zero with
// ok=false until two values exist.
func (h *HMA) Slope() (float64, bool) {
	if !h.haveTwo {
		return 0, false
	}
	return h.value - h.prevVal, true
}

// Direction returns +1 rising, -1 falling, 0 unknown/flat.
func (h *HMA) Direction() int {
	slope, ok := h.Slope()
	if !ok || slope == 0 {
		return 0
	}
	if slope > 0 {
		return 1
	}
	return -1
}

func (h *HMA) Reset() {
	h.prices = h.prices[:0]
	h.diffs = h.diffs[:0]
	h.value, h.prevVal = 0, 0
	h.ready, h.haveTwo = false, false
}

// wma is a linearly weighted moving average over the whole slice,
// newest element weighted heaviest.
func wma(vals []float64) (float64, bool) {
	n := len(vals)
	if n == 0 {
		return 0, false
	}
	num, den := 0.0, 0.0
	for i, v := range vals {
		w := float64(i + 1)
		num += v * w
		den += w
	}
	return safeDiv(num, den, 0), true
}
