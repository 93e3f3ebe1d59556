package indicators

import "gonum.org/v1/gonum/stat"

// Bollinger keeps a 20-tick window and a bounded history of band
// widths so the current width can be ranked as a percentile. Bands
// are mean ± 2σ (sample standard deviation via gonum).
type Bollinger struct {
	period    int
	stdevs    float64
	window    []float64
	widths    []float64
	widthKeep int
}

func NewBollinger(period int, stdevs float64) *Bollinger {
	if period < 2 {
		period = 2
	}
	if stdevs <= 0 {
		stdevs = 2
	}
	return &Bollinger{
		period:    period,
		stdevs:    stdevs,
		window:    make([]float64, 0, period),
		widthKeep: 100,
	}
}

func (b *Bollinger) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	b.window = append(b.window, price)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
	if len(b.window) < b.period {
		return
	}

	mean := stat.Mean(b.window, nil)
	sd := stat.StdDev(b.window, nil)
	width := safeDiv(2*b.stdevs*sd, mean, 0)

	b.widths = append(b.widths, width)
	if len(b.widths) > b.widthKeep {
		b.widths = b.widths[1:]
	}
}

// Bands returns upper, middle, lower.
func (b *Bollinger) Bands() (upper, middle, lower float64, ok bool) {
	if len(b.window) < b.period {
		return 0, 0, 0, false
	}
	middle = stat.Mean(b.window, nil)
	sd := stat.StdDev(b.window, nil)
	return middle + b.stdevs*sd, middle, middle - b.stdevs*sd, true
}

// Position places price inside the band: 0 at the lower band, 1 at the
// upper. A collapsed band reports the 0.5 midpoint.
func (b *Bollinger) Position(price float64) (float64, bool) {
	upper, _, lower, ok := b.Bands()
	if !ok || !ValidPrice(price) {
		return 0.5, false
	}
	return safeDiv(price-lower, upper-lower, 0.5), true
}

// WidthPercentile ranks the current band width against the retained
// width history, in [0,100]. 50 with ok=false while warming up.
func (b *Bollinger) WidthPercentile() (float64, bool) {
	if len(b.widths) < 2 {
		return 50, false
	}
	current := b.widths[len(b.widths)-1]
	below := 0
	for _, w := range b.widths {
		if w < current {
			below++
		}
	}
	return float64(below) / float64(len(b.widths)) * 100, true
}

func (b *Bollinger) Reset() {
	b.window = b.window[:0]
	b.widths = b.widths[:0]
}
