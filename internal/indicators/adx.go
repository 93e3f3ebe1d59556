package indicators

// ADX is Wilder's average directional index adapted to tick data: an
// up move is +DM, a down move is -DM, and true range is |Δprice|.
// +DI/-DI and the DX smoothing follow the canonical formulas.
type ADX struct {
	period   int
	prev     float64
	havePrev bool

	seen      int
	trSeed    float64
	plusSeed  float64
	minusSeed float64

	smTR    float64
	smPlus  float64
	smMinus float64
	diReady bool

	dxSeen  int
	dxSeed  float64
	adx     float64
	adxOK   bool
}

func NewADX(period int) *ADX {
	if period < 1 {
		period = 1
	}
	return &ADX{period: period}
}

func (a *ADX) Update(price float64) {
	if !ValidPrice(price) {
		return
	}
	if !a.havePrev {
		a.prev = price
		a.havePrev = true
		return
	}

	move := price - a.prev
	a.prev = price

	tr := move
	if tr < 0 {
		tr = -tr
	}
	plusDM, minusDM := 0.0, 0.0
	if move > 0 {
		plusDM = move
	} else {
		minusDM = -move
	}

	n := float64(a.period)

	if !a.diReady {
		a.trSeed += tr
		a.plusSeed += plusDM
		a.minusSeed += minusDM
		a.seen++
		if a.seen == a.period {
			a.smTR = a.trSeed
			a.smPlus = a.plusSeed
			a.smMinus = a.minusSeed
			a.diReady = true
		}
		return
	}

	// Wilder smoothing of the running sums.
	a.smTR = a.smTR - a.smTR/n + tr
	a.smPlus = a.smPlus - a.smPlus/n + plusDM
	a.smMinus = a.smMinus - a.smMinus/n + minusDM

	dx := a.dx()
	if !a.adxOK {
		a.dxSeed += dx
		a.dxSeen++
		if a.dxSeen == a.period {
			a.adx = a.dxSeed / n
			a.adxOK = true
		}
		return
	}
	a.adx = (a.adx*(n-1) + dx) / n
}

func (a *ADX) dx() float64 {
	plus := a.plusDI()
	minus := a.minusDI()
	return safeDiv(abs(plus-minus), plus+minus, 0) * 100
}

func (a *ADX) plusDI() float64 {
	return safeDiv(a.smPlus, a.smTR, 0) * 100
}

func (a *ADX) minusDI() float64 {
	return safeDiv(a.smMinus, a.smTR, 0) * 100
}

// Value returns ADX, +DI and -DI. Before enough data has arrived it
// reports zeros with ok=false, which downstream code treats as "no
// directional information" (direction NEUTRAL).
func (a *ADX) Value() (adx, plusDI, minusDI float64, ok bool) {
	if !a.adxOK {
		return 0, 0, 0, false
	}
	return a.adx, a.plusDI(), a.minusDI(), true
}

func (a *ADX) Reset() {
	*a = ADX{period: a.period}
}

// ADXFromSeries replays prices through a fresh ADX.
func ADXFromSeries(prices []float64, period int) (adx, plusDI, minusDI float64, ok bool) {
	a := NewADX(period)
	for _, p := range prices {
		a.Update(p)
	}
	return a.Value()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
