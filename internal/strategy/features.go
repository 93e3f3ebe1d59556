package strategy

import (
	"math"

	"deriv_trading/internal/indicators"
	"deriv_trading/internal/models"
)

// Indicator periods. Thresholds live in config; the periods are part of
// the strategy's identity and changing them means retuning everything.
const (
	rsiPeriod     = 14
	emaFastPeriod = 9
	emaSlowPeriod = 21
	macdFastP     = 12
	macdSlowP     = 26
	macdSignalP   = 9
	stochKPeriod  = 14
	stochDPeriod  = 3
	atrPeriod     = 14
	adxPeriod     = 14
	hmaPeriod     = 16
	bollPeriod    = 20
	bollStdevs    = 2.0
	zscorePeriod  = 30
	rocLookback   = 10
	slopeLookback = 5
	trendLookback = 5
	rsiMomentumLb = 3
	atrHistKeep   = 50
)

// horizons are the forecast distances, in ticks.
var horizons = [3]int{1, 3, 5}

// features is a point-in-time snapshot of every extracted factor.
// ready is false until all core indicators have seeded.
type features struct {
	ready bool
	price float64

	rsi     float64
	rsiPrev float64 // rsiMomentumLb ticks back

	emaFast      float64
	emaSlow      float64
	emaFastSlope float64 // ATR-normalised per-tick slope

	macdLine   float64
	macdSignal float64
	macdHist   float64

	stochK float64
	stochD float64

	atr     float64
	adx     float64
	plusDI  float64
	minusDI float64

	hmaValue float64
	hmaDir   int // +1 rising, -1 falling, 0 flat

	bbPos      float64 // price position within bands, [0,1]
	bbWidthPct float64 // width percentile vs recent history

	zScore    float64
	roc       float64
	imbalance float64         // up-tick ratio over last 20
	velocity  map[int]float64 // per-horizon average tick velocity

	trend   int // net direction of the last trendLookback ticks
	volZone models.VolatilityZone
}

// featureSet owns the per-symbol indicator caches and tick window. Not
// safe for concurrent use; the owning Engine serializes access.
type featureSet struct {
	window int

	prices []float64

	rsi   *indicators.RSI
	emaF  *indicators.EMA
	emaS  *indicators.EMA
	macd  *indicators.MACD
	stoch *indicators.Stochastic
	atr   *indicators.ATR
	adx   *indicators.ADX
	hma   *indicators.HMA
	boll  *indicators.Bollinger
	z     *indicators.ZScore
	roc   *indicators.ROC

	rsiHist  []float64
	emaFHist []float64
	atrHist  []float64
}

func newFeatureSet(window int) *featureSet {
	return &featureSet{
		window: window,
		rsi:    indicators.NewRSI(rsiPeriod),
		emaF:   indicators.NewEMA(emaFastPeriod),
		emaS:   indicators.NewEMA(emaSlowPeriod),
		macd:   indicators.NewMACD(macdFastP, macdSlowP, macdSignalP),
		stoch:  indicators.NewStochastic(stochKPeriod, stochDPeriod),
		atr:    indicators.NewATR(atrPeriod),
		adx:    indicators.NewADX(adxPeriod),
		hma:    indicators.NewHMA(hmaPeriod),
		boll:   indicators.NewBollinger(bollPeriod, bollStdevs),
		z:      indicators.NewZScore(zscorePeriod),
		roc:    indicators.NewROC(rocLookback),
	}
}

func (fs *featureSet) addPrice(price float64) {
	if !indicators.ValidPrice(price) {
		return
	}

	fs.prices = append(fs.prices, price)
	if len(fs.prices) > fs.window {
		fs.prices = fs.prices[1:]
	}

	fs.rsi.Update(price)
	fs.emaF.Update(price)
	fs.emaS.Update(price)
	fs.macd.Update(price)
	fs.stoch.Update(price)
	fs.atr.Update(price)
	fs.adx.Update(price)
	fs.hma.Update(price)
	fs.boll.Update(price)
	fs.z.Update(price)
	fs.roc.Update(price)

	if v, ok := fs.rsi.Value(); ok {
		fs.rsiHist = appendBounded(fs.rsiHist, v, rsiMomentumLb+1)
	}
	if v, ok := fs.emaF.Value(); ok {
		fs.emaFHist = appendBounded(fs.emaFHist, v, slopeLookback+1)
	}
	if v, ok := fs.atr.Value(); ok {
		fs.atrHist = appendBounded(fs.atrHist, v, atrHistKeep)
	}
}

func appendBounded(s []float64, v float64, keep int) []float64 {
	s = append(s, v)
	if len(s) > keep {
		s = s[len(s)-keep:]
	}
	return s
}

func (fs *featureSet) size() int {
	return len(fs.prices)
}

func (fs *featureSet) reset() {
	fs.prices = nil
	fs.rsiHist = nil
	fs.emaFHist = nil
	fs.atrHist = nil
	fs.rsi.Reset()
	fs.emaF.Reset()
	fs.emaS.Reset()
	fs.macd.Reset()
	fs.stoch.Reset()
	fs.atr.Reset()
	fs.adx.Reset()
	fs.hma.Reset()
	fs.boll.Reset()
	fs.z.Reset()
	fs.roc.Reset()
}

// snapshot extracts the current factor values. ready is true only when
// every core indicator has enough data.
func (fs *featureSet) snapshot() features {
	f := features{velocity: make(map[int]float64, len(horizons)), volZone: models.VolNormal}
	if len(fs.prices) == 0 {
		return f
	}
	f.price = fs.prices[len(fs.prices)-1]

	var ok bool
	okAll := true

	if f.rsi, ok = fs.rsi.Value(); !ok {
		okAll = false
	}
	if f.emaFast, ok = fs.emaF.Value(); !ok {
		okAll = false
	}
	if f.emaSlow, ok = fs.emaS.Value(); !ok {
		okAll = false
	}
	if f.macdLine, ok = fs.macd.Line(); !ok {
		okAll = false
	}
	f.macdSignal, _ = fs.macd.Signal()
	f.macdHist, _ = fs.macd.Histogram()
	if f.stochK, f.stochD, ok = fs.stoch.Value(); !ok {
		okAll = false
	}
	if f.atr, ok = fs.atr.Value(); !ok {
		okAll = false
	}
	if f.adx, f.plusDI, f.minusDI, ok = fs.adx.Value(); !ok {
		okAll = false
	}
	if f.hmaValue, ok = fs.hma.Value(); !ok {
		okAll = false
	}
	f.hmaDir = fs.hma.Direction()
	if f.bbPos, ok = fs.boll.Position(f.price); !ok {
		okAll = false
	}
	f.bbWidthPct, _ = fs.boll.WidthPercentile()
	if f.zScore, ok = fs.z.Value(); !ok {
		okAll = false
	}
	f.roc, _ = fs.roc.Value()
	if f.imbalance, ok = fs.roc.Imbalance(20); !ok {
		okAll = false
	}
	for _, h := range horizons {
		if v, vok := fs.roc.Velocity(h); vok {
			f.velocity[h] = v
		}
	}

	f.rsiPrev = f.rsi
	if len(fs.rsiHist) > rsiMomentumLb {
		f.rsiPrev = fs.rsiHist[len(fs.rsiHist)-1-rsiMomentumLb]
	}

	f.emaFastSlope = fs.emaSlope()
	f.trend = fs.recentTrend()
	f.volZone = fs.volatilityZone(f.atr)

	f.ready = okAll
	return f
}

// emaSlope is the fast-EMA per-tick slope normalised by ATR so the
// prediction factor stays scale-free across symbols.
func (fs *featureSet) emaSlope() float64 {
	if len(fs.emaFHist) <= slopeLookback {
		return 0
	}
	first := fs.emaFHist[len(fs.emaFHist)-1-slopeLookback]
	last := fs.emaFHist[len(fs.emaFHist)-1]
	slope := (last - first) / float64(slopeLookback)

	atr := 0.0
	if len(fs.atrHist) > 0 {
		atr = fs.atrHist[len(fs.atrHist)-1]
	}
	if atr <= 0 {
		return 0
	}
	return clip(slope/atr, -1, 1)
}

// recentTrend nets the signs of the last trendLookback price moves.
func (fs *featureSet) recentTrend() int {
	n := len(fs.prices)
	if n <= trendLookback {
		return 0
	}
	var net float64
	for i := n - trendLookback; i < n; i++ {
		net += fs.prices[i] - fs.prices[i-1]
	}
	switch {
	case net > 0:
		return 1
	case net < 0:
		return -1
	default:
		return 0
	}
}

// volatilityZone buckets current ATR against its own recent average, so
// a symbol that always runs hot still reads NORMAL most of the time.
func (fs *featureSet) volatilityZone(atr float64) models.VolatilityZone {
	if len(fs.atrHist) < atrPeriod {
		return models.VolNormal
	}
	var sum float64
	for _, v := range fs.atrHist {
		sum += v
	}
	mean := sum / float64(len(fs.atrHist))
	if mean <= 0 {
		return models.VolExtremeLow
	}
	ratio := atr / mean
	switch {
	case ratio < 0.5:
		return models.VolExtremeLow
	case ratio < 0.8:
		return models.VolLow
	case ratio <= 1.5:
		return models.VolNormal
	case ratio <= 2.5:
		return models.VolHigh
	default:
		return models.VolExtremeHigh
	}
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
