// Package strategy turns a per-symbol tick stream into trade signals.
// The Engine runs a regime-adaptive, multi-factor synthesis: incremental
// indicators feed a feature snapshot, a weight profile chosen by the
// detected regime drives a multi-horizon prediction vote, and a scored
// candidate survives a chain of hard blocks and soft multipliers before
// it becomes an actionable Signal.
package strategy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"deriv_trading/internal/config"
	"deriv_trading/internal/metrics"
	"deriv_trading/internal/models"

	"github.com/patrickmn/go-cache"
)

// Strategy is the input contract every signal producer honours. The
// trade manager and scanner hold this interface, so the main Engine and
// the aux strategies are interchangeable.
type Strategy interface {
	AddTick(price float64)
	Analyze() models.Signal
	ClearHistory()
}

// Score weights for the BUY/SELL condition ladder. Exposed as one block
// so tuning never means hunting literals through the synthesis code.
var scoreWeights = struct {
	RSIExtreme    float64
	RSIEntryBand  float64
	EMAAlignment  float64
	PriceVsEMA    float64
	MACDHistogram float64
	StochExtreme  float64
	TickTrend     float64
	ADXAligned    float64
	RSIMomentumLo float64
	RSIMomentumHi float64
}{
	RSIExtreme:    0.35,
	RSIEntryBand:  0.05,
	EMAAlignment:  0.20,
	PriceVsEMA:    0.05,
	MACDHistogram: 0.15,
	StochExtreme:  0.10,
	TickTrend:     0.05,
	ADXAligned:    0.15,
	RSIMomentumLo: 0.05,
	RSIMomentumHi: 0.10,
}

// RSI entry levels. Exactly 30 is not oversold; 29.99... is.
const (
	rsiOversold    = 30.0
	rsiOverbought  = 70.0
	rsiBandLow     = 22.0
	rsiBandHigh    = 78.0
	rsiMomZoneBuy  = 35.0
	rsiMomZoneSell = 65.0
	rsiStrongMom   = 2.0
	stochLow       = 20.0
	stochHigh      = 80.0
	tpATRMult      = 2.5
	slATRMult      = 1.5
)

// Engine is the primary signal producer for one symbol.
type Engine struct {
	cfg    *config.Config
	symbol string

	mu        sync.Mutex
	feats     *featureSet
	tickCount int64

	// same-side signal cooldown, keyed by direction
	cooldown *cache.Cache
}

func NewEngine(symbol string, cfg *config.Config) *Engine {
	return &Engine{
		cfg:      cfg,
		symbol:   symbol,
		feats:    newFeatureSet(cfg.TickWindow),
		cooldown: cache.New(time.Duration(cfg.CooldownSeconds)*time.Second, time.Minute),
	}
}

func (e *Engine) Symbol() string { return e.symbol }

// AddTick folds one price into the indicator caches. O(1).
func (e *Engine) AddTick(price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feats.addPrice(price)
	e.tickCount++
}

// TickCount reports total ticks ingested since the last clear. The
// scanner uses it to schedule pruning.
func (e *Engine) TickCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickCount
}

// ClearHistory drops the tick window and every indicator cache. The
// next ticks reseed from scratch, so there is no stale-cache path.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feats.reset()
	e.tickCount = 0
	e.cooldown.Flush()
}

// Analyze runs the full synthesis over the current window. Ordinary
// data conditions never error; they come back as WAIT with a reason.
func (e *Engine) Analyze() models.Signal {
	e.mu.Lock()
	f := e.feats.snapshot()
	e.mu.Unlock()

	sig := e.synthesize(f)
	if sig.IsActionable() {
		e.cooldown.SetDefault(string(sig.Direction), time.Now())
		metrics.SignalsEmitted.WithLabelValues(string(sig.Direction)).Inc()
	}
	return sig
}

func (e *Engine) synthesize(f features) models.Signal {
	if !f.ready {
		return waitSignal(f, models.RegimeTransitional, "insufficient data")
	}

	regime, regimeConf := classifyRegime(f, e.cfg)
	weights := weightProfile(regime)
	pred := predict(f, weights, e.cfg)

	buyScore, buyReasons := scoreBuy(f, e.cfg)
	sellScore, sellReasons := scoreSell(f, e.cfg)

	var (
		dir     models.Direction
		score   float64
		reasons []string
	)
	switch {
	case buyScore >= e.cfg.MinConfidenceThreshold && buyScore > sellScore:
		dir, score, reasons = models.DirectionCall, buyScore, buyReasons
	case sellScore >= e.cfg.MinConfidenceThreshold && sellScore > buyScore:
		dir, score, reasons = models.DirectionPut, sellScore, sellReasons
	default:
		return waitSignal(f, regime, fmt.Sprintf("no candidate (buy %.2f, sell %.2f)", buyScore, sellScore))
	}

	// Hard blocks, cheapest first.
	if _, hot := e.cooldown.Get(string(dir)); hot {
		return waitSignal(f, regime, fmt.Sprintf("%s cooldown active", dir))
	}
	if !pred.agrees(dir) {
		return waitSignal(f, regime, fmt.Sprintf("prediction conflict: horizons vote %s against %s", pred.direction, dir))
	}
	if pred.confidence < e.cfg.PredictionMinConfidence {
		return waitSignal(f, regime, fmt.Sprintf("prediction confidence %.2f below %.2f", pred.confidence, e.cfg.PredictionMinConfidence))
	}
	if spread := diConflict(f, dir); spread >= e.cfg.ADXConflictBlock {
		return waitSignal(f, regime, fmt.Sprintf("DI conflict %.2f against %s", spread, dir))
	}
	confluence := confluenceScore(f, dir)
	if confluence < e.cfg.MinConfluenceScore {
		return waitSignal(f, regime, fmt.Sprintf("confluence %.0f below %.0f", confluence, e.cfg.MinConfluenceScore))
	}

	// Soft adjustments.
	confidence := score
	confidence *= volZoneMult(f.volZone)
	confidence *= adxMult(f.adx)
	confidence *= confluenceMult(confluence)
	confidence *= regimeMult(regime, dir, f, e.cfg)
	confidence = clip(confidence, 0, 1)

	reasons = append(reasons,
		fmt.Sprintf("regime %s (%.2f)", regime, regimeConf),
		fmt.Sprintf("prediction %s %.2f", pred.direction, pred.confidence),
		fmt.Sprintf("confluence %.0f", confluence),
		fmt.Sprintf("volatility %s", f.volZone),
	)

	return models.Signal{
		Direction:      dir,
		Confidence:     confidence,
		Reason:         strings.Join(reasons, "; "),
		Indicators:     indicatorSnapshot(f),
		VolatilityZone: f.volZone,
		ADX:            f.adx,
		Regime:         regime,
		Confluence:     confluence,
		TPDistance:     f.atr * tpATRMult,
		SLDistance:     f.atr * slATRMult,
		Timestamp:      time.Now(),
	}
}

func scoreBuy(f features, cfg *config.Config) (float64, []string) {
	var s float64
	var r []string

	if f.rsi < rsiOversold {
		s += scoreWeights.RSIExtreme
		r = append(r, fmt.Sprintf("RSI oversold %.2f", f.rsi))
		if f.rsi >= rsiBandLow {
			s += scoreWeights.RSIEntryBand
			r = append(r, "RSI in entry band")
		}
	}
	if f.emaFast > f.emaSlow {
		s += scoreWeights.EMAAlignment
		r = append(r, "EMA9 above EMA21")
		if f.price > f.emaFast {
			s += scoreWeights.PriceVsEMA
			r = append(r, "price above fast EMA")
		}
	}
	if f.macdHist > 0 {
		s += scoreWeights.MACDHistogram
		r = append(r, "MACD histogram positive")
	}
	if f.stochK < stochLow {
		s += scoreWeights.StochExtreme
		r = append(r, fmt.Sprintf("stochastic oversold %.1f", f.stochK))
	}
	if f.trend > 0 {
		s += scoreWeights.TickTrend
		r = append(r, "recent ticks rising")
	}
	if f.adx >= cfg.ADXTrendingMin && f.plusDI > f.minusDI {
		s += scoreWeights.ADXAligned
		r = append(r, fmt.Sprintf("ADX %.1f with +DI lead", f.adx))
	}
	if mom := f.rsi - f.rsiPrev; f.rsi < rsiMomZoneBuy && mom > 0 {
		if mom >= rsiStrongMom {
			s += scoreWeights.RSIMomentumHi
		} else {
			s += scoreWeights.RSIMomentumLo
		}
		r = append(r, "RSI turning up from oversold")
	}
	return s, r
}

func scoreSell(f features, cfg *config.Config) (float64, []string) {
	var s float64
	var r []string

	if f.rsi > rsiOverbought {
		s += scoreWeights.RSIExtreme
		r = append(r, fmt.Sprintf("RSI overbought %.2f", f.rsi))
		if f.rsi <= rsiBandHigh {
			s += scoreWeights.RSIEntryBand
			r = append(r, "RSI in entry band")
		}
	}
	if f.emaFast < f.emaSlow {
		s += scoreWeights.EMAAlignment
		r = append(r, "EMA9 below EMA21")
		if f.price < f.emaFast {
			s += scoreWeights.PriceVsEMA
			r = append(r, "price below fast EMA")
		}
	}
	if f.macdHist < 0 {
		s += scoreWeights.MACDHistogram
		r = append(r, "MACD histogram negative")
	}
	if f.stochK > stochHigh {
		s += scoreWeights.StochExtreme
		r = append(r, fmt.Sprintf("stochastic overbought %.1f", f.stochK))
	}
	if f.trend < 0 {
		s += scoreWeights.TickTrend
		r = append(r, "recent ticks falling")
	}
	if f.adx >= cfg.ADXTrendingMin && f.minusDI > f.plusDI {
		s += scoreWeights.ADXAligned
		r = append(r, fmt.Sprintf("ADX %.1f with -DI lead", f.adx))
	}
	if mom := f.rsiPrev - f.rsi; f.rsi > rsiMomZoneSell && mom > 0 {
		if mom >= rsiStrongMom {
			s += scoreWeights.RSIMomentumHi
		} else {
			s += scoreWeights.RSIMomentumLo
		}
		r = append(r, "RSI turning down from overbought")
	}
	return s, r
}

// diConflict returns the DI spread working against the candidate side,
// zero when the spread favours it.
func diConflict(f features, dir models.Direction) float64 {
	switch dir {
	case models.DirectionCall:
		return f.minusDI - f.plusDI
	case models.DirectionPut:
		return f.plusDI - f.minusDI
	default:
		return 0
	}
}

func volZoneMult(z models.VolatilityZone) float64 {
	switch z {
	case models.VolExtremeHigh:
		return 0.7
	case models.VolHigh:
		return 0.85
	case models.VolLow:
		return 0.7
	case models.VolExtremeLow:
		return 0.5
	default:
		return 1.0
	}
}

// adxMult scales 0.75 at ADX<=10 up to 1.0 at ADX>=40.
func adxMult(adx float64) float64 {
	return 0.75 + 0.25*clip((adx-10)/30, 0, 1)
}

func confluenceMult(score float64) float64 {
	switch {
	case score < 55:
		return 0.85
	case score <= 75:
		return 1.0
	default:
		return 1.15
	}
}

// regimeMult rewards trades aligned with the detected regime. Trend
// trades want DI on their side; range trades want a stretched entry.
func regimeMult(regime models.Regime, dir models.Direction, f features, cfg *config.Config) float64 {
	switch regime {
	case models.RegimeTrending:
		aligned := (dir == models.DirectionCall && f.plusDI > f.minusDI) ||
			(dir == models.DirectionPut && f.minusDI > f.plusDI)
		if aligned {
			return cfg.AlignedTrendMult
		}
		return cfg.CounterTrendMult
	case models.RegimeRanging:
		aligned := (dir == models.DirectionCall && (f.rsi < rsiOversold || f.bbPos < 0.2)) ||
			(dir == models.DirectionPut && (f.rsi > rsiOverbought || f.bbPos > 0.8))
		if aligned {
			return cfg.AlignedRangeMult
		}
		return cfg.MisalignedRangeMult
	default:
		return 1.0
	}
}

func waitSignal(f features, regime models.Regime, reason string) models.Signal {
	return models.Signal{
		Direction:      models.DirectionWait,
		Reason:         reason,
		VolatilityZone: f.volZone,
		ADX:            f.adx,
		Regime:         regime,
		Timestamp:      time.Now(),
	}
}

func indicatorSnapshot(f features) map[string]float64 {
	return map[string]float64{
		"rsi":         f.rsi,
		"ema_fast":    f.emaFast,
		"ema_slow":    f.emaSlow,
		"macd_hist":   f.macdHist,
		"stoch_k":     f.stochK,
		"stoch_d":     f.stochD,
		"atr":         f.atr,
		"adx":         f.adx,
		"plus_di":     f.plusDI,
		"minus_di":    f.minusDI,
		"bb_position": f.bbPos,
		"zscore":      f.zScore,
		"imbalance":   f.imbalance,
	}
}
