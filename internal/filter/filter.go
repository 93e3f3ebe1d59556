// Package filter is the universal entry guard: a stateless scorer over
// any strategy's analysis result, plus rolling per-mode statistics. It
// sits between signal and order so every producer (main engine, aux
// strategies, scanner picks) passes the same bar.
package filter

import (
	"fmt"
	"sync"
	"time"

	"deriv_trading/internal/config"
	"deriv_trading/internal/models"
)

// Mode is the operator-selected risk posture.
type Mode string

const (
	ModeLowRisk         Mode = "LOW_RISK"
	ModeHighProbability Mode = "HIGH_PROBABILITY"
	ModeAggressive      Mode = "AGGRESSIVE"
	ModeSniper          Mode = "SNIPER"
)

type modeParams struct {
	minScore      float64
	minConfidence float64
	requireTrend  bool
}

var modeTable = map[Mode]modeParams{
	ModeLowRisk:         {minScore: 60, minConfidence: 0.70},
	ModeHighProbability: {minScore: 70, minConfidence: 0.80},
	ModeAggressive:      {minScore: 50, minConfidence: 0.60},
	ModeSniper:          {minScore: 75, minConfidence: 0.85, requireTrend: true},
}

// Component weights of the 0-100 entry score.
const (
	weightConfidence = 0.40
	weightVolatility = 0.25
	weightTrend      = 0.20
	weightSession    = 0.15
)

// Result is one evaluation outcome.
type Result struct {
	Score        float64
	Allowed      bool
	Reasons      []string
	BlockReasons []string
}

// ModeStats is a snapshot of rolling per-mode counters.
type ModeStats struct {
	Evaluated    int
	Allowed      int
	AverageScore float64
	Blocks       map[string]int
}

func (m ModeStats) AllowRate() float64 {
	if m.Evaluated == 0 {
		return 0
	}
	return float64(m.Allowed) / float64(m.Evaluated)
}

type modeCounters struct {
	evaluated int
	allowed   int
	scoreSum  float64
	blocks    map[string]int
}

// Filter scores signals against the configured risk mode.
type Filter struct {
	cfg *config.Config

	mu    sync.Mutex
	stats map[Mode]*modeCounters
	now   func() time.Time // injectable for session-time tests
}

func New(cfg *config.Config) *Filter {
	return &Filter{
		cfg:   cfg,
		stats: make(map[Mode]*modeCounters),
		now:   time.Now,
	}
}

// Evaluate scores a signal under the configured mode.
func (f *Filter) Evaluate(sig models.Signal) Result {
	return f.EvaluateMode(sig, Mode(f.cfg.RiskMode))
}

// EvaluateMode scores a signal under an explicit mode. Unknown modes
// fall back to LOW_RISK.
func (f *Filter) EvaluateMode(sig models.Signal, mode Mode) Result {
	params, ok := modeTable[mode]
	if !ok {
		mode, params = ModeLowRisk, modeTable[ModeLowRisk]
	}

	res := Result{}

	if !sig.IsActionable() {
		res.BlockReasons = append(res.BlockReasons, "no actionable signal")
		f.record(mode, res)
		return res
	}

	confScore := sig.Confidence * 100
	volScore := volatilityScore(sig.VolatilityZone)
	trendScore := sig.Confluence
	sessScore := sessionScore(f.now().UTC())

	res.Score = confScore*weightConfidence +
		volScore*weightVolatility +
		trendScore*weightTrend +
		sessScore*weightSession

	res.Reasons = append(res.Reasons,
		fmt.Sprintf("confidence %.0f", confScore),
		fmt.Sprintf("volatility %.0f (%s)", volScore, sig.VolatilityZone),
		fmt.Sprintf("trend %.0f", trendScore),
		fmt.Sprintf("session %.0f", sessScore),
	)

	if sig.Confidence < params.minConfidence {
		res.BlockReasons = append(res.BlockReasons,
			fmt.Sprintf("confidence %.2f below %s minimum %.2f", sig.Confidence, mode, params.minConfidence))
	}
	if f.cfg.BlockExtremeVolatility && isExtreme(sig.VolatilityZone) {
		res.BlockReasons = append(res.BlockReasons, fmt.Sprintf("volatility %s", sig.VolatilityZone))
	}
	if params.requireTrend && sig.Regime != models.RegimeTrending {
		res.BlockReasons = append(res.BlockReasons, fmt.Sprintf("regime %s, trend alignment required", sig.Regime))
	}
	if res.Score < params.minScore {
		res.BlockReasons = append(res.BlockReasons,
			fmt.Sprintf("score %.0f below %s minimum %.0f", res.Score, mode, params.minScore))
	}

	res.Allowed = len(res.BlockReasons) == 0
	f.record(mode, res)
	return res
}

// Stats returns the rolling counters for one mode.
func (f *Filter) Stats(mode Mode) ModeStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.stats[mode]
	if c == nil {
		return ModeStats{Blocks: map[string]int{}}
	}
	out := ModeStats{
		Evaluated: c.evaluated,
		Allowed:   c.allowed,
		Blocks:    make(map[string]int, len(c.blocks)),
	}
	if c.evaluated > 0 {
		out.AverageScore = c.scoreSum / float64(c.evaluated)
	}
	for k, v := range c.blocks {
		out.Blocks[k] = v
	}
	return out
}

func (f *Filter) record(mode Mode, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.stats[mode]
	if c == nil {
		c = &modeCounters{blocks: make(map[string]int)}
		f.stats[mode] = c
	}
	c.evaluated++
	c.scoreSum += res.Score
	if res.Allowed {
		c.allowed++
	}
	for _, b := range res.BlockReasons {
		c.blocks[b]++
	}
}

func volatilityScore(z models.VolatilityZone) float64 {
	switch z {
	case models.VolNormal:
		return 100
	case models.VolHigh:
		return 70
	case models.VolLow:
		return 60
	case models.VolExtremeHigh:
		return 30
	default: // EXTREME_LOW and unknown
		return 20
	}
}

func isExtreme(z models.VolatilityZone) bool {
	return z == models.VolExtremeHigh || z == models.VolExtremeLow
}

// sessionScore favours the overlap of the major sessions. The synthetic
// indices run around the clock, so off hours are dampened, not blocked.
func sessionScore(t time.Time) float64 {
	h := t.Hour()
	switch {
	case h >= 7 && h < 17: // London through NY morning
		return 100
	case h >= 17 && h < 21:
		return 80
	default:
		return 60
	}
}
