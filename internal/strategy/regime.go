package strategy

import (
	"deriv_trading/internal/config"
	"deriv_trading/internal/models"
)

// Prediction factor keys. Each regime re-weights these; none is ever
// fully disabled (weightFloor).
const (
	factorMomentum  = "momentum"
	factorEMASlope  = "ema_slope"
	factorSequence  = "sequence"
	factorZScore    = "zscore"
	factorHMA       = "hma"
	factorImbalance = "imbalance"
	factorMACD      = "macd"
	factorStoch     = "stoch"
)

const weightFloor = 0.01

// Baseline and regime profiles. Tuned alongside the score weights in
// engine.go; keep them in one place.
var (
	baselineWeights = map[string]float64{
		factorMomentum:  0.175,
		factorEMASlope:  0.150,
		factorSequence:  0.100,
		factorZScore:    0.125,
		factorHMA:       0.125,
		factorImbalance: 0.100,
		factorMACD:      0.125,
		factorStoch:     0.100,
	}
	trendingWeights = map[string]float64{
		factorMomentum:  0.22,
		factorEMASlope:  0.20,
		factorSequence:  0.16,
		factorMACD:      0.14,
		factorHMA:       0.10,
		factorStoch:     0.08,
		factorZScore:    0.05,
		factorImbalance: 0.05,
	}
	rangingWeights = map[string]float64{
		factorZScore:    0.22,
		factorHMA:       0.18,
		factorImbalance: 0.18,
		factorStoch:     0.12,
		factorMACD:      0.10,
		factorMomentum:  0.08,
		factorEMASlope:  0.06,
		factorSequence:  0.06,
	}
)

// classifyRegime buckets the market and reports how decisively it sits
// in that bucket (0..1).
func classifyRegime(f features, cfg *config.Config) (models.Regime, float64) {
	diSpread := abs(f.plusDI - f.minusDI)

	if f.adx >= cfg.ADXTrendingMin && diSpread >= cfg.DISpreadTrendingMin {
		conf := clip((f.adx-cfg.ADXTrendingMin)/20+(diSpread-cfg.DISpreadTrendingMin)/20, 0, 1)
		return models.RegimeTrending, 0.5 + conf/2
	}

	if f.adx < cfg.ADXRangingMax {
		conf := clip((cfg.ADXRangingMax-f.adx)/cfg.ADXRangingMax, 0, 1)
		return models.RegimeRanging, 0.5 + conf/2
	}
	if f.bbWidthPct < cfg.BBWidthRangingPct && f.adx < cfg.ADXRangingSoftMax {
		return models.RegimeRanging, 0.5
	}

	return models.RegimeTransitional, 0.5
}

// weightProfile returns the normalised factor weights for a regime.
// Every factor keeps at least the floor so nothing goes fully blind.
func weightProfile(r models.Regime) map[string]float64 {
	var src map[string]float64
	switch r {
	case models.RegimeTrending:
		src = trendingWeights
	case models.RegimeRanging:
		src = rangingWeights
	default:
		src = baselineWeights
	}

	out := make(map[string]float64, len(src))
	var sum float64
	for k, w := range src {
		if w < weightFloor {
			w = weightFloor
		}
		out[k] = w
		sum += w
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
