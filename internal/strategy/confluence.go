package strategy

import (
	"deriv_trading/internal/models"
)

// confluenceScore aggregates six independent sub-checks into a 0-100
// agreement score for the candidate direction. Each sub-check
// contributes equally.
func confluenceScore(f features, dir models.Direction) float64 {
	up := dir == models.DirectionCall

	checks := [6]float64{
		confluenceADX(f),
		confluenceSlope(f, up),
		confluenceVolumeProxy(f, up),
		confluencePriceAction(f, up),
		confluenceMultiTimeframe(f, up),
		confluenceRSIMomentum(f, up),
	}

	var sum float64
	for _, c := range checks {
		sum += c
	}
	return sum / float64(len(checks))
}

// Raw trend strength, direction-agnostic.
func confluenceADX(f features) float64 {
	switch {
	case f.adx >= 25:
		return 100
	case f.adx >= 18:
		return 70
	case f.adx >= 12:
		return 40
	default:
		return 20
	}
}

func confluenceSlope(f features, up bool) float64 {
	if f.emaFastSlope == 0 {
		return 50
	}
	if (f.emaFastSlope > 0) == up {
		return 100
	}
	return 0
}

// Tick imbalance stands in for volume on synthetic indices.
func confluenceVolumeProxy(f features, up bool) float64 {
	aligned := f.imbalance
	if !up {
		aligned = 1 - f.imbalance
	}
	switch {
	case aligned >= 0.6:
		return 100
	case aligned >= 0.5:
		return 60
	default:
		return 20
	}
}

func confluencePriceAction(f features, up bool) float64 {
	if f.trend == 0 {
		return 50
	}
	if (f.trend > 0) == up {
		return 100
	}
	return 0
}

// EMA pair and HMA as a coarse second timeframe.
func confluenceMultiTimeframe(f features, up bool) float64 {
	agree := 0
	if (f.emaFast > f.emaSlow) == up {
		agree++
	}
	if f.hmaDir != 0 && (f.hmaDir > 0) == up {
		agree++
	}
	switch agree {
	case 2:
		return 100
	case 1:
		return 50
	default:
		return 0
	}
}

func confluenceRSIMomentum(f features, up bool) float64 {
	mom := f.rsi - f.rsiPrev
	if mom == 0 {
		return 50
	}
	if (mom > 0) == up {
		return 100
	}
	return 0
}
