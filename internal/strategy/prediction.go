package strategy

import (
	"deriv_trading/internal/config"
	"deriv_trading/internal/models"
)

// horizonVote is one horizon's independent forecast.
type horizonVote struct {
	horizon    int
	direction  models.PredictionDirection
	confidence float64
}

// prediction is the voted multi-horizon outcome.
type prediction struct {
	direction  models.PredictionDirection
	confidence float64
	votes      [3]horizonVote
}

// factorContribution maps a factor to a directional pull in [-1, 1]:
// positive favours UP, negative favours DOWN.
func factorContribution(factor string, f features, horizon int) float64 {
	switch factor {
	case factorMomentum:
		v := f.velocity[horizon]
		atr := f.atr
		if atr <= 0 {
			return 0
		}
		return clip(v/atr+f.roc*10, -1, 1)
	case factorEMASlope:
		return f.emaFastSlope
	case factorSequence:
		return float64(f.trend)
	case factorZScore:
		// Stretched price reverts toward the mean.
		return clip(-f.zScore/2, -1, 1)
	case factorHMA:
		return float64(f.hmaDir)
	case factorImbalance:
		return clip(2*f.imbalance-1, -1, 1)
	case factorMACD:
		if f.atr <= 0 {
			return 0
		}
		return clip(f.macdHist/f.atr, -1, 1)
	case factorStoch:
		// %K extremes pull back toward the middle.
		return clip((50-f.stochK)/50, -1, 1)
	default:
		return 0
	}
}

// predictHorizon scores UP vs DOWN for one horizon from the weighted
// factor contributions. The winning side must clear the score floor and
// beat the opposite.
func predictHorizon(f features, weights map[string]float64, horizon int, cfg *config.Config) horizonVote {
	var up, down float64
	for factor, w := range weights {
		c := factorContribution(factor, f, horizon)
		if c > 0 {
			up += w * c
		} else {
			down += w * -c
		}
	}

	vote := horizonVote{horizon: horizon, direction: models.PredictNeutral}
	switch {
	case up > cfg.PredictionScoreMin && up > down:
		vote.direction = models.PredictUp
		vote.confidence = clip(up, 0, 1)
	case down > cfg.PredictionScoreMin && down > up:
		vote.direction = models.PredictDown
		vote.confidence = clip(down, 0, 1)
	}
	return vote
}

// predict votes the three horizons: unanimity earns the agreement
// boost, a 2-of-3 majority passes at base confidence, anything else is
// NEUTRAL at the floor.
func predict(f features, weights map[string]float64, cfg *config.Config) prediction {
	p := prediction{direction: models.PredictNeutral, confidence: cfg.NeutralConfidenceFloor}

	counts := make(map[models.PredictionDirection]int, 3)
	for i, h := range horizons {
		p.votes[i] = predictHorizon(f, weights, h, cfg)
		counts[p.votes[i].direction]++
	}

	for _, dir := range []models.PredictionDirection{models.PredictUp, models.PredictDown} {
		n := counts[dir]
		if n < 2 {
			continue
		}
		var sum float64
		for _, v := range p.votes {
			if v.direction == dir {
				sum += v.confidence
			}
		}
		p.direction = dir
		p.confidence = clip(sum/float64(n), 0, 1)
		if n == 3 {
			p.confidence = clip(p.confidence*(1+cfg.HorizonAgreementBoost), 0, 1)
		}
		return p
	}
	return p
}

// agrees reports whether the prediction permits trading the given side.
// NEUTRAL does not conflict; the confidence gate handles it separately.
func (p prediction) agrees(dir models.Direction) bool {
	switch dir {
	case models.DirectionCall:
		return p.direction != models.PredictDown
	case models.DirectionPut:
		return p.direction != models.PredictUp
	default:
		return true
	}
}
