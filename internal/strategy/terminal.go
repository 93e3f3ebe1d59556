package strategy

import (
	"fmt"
	"sync"
	"time"

	"deriv_trading/internal/indicators"
	"deriv_trading/internal/models"
)

const (
	terminalFast = 5
	terminalSlow = 13
)

// Terminal is the quick-fire crossover strategy: a fresh fast/slow EMA
// cross, filtered so RSI is not already at the exhaustion end of the
// move. It mirrors placing a snap trade off the terminal chart.
type Terminal struct {
	mu       sync.Mutex
	emaFast  *indicators.EMA
	emaSlow  *indicators.EMA
	rsi      *indicators.RSI
	lastDiff float64
	haveDiff bool
}

func NewTerminal() *Terminal {
	return &Terminal{
		emaFast: indicators.NewEMA(terminalFast),
		emaSlow: indicators.NewEMA(terminalSlow),
		rsi:     indicators.NewRSI(rsiPeriod),
	}
}

func (t *Terminal) AddTick(price float64) {
	if !indicators.ValidPrice(price) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emaFast.Update(price)
	t.emaSlow.Update(price)
	t.rsi.Update(price)
}

func (t *Terminal) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emaFast.Reset()
	t.emaSlow.Reset()
	t.rsi.Reset()
	t.lastDiff = 0
	t.haveDiff = false
}

func (t *Terminal) Analyze() models.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	fast, fok := t.emaFast.Value()
	slow, sok := t.emaSlow.Value()
	rsi, rok := t.rsi.Value()
	if !fok || !sok || !rok {
		return models.Signal{Direction: models.DirectionWait, Reason: "EMAs warming up", Timestamp: now}
	}

	diff := fast - slow
	prev, had := t.lastDiff, t.haveDiff
	t.lastDiff, t.haveDiff = diff, true
	if !had {
		return models.Signal{Direction: models.DirectionWait, Reason: "no prior cross state", Timestamp: now}
	}

	crossedUp := prev <= 0 && diff > 0
	crossedDown := prev >= 0 && diff < 0
	switch {
	case crossedUp && rsi < rsiOverbought:
		return models.Signal{
			Direction:  models.DirectionCall,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("fast EMA crossed above slow (RSI %.1f)", rsi),
			Timestamp:  now,
		}
	case crossedDown && rsi > rsiOversold:
		return models.Signal{
			Direction:  models.DirectionPut,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("fast EMA crossed below slow (RSI %.1f)", rsi),
			Timestamp:  now,
		}
	}
	return models.Signal{Direction: models.DirectionWait, Reason: "no fresh cross", Timestamp: now}
}
