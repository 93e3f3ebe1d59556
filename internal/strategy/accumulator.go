package strategy

import (
	"fmt"
	"sync"
	"time"

	"deriv_trading/internal/indicators"
	"deriv_trading/internal/models"
)

const (
	accumWindow      = 60
	accumMinTicks    = 40
	accumCompression = 0.6 // channel width vs ATR-implied width
)

// Accumulator hunts compression: when the recent high/low channel is
// tight relative to what the symbol's volatility implies, price tends
// to crawl along the slow drift, which is the condition accumulator
// style contracts pay for.
type Accumulator struct {
	mu     sync.Mutex
	prices []float64
	atr    *indicators.ATR
	emaS   *indicators.EMA
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		atr:  indicators.NewATR(atrPeriod),
		emaS: indicators.NewEMA(emaSlowPeriod),
	}
}

func (a *Accumulator) AddTick(price float64) {
	if !indicators.ValidPrice(price) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices = append(a.prices, price)
	if len(a.prices) > accumWindow {
		a.prices = a.prices[1:]
	}
	a.atr.Update(price)
	a.emaS.Update(price)
}

func (a *Accumulator) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices = nil
	a.atr.Reset()
	a.emaS.Reset()
}

func (a *Accumulator) Analyze() models.Signal {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	atr, atrOK := a.atr.Value()
	ema, emaOK := a.emaS.Value()
	if len(a.prices) < accumMinTicks || !atrOK || !emaOK || atr <= 0 {
		return models.Signal{Direction: models.DirectionWait, Reason: "channel warming up", Timestamp: now}
	}

	lo, hi := a.prices[0], a.prices[0]
	for _, p := range a.prices {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	width := hi - lo
	implied := atr * float64(len(a.prices)) / float64(atrPeriod)
	if implied <= 0 {
		return models.Signal{Direction: models.DirectionWait, Reason: "no volatility baseline", Timestamp: now}
	}

	compression := width / implied
	if compression > accumCompression {
		return models.Signal{
			Direction: models.DirectionWait,
			Reason:    fmt.Sprintf("channel too wide (%.2f of implied)", compression),
			Timestamp: now,
		}
	}

	last := a.prices[len(a.prices)-1]
	var dir models.Direction
	if last > ema {
		dir = models.DirectionCall
	} else if last < ema {
		dir = models.DirectionPut
	} else {
		return models.Signal{Direction: models.DirectionWait, Reason: "no drift inside channel", Timestamp: now}
	}

	conf := clip(1-compression, 0, 1) * 0.75
	return models.Signal{
		Direction:  dir,
		Confidence: conf,
		Reason:     fmt.Sprintf("compressed channel %.2f of implied width, drifting with EMA", compression),
		TPDistance: atr * tpATRMult,
		SLDistance: atr * slATRMult,
		Timestamp:  now,
	}
}
