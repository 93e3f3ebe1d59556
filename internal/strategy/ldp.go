package strategy

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"deriv_trading/internal/models"
)

const (
	ldpWindow    = 120 // digits tracked
	ldpMinTicks  = 60
	ldpSkewMin   = 0.30 // high/low digit share past uniform before acting
	ldpDriftLook = 10
)

// LDP is the last-digit-pressure strategy: on synthetic indices the
// trailing price digit is nominally uniform, so a persistent skew
// toward high or low digits paired with short-term drift in the same
// direction is tradable pressure.
type LDP struct {
	mu     sync.Mutex
	prices []float64
	digits []int
	counts [10]int
}

func NewLDP() *LDP {
	return &LDP{}
}

func (l *LDP) AddTick(price float64) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	d := lastDigit(price)
	l.digits = append(l.digits, d)
	l.counts[d]++
	if len(l.digits) > ldpWindow {
		l.counts[l.digits[0]]--
		l.digits = l.digits[1:]
	}

	l.prices = append(l.prices, price)
	if len(l.prices) > ldpDriftLook+1 {
		l.prices = l.prices[1:]
	}
}

func (l *LDP) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices = nil
	l.digits = nil
	l.counts = [10]int{}
}

func (l *LDP) Analyze() models.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.digits) < ldpMinTicks {
		return models.Signal{Direction: models.DirectionWait, Reason: "digit window warming up", Timestamp: now}
	}

	total := float64(len(l.digits))
	var high, low float64 // digits 5-9 vs 0-4
	for d, n := range l.counts {
		if d >= 5 {
			high += float64(n)
		} else {
			low += float64(n)
		}
	}
	highShare := high / total
	skew := highShare - 0.5

	drift := l.prices[len(l.prices)-1] - l.prices[0]

	var dir models.Direction
	switch {
	case skew >= ldpSkewMin/2 && drift > 0:
		dir = models.DirectionCall
	case skew <= -ldpSkewMin/2 && drift < 0:
		dir = models.DirectionPut
	default:
		return models.Signal{
			Direction: models.DirectionWait,
			Reason:    fmt.Sprintf("digit skew %.2f without aligned drift", skew),
			Timestamp: now,
		}
	}

	conf := clip(math.Abs(skew)/ldpSkewMin, 0, 1) * 0.8
	return models.Signal{
		Direction:  dir,
		Confidence: conf,
		Reason:     fmt.Sprintf("digit pressure: high-digit share %.2f, drift %+.4f", highShare, drift),
		Timestamp:  now,
	}
}

// lastDigit extracts the trailing digit of the quote as printed with
// two decimals, matching how the exchange displays it.
func lastDigit(price float64) int {
	s := strconv.FormatFloat(price, 'f', 2, 64)
	return int(s[len(s)-1] - '0')
}
