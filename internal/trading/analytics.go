package trading

import (
	"sync"
	"time"

	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

const rollingWindow = 20

// RecoveryEvent records a martingale sequence closed by a win.
type RecoveryEvent struct {
	Level  int             `json:"level"`
	Amount decimal.Decimal `json:"amount"` // cumulative loss recovered
	At     time.Time       `json:"at"`
}

type bucketPerf struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// AnalyticsSnapshot is a copy of the session analytics for reporting.
type AnalyticsSnapshot struct {
	HourlyProfit   map[int]decimal.Decimal `json:"hourly_profit"`
	RSIPerformance map[string]bucketPerf   `json:"rsi_performance"`
	Recoveries     []RecoveryEvent         `json:"recoveries"`
	RollingWinRate float64                 `json:"rolling_win_rate"`
}

// Analytics accumulates settlement statistics beyond the raw session
// counters: hourly profit buckets, per-RSI-bucket performance, recovery
// events and a rolling win rate.
type Analytics struct {
	mu         sync.Mutex
	hourly     map[int]decimal.Decimal
	rsiPerf    map[string]*bucketPerf
	recoveries []RecoveryEvent
	recent     []bool
}

func NewAnalytics() *Analytics {
	return &Analytics{
		hourly:  make(map[int]decimal.Decimal),
		rsiPerf: make(map[string]*bucketPerf),
	}
}

// RecordSettlement folds one settled contract in. entryRSI is the RSI
// value at signal time, used for the per-bucket breakdown.
func (a *Analytics) RecordSettlement(c models.Contract, entryRSI float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hour := c.ClosedAt.UTC().Hour()
	a.hourly[hour] = a.hourly[hour].Add(c.Profit)

	key := rsiBucketKey(entryRSI)
	b := a.rsiPerf[key]
	if b == nil {
		b = &bucketPerf{}
		a.rsiPerf[key] = b
	}
	if c.IsWin {
		b.Wins++
	} else {
		b.Losses++
	}

	a.recent = append(a.recent, c.IsWin)
	if len(a.recent) > rollingWindow {
		a.recent = a.recent[1:]
	}
}

// RecordRecovery notes a martingale sequence recovered by a win.
func (a *Analytics) RecordRecovery(level int, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recoveries = append(a.recoveries, RecoveryEvent{Level: level, Amount: amount, At: time.Now()})
}

// RollingWinRate is the win share of the last rollingWindow trades.
func (a *Analytics) RollingWinRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.recent) == 0 {
		return 0
	}
	wins := 0
	for _, w := range a.recent {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(a.recent))
}

// Snapshot deep-copies the accumulated analytics.
func (a *Analytics) Snapshot() AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := AnalyticsSnapshot{
		HourlyProfit:   make(map[int]decimal.Decimal, len(a.hourly)),
		RSIPerformance: make(map[string]bucketPerf, len(a.rsiPerf)),
		Recoveries:     append([]RecoveryEvent(nil), a.recoveries...),
	}
	for h, p := range a.hourly {
		snap.HourlyProfit[h] = p
	}
	for k, b := range a.rsiPerf {
		snap.RSIPerformance[k] = *b
	}

	wins := 0
	for _, w := range a.recent {
		if w {
			wins++
		}
	}
	if len(a.recent) > 0 {
		snap.RollingWinRate = float64(wins) / float64(len(a.recent))
	}
	return snap
}

func rsiBucketKey(rsi float64) string {
	switch {
	case rsi < 20:
		return "<20"
	case rsi < 35:
		return "20-35"
	case rsi < 50:
		return "35-50"
	case rsi < 65:
		return "50-65"
	case rsi < 80:
		return "65-80"
	default:
		return ">80"
	}
}
