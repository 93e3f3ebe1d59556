package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a contract or signal.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
	DirectionWait Direction = "WAIT"
)

// PredictionDirection is the outcome of a multi-horizon forecast,
// distinct from the contract side because a forecast can be undecided.
type PredictionDirection string

const (
	PredictUp      PredictionDirection = "UP"
	PredictDown    PredictionDirection = "DOWN"
	PredictNeutral PredictionDirection = "NEUTRAL"
)

// Regime classifies the market state. It selects which factor-weight
// profile the prediction step uses.
type Regime string

const (
	RegimeTrending     Regime = "TRENDING"
	RegimeRanging      Regime = "RANGING"
	RegimeTransitional Regime = "TRANSITIONAL"
)

// VolatilityZone buckets current ATR-relative volatility.
type VolatilityZone string

const (
	VolExtremeLow  VolatilityZone = "EXTREME_LOW"
	VolLow         VolatilityZone = "LOW"
	VolNormal      VolatilityZone = "NORMAL"
	VolHigh        VolatilityZone = "HIGH"
	VolExtremeHigh VolatilityZone = "EXTREME_HIGH"
)

// Tick is a single price observation for a symbol.
// Ticks with a non-finite or non-positive price are dropped at the
// transport boundary and never reach a strategy.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Signal is the immutable output of one Analyze() call.
type Signal struct {
	Direction      Direction          `json:"direction"`
	Confidence     float64            `json:"confidence"` // [0,1]
	Reason         string             `json:"reason"`
	Indicators     map[string]float64 `json:"indicators,omitempty"`
	VolatilityZone VolatilityZone     `json:"volatility_zone"`
	ADX            float64            `json:"adx"`
	Regime         Regime             `json:"regime"`
	Confluence     float64            `json:"confluence"` // 0-100
	TPDistance     float64            `json:"tp_distance"`
	SLDistance     float64            `json:"sl_distance"`
	Timestamp      time.Time          `json:"timestamp"`
}

// IsActionable reports whether the signal proposes an actual trade.
func (s Signal) IsActionable() bool {
	return s.Direction == DirectionCall || s.Direction == DirectionPut
}

// ContractStatus tracks a contract through its lifecycle.
type ContractStatus string

const (
	ContractProposed ContractStatus = "PROPOSED"
	ContractOpen     ContractStatus = "OPEN"
	ContractSettled  ContractStatus = "SETTLED"
)

// Contract is a binary option placed at the exchange. ContractID is
// assigned by the exchange on acceptance; until then it is zero.
type Contract struct {
	ContractID      int64           `json:"contract_id"`
	TradeID         string          `json:"trade_id"` // internal UUID, stable across retries
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	Stake           decimal.Decimal `json:"stake"`
	Duration        int             `json:"duration"`
	DurationUnit    string          `json:"duration_unit"`
	EntryPrice      float64         `json:"entry_price"`
	ExitPrice       float64         `json:"exit_price"`
	Profit          decimal.Decimal `json:"profit"`
	IsWin           bool            `json:"is_win"`
	Status          ContractStatus  `json:"status"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        time.Time       `json:"closed_at"`
	MartingaleLevel int             `json:"martingale_level"`
}

// SessionStats are the aggregate counters for one trading session.
// Invariant: Wins + Losses == Total after every settlement.
type SessionStats struct {
	Total           int             `json:"total"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	PeakBalance     decimal.Decimal `json:"peak_balance"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
}

// WinRate returns wins/total, 0 for an empty session.
func (s SessionStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total)
}

// Balance is the account balance as reported by the exchange.
type Balance struct {
	Amount    decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	AccountID string          `json:"account_id"`
}

// Status describes the engine for dashboards.
type Status struct {
	IsTrading   bool   `json:"is_trading"`
	IsConnected bool   `json:"is_connected"`
	AccountType string `json:"account_type"` // "demo" or "real"
}
