package exchange

import (
	"encoding/json"
	"time"

	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

// envelope is the common shape of every inbound frame. msg_type
// discriminates; req_id (when present) correlates with a request.
type envelope struct {
	MsgType string    `json:"msg_type"`
	ReqID   int64     `json:"req_id,omitempty"`
	Error   *apiError `json:"error,omitempty"`

	Tick         *tickFrame      `json:"tick,omitempty"`
	History      *historyFrame   `json:"history,omitempty"`
	Balance      *balanceFrame   `json:"balance,omitempty"`
	Authorize    *authorizeFrame `json:"authorize,omitempty"`
	Buy          *buyFrame       `json:"buy,omitempty"`
	OpenContract *pocFrame       `json:"proposal_open_contract,omitempty"`
	Subscription *subscription   `json:"subscription,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) toExchangeError() *models.ExchangeError {
	return &models.ExchangeError{Code: e.Code, Message: e.Message}
}

type subscription struct {
	ID string `json:"id"`
}

type tickFrame struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
	ID     string  `json:"id"`
}

func (t *tickFrame) toTick() models.Tick {
	return models.Tick{
		Symbol:    t.Symbol,
		Price:     t.Quote,
		Timestamp: time.Unix(t.Epoch, 0),
	}
}

type historyFrame struct {
	Prices []float64 `json:"prices"`
	Times  []int64   `json:"times"`
}

func (h *historyFrame) toTicks(symbol string) []models.Tick {
	n := len(h.Prices)
	if len(h.Times) < n {
		n = len(h.Times)
	}
	ticks := make([]models.Tick, 0, n)
	for i := 0; i < n; i++ {
		ticks = append(ticks, models.Tick{
			Symbol:    symbol,
			Price:     h.Prices[i],
			Timestamp: time.Unix(h.Times[i], 0),
		})
	}
	return ticks
}

type balanceFrame struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	LoginID  string  `json:"loginid"`
}

func (b *balanceFrame) toBalance() models.Balance {
	return models.Balance{
		Amount:    decimal.NewFromFloat(b.Balance),
		Currency:  b.Currency,
		AccountID: b.LoginID,
	}
}

type authorizeFrame struct {
	LoginID   string  `json:"loginid"`
	Balance   float64 `json:"balance"`
	Currency  string  `json:"currency"`
	IsVirtual int     `json:"is_virtual"`
}

type buyFrame struct {
	ContractID    int64   `json:"contract_id"`
	TransactionID int64   `json:"transaction_id"`
	BuyPrice      float64 `json:"buy_price"`
	Longcode      string  `json:"longcode"`
}

type pocFrame struct {
	ContractID int64   `json:"contract_id"`
	IsSold     int     `json:"is_sold"`
	Profit     float64 `json:"profit"`
	BuyPrice   float64 `json:"buy_price"`
	EntryTick  float64 `json:"entry_tick"`
	ExitTick   float64 `json:"exit_tick"`
	Status     string  `json:"status"`
}

func (p *pocFrame) toUpdate() ContractUpdate {
	return ContractUpdate{
		ContractID: p.ContractID,
		IsSold:     p.IsSold == 1,
		Profit:     decimal.NewFromFloat(p.Profit),
		BuyPrice:   decimal.NewFromFloat(p.BuyPrice),
		EntrySpot:  p.EntryTick,
		ExitSpot:   p.ExitTick,
		Status:     p.Status,
	}
}

// --- outbound requests ---

func authorizeReq(token string, reqID int64) map[string]any {
	return map[string]any{"authorize": token, "req_id": reqID}
}

func balanceReq(reqID int64, subscribe bool) map[string]any {
	req := map[string]any{"balance": 1, "req_id": reqID}
	if subscribe {
		req["subscribe"] = 1
	}
	return req
}

func ticksSubscribeReq(symbol string, reqID int64) map[string]any {
	return map[string]any{"ticks": symbol, "subscribe": 1, "req_id": reqID}
}

func ticksHistoryReq(symbol string, count int, reqID int64) map[string]any {
	return map[string]any{
		"ticks_history": symbol,
		"count":         count,
		"end":           "latest",
		"style":         "ticks",
		"req_id":        reqID,
	}
}

func forgetReq(subscriptionID string, reqID int64) map[string]any {
	return map[string]any{"forget": subscriptionID, "req_id": reqID}
}

func forgetAllReq(streamType string, reqID int64) map[string]any {
	return map[string]any{"forget_all": streamType, "req_id": reqID}
}

func pingReq(reqID int64) map[string]any {
	return map[string]any{"ping": 1, "req_id": reqID}
}

func contractSubscribeReq(contractID, reqID int64) map[string]any {
	return map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
		"subscribe":              1,
		"req_id":                 reqID,
	}
}

func buyReq(direction models.Direction, stake decimal.Decimal, symbol string, duration int, unit, currency string, reqID int64) map[string]any {
	return map[string]any{
		"buy":    1,
		"price":  stake.InexactFloat64(),
		"req_id": reqID,
		"parameters": map[string]any{
			"amount":        stake.InexactFloat64(),
			"basis":         "stake",
			"contract_type": string(direction),
			"currency":      currency,
			"duration":      duration,
			"duration_unit": unit,
			"symbol":        symbol,
		},
	}
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
