// Package exchange speaks the Deriv wire protocol: JSON frames over a
// persistent WebSocket, request/response correlation via req_id, and
// streaming subscriptions for ticks, balance and open contracts.
package exchange

import (
	"time"

	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

// TickHandler receives live ticks for one subscribed symbol. It is
// invoked from the transport's receive goroutine; handlers must be
// quick and must not block.
type TickHandler func(models.Tick)

// ContractHandler receives streamed status updates for one contract.
type ContractHandler func(ContractUpdate)

// ContractUpdate is one frame of a proposal_open_contract stream.
type ContractUpdate struct {
	ContractID int64
	IsSold     bool
	Profit     decimal.Decimal
	BuyPrice   decimal.Decimal
	EntrySpot  float64
	ExitSpot   float64
	Status     string // "open", "won", "lost"
}

// BuyResult is the exchange's acceptance of a buy order.
type BuyResult struct {
	ContractID    int64
	TransactionID int64
	BuyPrice      decimal.Decimal
	Longcode      string
}

// Provider is the engine-facing surface of the transport. The trade
// manager and scanner hold this interface, never the concrete client,
// so tests swap in mocks and neither side owns the other's lifetime.
type Provider interface {
	// Connect dials, authorizes and starts the background loops.
	Connect() error
	// Disconnect stops the loops and closes the connection.
	Disconnect() error
	// IsReady reports an authorized, healthy connection.
	IsReady() bool

	// Balance fetches a fresh account balance (request/response).
	Balance() (models.Balance, error)

	// SubscribeTicks registers interest in a symbol. Idempotent;
	// re-subscribing replaces the handler.
	SubscribeTicks(symbol string, h TickHandler) error
	UnsubscribeTicks(symbol string) error
	UnsubscribeAllTicks() error

	// TicksHistory blocks up to timeout for a bounded history slice.
	TicksHistory(symbol string, count int, timeout time.Duration) ([]models.Tick, error)

	// BuyContract sends the order and returns the exchange acceptance.
	BuyContract(direction models.Direction, stake decimal.Decimal, symbol string, duration int, durationUnit string) (*BuyResult, error)

	// SubscribeContract streams contract status until settlement.
	SubscribeContract(contractID int64, h ContractHandler) error
}

// ConnState is the transport lifecycle position.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthorizing
	StateReady
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAuthorizing:
		return "AUTHORIZING"
	case StateReady:
		return "READY"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}
