package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"deriv_trading/internal/bus"
	"deriv_trading/internal/config"
	"deriv_trading/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// fakeExchange is a scripted Deriv endpoint. It answers the handshake
// frames and lets a test inject stream frames by hand.
type fakeExchange struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []map[string]any

	rejectToken string // authorize with this token gets InvalidToken
}

func newFakeExchange(t *testing.T) *fakeExchange {
	f := &fakeExchange{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeExchange) close() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	f.server.Close()
}

func (f *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, req)
		f.mu.Unlock()
		f.respond(conn, req)
	}
}

func (f *fakeExchange) respond(conn *websocket.Conn, req map[string]any) {
	reqID, _ := req["req_id"].(float64)

	switch {
	case req["authorize"] != nil:
		token, _ := req["authorize"].(string)
		if f.rejectToken != "" && token == f.rejectToken {
			f.write(conn, map[string]any{
				"msg_type": "authorize",
				"req_id":   reqID,
				"error":    map[string]any{"code": "InvalidToken", "message": "The token is invalid."},
			})
			return
		}
		f.write(conn, map[string]any{
			"msg_type":  "authorize",
			"req_id":    reqID,
			"authorize": map[string]any{"loginid": "VRTC1001", "balance": 10000.0, "currency": "USD", "is_virtual": 1},
		})
	case req["balance"] != nil:
		f.write(conn, map[string]any{
			"msg_type": "balance",
			"req_id":   reqID,
			"balance":  map[string]any{"balance": 10000.0, "currency": "USD", "loginid": "VRTC1001"},
		})
	case req["ping"] != nil:
		f.write(conn, map[string]any{"msg_type": "ping", "req_id": reqID, "ping": "pong"})
	case req["ticks"] != nil:
		symbol, _ := req["ticks"].(string)
		f.write(conn, map[string]any{
			"msg_type":     "tick",
			"req_id":       reqID,
			"tick":         map[string]any{"symbol": symbol, "quote": 1234.5, "epoch": time.Now().Unix()},
			"subscription": map[string]any{"id": "sub-" + symbol},
		})
	case req["ticks_history"] != nil:
		f.write(conn, map[string]any{
			"msg_type": "history",
			"req_id":   reqID,
			"history": map[string]any{
				"prices": []float64{100.1, 100.2, 100.3},
				"times":  []int64{1700000001, 1700000002, 1700000003},
			},
		})
	case req["buy"] != nil:
		f.write(conn, map[string]any{
			"msg_type": "buy",
			"req_id":   reqID,
			"buy":      map[string]any{"contract_id": 555, "transaction_id": 777, "buy_price": 1.0, "longcode": "Win payout if..."},
		})
	case req["forget"] != nil, req["forget_all"] != nil:
		f.write(conn, map[string]any{"msg_type": "forget", "req_id": reqID, "forget": 1})
	case req["proposal_open_contract"] != nil:
		contractID, _ := req["contract_id"].(float64)
		f.write(conn, map[string]any{
			"msg_type": "proposal_open_contract",
			"req_id":   reqID,
			"proposal_open_contract": map[string]any{
				"contract_id": int64(contractID), "is_sold": 0, "status": "open", "buy_price": 1.0,
			},
		})
	}
}

func (f *fakeExchange) write(conn *websocket.Conn, frame map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		f.t.Logf("fake exchange write: %v", err)
	}
}

// inject pushes an unsolicited stream frame to the client.
func (f *fakeExchange) inject(frame map[string]any) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		f.t.Fatal("no connection to inject into")
	}
	f.write(conn, frame)
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		AppID:                "1089",
		APIToken:             "good-token",
		Endpoint:             endpoint,
		Currency:             "USD",
		AccountType:          "demo",
		AuthTimeoutSec:       5,
		HistoryTimeoutSec:    5,
		BuyTimeoutSec:        5,
		PingIntervalSec:      600, // keep the health loop quiet
		PingJitterSec:        1,
		PingGraceSec:         2,
		PingMissLimit:        3,
		ReconnectBaseSec:     1,
		ReconnectCapSec:      2,
		ReconnectMaxAttempts: 2,
		PendingReapSec:       600,
		PendingWarnDepth:     50,
		SendRatePerSec:       100,
	}
}

func newTestClient(t *testing.T, f *fakeExchange) (*Client, *bus.Bus) {
	b := bus.New()
	c := NewClient(testConfig(f.url()), b)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c, b
}

func TestConnectAuthorizes(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()

	c, _ := newTestClient(t, f)
	if !c.IsReady() {
		t.Fatalf("Expected READY state, got %s", c.State())
	}
}

func TestAuthorizeFallsBackToDemoToken(t *testing.T) {
	f := newFakeExchange(t)
	f.rejectToken = "bad-token"
	defer f.close()

	cfg := testConfig(f.url())
	cfg.APIToken = "bad-token"
	cfg.DemoToken = "demo-token"
	cfg.AccountType = "real"

	c := NewClient(cfg, bus.New())
	if err := c.Connect(); err != nil {
		t.Fatalf("Expected demo fallback to succeed, got %v", err)
	}
	defer c.Disconnect()

	if cfg.AccountType != "demo" {
		t.Errorf("Expected account type demoted to demo, got %s", cfg.AccountType)
	}
}

func TestAuthorizeInvalidTokenNoFallback(t *testing.T) {
	f := newFakeExchange(t)
	f.rejectToken = "bad-token"
	defer f.close()

	cfg := testConfig(f.url())
	cfg.APIToken = "bad-token"

	c := NewClient(cfg, bus.New())
	err := c.Connect()
	if err == nil {
		c.Disconnect()
		t.Fatal("Expected authorize to fail")
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("Expected invalid-token error, got %v", err)
	}
}

func TestTicksHistory(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	ticks, err := c.TicksHistory("R_100", 3, 5*time.Second)
	if err != nil {
		t.Fatalf("TicksHistory failed: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("Expected 3 ticks, got %d", len(ticks))
	}
	if ticks[0].Price != 100.1 || ticks[0].Symbol != "R_100" {
		t.Errorf("Unexpected first tick: %+v", ticks[0])
	}
	if !ticks[2].Timestamp.Equal(time.Unix(1700000003, 0)) {
		t.Errorf("Unexpected last timestamp: %v", ticks[2].Timestamp)
	}
}

func TestSubscribeTicksDeliversToHandler(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	got := make(chan models.Tick, 4)
	if err := c.SubscribeTicks("R_50", func(tk models.Tick) { got <- tk }); err != nil {
		t.Fatalf("SubscribeTicks failed: %v", err)
	}

	f.inject(map[string]any{
		"msg_type": "tick",
		"tick":     map[string]any{"symbol": "R_50", "quote": 250.75, "epoch": time.Now().Unix()},
	})

	select {
	case tk := <-got:
		if tk.Price != 250.75 {
			t.Errorf("Expected price 250.75, got %v", tk.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Tick never reached handler")
	}
}

func TestInvalidPriceTickDropped(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	got := make(chan models.Tick, 4)
	if err := c.SubscribeTicks("R_25", func(tk models.Tick) { got <- tk }); err != nil {
		t.Fatalf("SubscribeTicks failed: %v", err)
	}
	// Drain the subscribe confirmation tick.
	select {
	case <-got:
	case <-time.After(2 * time.Second):
	}

	f.inject(map[string]any{
		"msg_type": "tick",
		"tick":     map[string]any{"symbol": "R_25", "quote": -1.0, "epoch": time.Now().Unix()},
	})
	f.inject(map[string]any{
		"msg_type": "tick",
		"tick":     map[string]any{"symbol": "R_25", "quote": 99.0, "epoch": time.Now().Unix()},
	})

	select {
	case tk := <-got:
		if tk.Price != 99.0 {
			t.Errorf("Invalid tick leaked through: %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Valid tick never arrived")
	}
}

func TestBuyContract(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	res, err := c.BuyContract(models.DirectionCall, decimal.NewFromFloat(1.00), "R_100", 5, "t")
	if err != nil {
		t.Fatalf("BuyContract failed: %v", err)
	}
	if res.ContractID != 555 {
		t.Errorf("Expected contract 555, got %d", res.ContractID)
	}

	// The order frame on the wire must carry basis=stake and the
	// requested contract type.
	f.mu.Lock()
	var buy map[string]any
	for _, req := range f.received {
		if req["buy"] != nil {
			buy = req
		}
	}
	f.mu.Unlock()
	if buy == nil {
		t.Fatal("Buy request never reached the exchange")
	}
	params := buy["parameters"].(map[string]any)
	if params["basis"] != "stake" || params["contract_type"] != "CALL" {
		t.Errorf("Malformed buy parameters: %+v", params)
	}
}

func TestSubscribeContractSettlement(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	updates := make(chan ContractUpdate, 4)
	if err := c.SubscribeContract(555, func(u ContractUpdate) { updates <- u }); err != nil {
		t.Fatalf("SubscribeContract failed: %v", err)
	}

	f.inject(map[string]any{
		"msg_type": "proposal_open_contract",
		"proposal_open_contract": map[string]any{
			"contract_id": 555, "is_sold": 1, "profit": 0.85, "status": "won",
			"buy_price": 1.0, "entry_tick": 100.0, "exit_tick": 100.2,
		},
	})

	for {
		select {
		case u := <-updates:
			if !u.IsSold {
				continue // the subscribe confirmation frame
			}
			if u.Status != "won" || !u.Profit.Equal(decimal.NewFromFloat(0.85)) {
				t.Errorf("Unexpected settlement: %+v", u)
			}
			// Settled contracts drop out of the handler table.
			c.subsMu.Lock()
			_, still := c.contractSubs[555]
			c.subsMu.Unlock()
			if still {
				t.Error("Settled contract handler not removed")
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("Settlement update never arrived")
		}
	}
}

func TestBalancePublishedToBus(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, b := newTestClient(t, f)

	sub := b.Subscribe(bus.ChannelBalance)
	defer sub.Close()

	bal, err := c.Balance()
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !bal.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Expected balance 10000, got %s", bal.Amount)
	}

	select {
	case ev := <-sub.Events():
		got := ev.Data.(models.Balance)
		if got.Currency != "USD" {
			t.Errorf("Unexpected balance event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Balance never published on the bus")
	}
}

func TestRequestTimeoutRemovesPending(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	reqID := c.nextReqID()
	// A frame type the fake never answers.
	_, err := c.sendRequest(map[string]any{"website_status": 1, "req_id": reqID}, reqID, 200*time.Millisecond)
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	c.pendingMu.Lock()
	_, still := c.pending[reqID]
	c.pendingMu.Unlock()
	if still {
		t.Error("Timed-out request left in the pending table")
	}
}

func TestUnsubscribeTicksForgetsStream(t *testing.T) {
	f := newFakeExchange(t)
	defer f.close()
	c, _ := newTestClient(t, f)

	if err := c.SubscribeTicks("R_75", func(models.Tick) {}); err != nil {
		t.Fatalf("SubscribeTicks failed: %v", err)
	}
	if err := c.UnsubscribeTicks("R_75"); err != nil {
		t.Fatalf("UnsubscribeTicks failed: %v", err)
	}

	c.subsMu.Lock()
	_, handler := c.tickHandlers["R_75"]
	_, subID := c.tickSubIDs["R_75"]
	c.subsMu.Unlock()
	if handler || subID {
		t.Error("Subscription tables not cleared after unsubscribe")
	}

	f.mu.Lock()
	var forgot bool
	for _, req := range f.received {
		if req["forget"] == "sub-R_75" {
			forgot = true
		}
	}
	f.mu.Unlock()
	if !forgot {
		t.Error("forget frame never sent for the tick subscription")
	}
}
