package exchange

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"deriv_trading/internal/bus"
	"deriv_trading/internal/config"
	"deriv_trading/internal/indicators"
	"deriv_trading/internal/metrics"
	"deriv_trading/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// staleRequestAge bounds how long an unanswered correlation record may
// sit in the pending table before the reaper discards it.
const staleRequestAge = 60 * time.Second

type pendingReq struct {
	ch        chan *envelope
	msgType   string
	createdAt time.Time
}

// Client is the concrete Deriv transport. One persistent duplex
// connection, a receive loop, a health loop and a reap loop; all
// shared tables sit behind short critical sections.
type Client struct {
	cfg *config.Config
	bus *bus.Bus

	state atomic.Int32

	connMu sync.Mutex // guards conn pointer and serializes writes
	conn   *websocket.Conn

	limiter *rate.Limiter
	reqID   atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingReq

	subsMu       sync.Mutex
	tickHandlers map[string]TickHandler
	tickSubIDs   map[string]string
	contractSubs map[int64]ContractHandler

	missedPings atomic.Int32
	reconnectIn atomic.Bool

	done   chan struct{}
	doneMu sync.Mutex
	closed bool
	wg     sync.WaitGroup

	activeToken string
}

// NewClient wires a transport against the given bus. Connect must be
// called before any other operation.
func NewClient(cfg *config.Config, b *bus.Bus) *Client {
	return &Client{
		cfg:          cfg,
		bus:          b,
		limiter:      rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), int(cfg.SendRatePerSec)+1),
		pending:      make(map[int64]*pendingReq),
		tickHandlers: make(map[string]TickHandler),
		tickSubIDs:   make(map[string]string),
		contractSubs: make(map[int64]ContractHandler),
		done:         make(chan struct{}),
		activeToken:  cfg.APIToken,
	}
}

func (c *Client) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old != s {
		log.Printf("Transport: %s -> %s", old, s)
		c.publishStatus()
	}
}

// State returns the current lifecycle position.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// IsReady reports an authorized, healthy connection.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

func (c *Client) publishStatus() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.ChannelStatus, "", models.Status{
		IsConnected: c.IsReady(),
		AccountType: c.cfg.AccountType,
	})
}

// Connect dials the exchange, authorizes, and starts the background
// loops. Safe to call once per client.
func (c *Client) Connect() error {
	c.setState(StateConnecting)
	if err := c.dial(); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial: %v", models.ErrTransport, err)
	}
	c.setState(StateConnected)

	if err := c.authorizeWithFallback(); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateReady)

	c.wg.Add(2)
	go c.healthLoop()
	go c.reapLoop()
	return nil
}

func (c *Client) endpointURL() string {
	return fmt.Sprintf("%s?app_id=%s", c.cfg.Endpoint, c.cfg.AppID)
}

func (c *Client) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.endpointURL(), nil)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop(conn)
	return nil
}

// authorizeWithFallback runs the authorize handshake. InvalidToken is
// fatal for that token; if a demo token is configured we fall back to
// it once. Transient failures are retried up to 3 times.
func (c *Client) authorizeWithFallback() error {
	c.setState(StateAuthorizing)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		err := c.authorize(c.activeToken)
		if err == nil {
			return nil
		}
		lastErr = err

		var exErr *models.ExchangeError
		if asExchangeError(err, &exErr) && exErr.IsAuthFailure() {
			if c.cfg.DemoToken != "" && c.activeToken != c.cfg.DemoToken {
				log.Printf("⚠️ Primary token rejected (%s), falling back to demo token", exErr.Code)
				c.activeToken = c.cfg.DemoToken
				c.cfg.AccountType = "demo"
				continue
			}
			return fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
		}

		log.Printf("Authorize attempt %d failed: %v", attempt+1, err)
		time.Sleep(time.Duration(2<<attempt) * time.Second)
	}
	return lastErr
}

func (c *Client) authorize(token string) error {
	reqID := c.nextReqID()
	env, err := c.sendRequest(authorizeReq(token, reqID), reqID, time.Duration(c.cfg.AuthTimeoutSec)*time.Second)
	if err != nil {
		return err
	}
	if env.Error != nil {
		return env.Error.toExchangeError()
	}
	if env.Authorize == nil {
		return fmt.Errorf("%w: empty authorize response", models.ErrTransport)
	}

	log.Printf("✅ Authorized as %s (%s)", env.Authorize.LoginID, env.Authorize.Currency)

	// Account balance updates stream from here on.
	subID := c.nextReqID()
	if _, err := c.sendRequest(balanceReq(subID, true), subID, time.Duration(c.cfg.AuthTimeoutSec)*time.Second); err != nil {
		log.Printf("Warning: balance subscription failed: %v", err)
	}
	return nil
}

// Disconnect stops all loops, closes the connection and clears the
// subscription tables. The client cannot be reused afterwards.
func (c *Client) Disconnect() error {
	c.doneMu.Lock()
	if c.closed {
		c.doneMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.doneMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.clearPending()
	c.subsMu.Lock()
	c.tickHandlers = make(map[string]TickHandler)
	c.tickSubIDs = make(map[string]string)
	c.contractSubs = make(map[int64]ContractHandler)
	c.subsMu.Unlock()

	c.setState(StateDisconnected)
	c.wg.Wait()
	return nil
}

func (c *Client) stopping() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) nextReqID() int64 {
	return c.reqID.Add(1)
}

// send serializes one frame through the rate limiter and write lock.
func (c *Client) send(payload map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", models.ErrTransport, err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", models.ErrTransport)
	}
	return c.conn.WriteJSON(payload)
}

// sendRequest registers a correlation record, sends, and blocks the
// caller up to timeout for the matching response.
func (c *Client) sendRequest(payload map[string]any, reqID int64, timeout time.Duration) (*envelope, error) {
	pr := &pendingReq{ch: make(chan *envelope, 1), createdAt: time.Now()}
	c.pendingMu.Lock()
	c.pending[reqID] = pr
	depth := len(c.pending)
	c.pendingMu.Unlock()

	if depth > c.cfg.PendingWarnDepth {
		log.Printf("⚠️ Pending request table depth %d exceeds %d", depth, c.cfg.PendingWarnDepth)
	}

	if err := c.send(payload); err != nil {
		c.removePending(reqID)
		return nil, err
	}

	select {
	case env := <-pr.ch:
		return env, nil
	case <-time.After(timeout):
		c.removePending(reqID)
		return nil, fmt.Errorf("%w: request %d timed out after %s", models.ErrTransport, reqID, timeout)
	case <-c.done:
		c.removePending(reqID)
		return nil, fmt.Errorf("%w: client shutting down", models.ErrTransport)
	}
}

func (c *Client) removePending(reqID int64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

func (c *Client) clearPending() {
	c.pendingMu.Lock()
	c.pending = make(map[int64]*pendingReq)
	c.pendingMu.Unlock()
}

// receiveLoop decodes frames from one connection until it dies.
func (c *Client) receiveLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.stopping() {
				return
			}
			log.Printf("Transport: read error: %v", err)
			go c.forceReconnect("read error")
			return
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			log.Printf("Transport: undecodable frame dropped: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch routes one inbound frame: correlated responses first, then
// the streaming message types.
func (c *Client) dispatch(env *envelope) {
	if env.ReqID != 0 {
		c.pendingMu.Lock()
		pr, ok := c.pending[env.ReqID]
		if ok {
			delete(c.pending, env.ReqID)
		}
		c.pendingMu.Unlock()
		if ok {
			pr.ch <- env
			// Contract streams also flow through the handler below;
			// tick/balance subscribe confirmations carry their first
			// data frame and fall through likewise.
		}
	}

	switch env.MsgType {
	case "tick":
		c.handleTick(env)
	case "balance":
		if env.Balance != nil && c.bus != nil {
			c.bus.Publish(bus.ChannelBalance, "", env.Balance.toBalance())
		}
	case "proposal_open_contract":
		c.handleContract(env)
	}
}

func (c *Client) handleTick(env *envelope) {
	if env.Tick == nil {
		return
	}
	if env.Subscription != nil {
		c.subsMu.Lock()
		c.tickSubIDs[env.Tick.Symbol] = env.Subscription.ID
		c.subsMu.Unlock()
	}

	tick := env.Tick.toTick()
	if !indicators.ValidPrice(tick.Price) {
		metrics.TicksDropped.Inc()
		return
	}
	metrics.TicksReceived.WithLabelValues(tick.Symbol).Inc()

	if c.bus != nil {
		c.bus.Publish(bus.ChannelTick, "", tick)
	}

	c.subsMu.Lock()
	h := c.tickHandlers[tick.Symbol]
	c.subsMu.Unlock()
	if h != nil {
		h(tick)
	}
}

func (c *Client) handleContract(env *envelope) {
	if env.OpenContract == nil {
		return
	}
	update := env.OpenContract.toUpdate()

	c.subsMu.Lock()
	h := c.contractSubs[update.ContractID]
	if update.IsSold {
		delete(c.contractSubs, update.ContractID)
	}
	c.subsMu.Unlock()

	if h != nil {
		h(update)
	}
}

// --- operations ---

// Balance fetches a fresh balance with a one-shot request.
func (c *Client) Balance() (models.Balance, error) {
	reqID := c.nextReqID()
	env, err := c.sendRequest(balanceReq(reqID, false), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second)
	if err != nil {
		return models.Balance{}, err
	}
	if env.Error != nil {
		return models.Balance{}, env.Error.toExchangeError()
	}
	if env.Balance == nil {
		return models.Balance{}, fmt.Errorf("%w: empty balance response", models.ErrTransport)
	}
	return env.Balance.toBalance(), nil
}

// SubscribeTicks registers the handler and opens the stream. Calling
// it again for the same symbol just swaps the handler.
func (c *Client) SubscribeTicks(symbol string, h TickHandler) error {
	c.subsMu.Lock()
	_, already := c.tickSubIDs[symbol]
	c.tickHandlers[symbol] = h
	c.subsMu.Unlock()
	if already {
		return nil
	}

	reqID := c.nextReqID()
	env, err := c.sendRequest(ticksSubscribeReq(symbol, reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second)
	if err != nil {
		return err
	}
	if env.Error != nil {
		return env.Error.toExchangeError()
	}
	return nil
}

func (c *Client) UnsubscribeTicks(symbol string) error {
	c.subsMu.Lock()
	subID, ok := c.tickSubIDs[symbol]
	delete(c.tickHandlers, symbol)
	delete(c.tickSubIDs, symbol)
	c.subsMu.Unlock()
	if !ok {
		return nil
	}

	reqID := c.nextReqID()
	_, err := c.sendRequest(forgetReq(subID, reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second)
	return err
}

func (c *Client) UnsubscribeAllTicks() error {
	c.subsMu.Lock()
	c.tickHandlers = make(map[string]TickHandler)
	c.tickSubIDs = make(map[string]string)
	c.subsMu.Unlock()

	reqID := c.nextReqID()
	_, err := c.sendRequest(forgetAllReq("ticks", reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second)
	return err
}

// TicksHistory blocks up to timeout for a bounded slice of history.
func (c *Client) TicksHistory(symbol string, count int, timeout time.Duration) ([]models.Tick, error) {
	reqID := c.nextReqID()
	env, err := c.sendRequest(ticksHistoryReq(symbol, count, reqID), reqID, timeout)
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, env.Error.toExchangeError()
	}
	if env.History == nil {
		return nil, fmt.Errorf("%w: empty history response", models.ErrTransport)
	}
	return env.History.toTicks(symbol), nil
}

// BuyContract sends the order. Contract streaming is a separate call
// so the manager can decide what to track.
func (c *Client) BuyContract(direction models.Direction, stake decimal.Decimal, symbol string, duration int, durationUnit string) (*BuyResult, error) {
	reqID := c.nextReqID()
	env, err := c.sendRequest(
		buyReq(direction, stake, symbol, duration, durationUnit, c.cfg.Currency, reqID),
		reqID,
		time.Duration(c.cfg.BuyTimeoutSec)*time.Second,
	)
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, env.Error.toExchangeError()
	}
	if env.Buy == nil {
		return nil, fmt.Errorf("%w: empty buy response", models.ErrTransport)
	}
	return &BuyResult{
		ContractID:    env.Buy.ContractID,
		TransactionID: env.Buy.TransactionID,
		BuyPrice:      decimal.NewFromFloat(env.Buy.BuyPrice),
		Longcode:      env.Buy.Longcode,
	}, nil
}

// SubscribeContract streams contract status into h until settlement.
func (c *Client) SubscribeContract(contractID int64, h ContractHandler) error {
	c.subsMu.Lock()
	c.contractSubs[contractID] = h
	c.subsMu.Unlock()

	reqID := c.nextReqID()
	env, err := c.sendRequest(contractSubscribeReq(contractID, reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second)
	if err != nil {
		return err
	}
	if env.Error != nil {
		c.subsMu.Lock()
		delete(c.contractSubs, contractID)
		c.subsMu.Unlock()
		return env.Error.toExchangeError()
	}
	return nil
}

// --- background loops ---

// healthLoop probes liveness every PingInterval ± jitter. Three missed
// probes in a row, each given the grace period, force a reconnect.
func (c *Client) healthLoop() {
	defer c.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		jitter := time.Duration(rng.Intn(c.cfg.PingJitterSec*2+1)-c.cfg.PingJitterSec) * time.Second
		wait := time.Duration(c.cfg.PingIntervalSec)*time.Second + jitter

		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		if c.State() != StateReady {
			continue
		}

		reqID := c.nextReqID()
		_, err := c.sendRequest(pingReq(reqID), reqID, time.Duration(c.cfg.PingGraceSec)*time.Second)
		if err != nil {
			missed := c.missedPings.Add(1)
			log.Printf("Transport: ping %d/%d missed", missed, c.cfg.PingMissLimit)
			if int(missed) >= c.cfg.PingMissLimit {
				c.missedPings.Store(0)
				go c.forceReconnect("liveness probes exhausted")
			}
			continue
		}
		c.missedPings.Store(0)
	}
}

// reapLoop drops stale correlation records so the pending table cannot
// grow without bound.
func (c *Client) reapLoop() {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.PendingReapSec) * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-time.After(interval):
		}

		now := time.Now()
		c.pendingMu.Lock()
		var reaped int
		for id, pr := range c.pending {
			if now.Sub(pr.createdAt) > staleRequestAge {
				delete(c.pending, id)
				reaped++
			}
		}
		depth := len(c.pending)
		c.pendingMu.Unlock()

		if reaped > 0 {
			metrics.PendingReaped.Add(float64(reaped))
			log.Printf("Transport: reaped %d stale pending requests (depth now %d)", reaped, depth)
		}
	}
}

// forceReconnect tears down the connection and runs the backoff
// schedule: 5 s doubling to a 60 s cap, 5 attempts, each gated by a
// cheap reachability probe. Correlations and exchange-side
// subscription ids are cleared; handlers survive and the streams are
// replayed after re-authorization.
func (c *Client) forceReconnect(reason string) {
	if !c.reconnectIn.CompareAndSwap(false, true) {
		return // a reconnect is already running
	}
	defer c.reconnectIn.Store(false)

	if c.stopping() {
		return
	}
	log.Printf("🔌 Transport: reconnecting (%s)", reason)
	c.setState(StateReconnecting)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.clearPending()

	c.subsMu.Lock()
	c.tickSubIDs = make(map[string]string)
	tickSymbols := make([]string, 0, len(c.tickHandlers))
	for s := range c.tickHandlers {
		tickSymbols = append(tickSymbols, s)
	}
	contractIDs := make([]int64, 0, len(c.contractSubs))
	for id := range c.contractSubs {
		contractIDs = append(contractIDs, id)
	}
	c.subsMu.Unlock()

	backoff := time.Duration(c.cfg.ReconnectBaseSec) * time.Second
	cap := time.Duration(c.cfg.ReconnectCapSec) * time.Second

	for attempt := 1; attempt <= c.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		metrics.Reconnects.Inc()

		if !c.reachable() {
			log.Printf("Transport: reachability probe failed (attempt %d/%d)", attempt, c.cfg.ReconnectMaxAttempts)
		} else if err := c.dial(); err != nil {
			log.Printf("Transport: reconnect dial failed (attempt %d/%d): %v", attempt, c.cfg.ReconnectMaxAttempts, err)
		} else if err := c.authorizeWithFallback(); err != nil {
			log.Printf("Transport: re-authorize failed (attempt %d/%d): %v", attempt, c.cfg.ReconnectMaxAttempts, err)
		} else {
			c.setState(StateReady)
			c.replaySubscriptions(tickSymbols, contractIDs)
			log.Printf("✅ Transport: reconnected after %d attempt(s)", attempt)
			return
		}

		backoff *= 2
		if backoff > cap {
			backoff = cap
		}
	}

	log.Printf("🛑 Transport: reconnect attempts exhausted, giving up")
	c.setState(StateDisconnected)
}

// reachable gates a reconnect attempt with a cheap TCP probe so we do
// not burn an attempt while the network is clearly down.
func (c *Client) reachable() bool {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return true // never let a parse error block recovery
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) replaySubscriptions(tickSymbols []string, contractIDs []int64) {
	for _, symbol := range tickSymbols {
		c.subsMu.Lock()
		h := c.tickHandlers[symbol]
		c.subsMu.Unlock()
		if h == nil {
			continue
		}
		reqID := c.nextReqID()
		if _, err := c.sendRequest(ticksSubscribeReq(symbol, reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second); err != nil {
			log.Printf("Transport: re-subscribe %s failed: %v", symbol, err)
		}
	}
	for _, id := range contractIDs {
		reqID := c.nextReqID()
		if _, err := c.sendRequest(contractSubscribeReq(id, reqID), reqID, time.Duration(c.cfg.HistoryTimeoutSec)*time.Second); err != nil {
			log.Printf("Transport: contract re-subscribe %d failed: %v", id, err)
		}
	}
}

// asExchangeError unwraps an *models.ExchangeError if present.
func asExchangeError(err error, target **models.ExchangeError) bool {
	for err != nil {
		if ex, ok := err.(*models.ExchangeError); ok {
			*target = ex
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
