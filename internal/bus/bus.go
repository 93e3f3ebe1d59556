// Package bus is the process-wide publish/subscribe fabric. Components
// publish state transitions to named channels; dashboards and chat
// clients fan out from here. Publish never fails visibly: slow
// subscribers lose their oldest events and closed subscribers are
// evicted on the next publish.
package bus

import (
	"sync"
	"time"

	"deriv_trading/internal/models"
)

// Channel names. Subscribers pick one channel per queue.
const (
	ChannelTick     = "tick"
	ChannelPosition = "position"
	ChannelTrade    = "trade"
	ChannelBalance  = "balance"
	ChannelStatus   = "status"
)

// Position event subtypes.
const (
	PositionOpen   = "open"
	PositionUpdate = "update"
	PositionClose  = "close"
	PositionReset  = "reset"
)

// QueueCapacity bounds every subscriber queue. When a queue is full the
// oldest event is dropped to make room for the newest.
const QueueCapacity = 1000

// historyKeep bounds the settlement history snapshot.
const historyKeep = 200

// Event is one message on a channel.
type Event struct {
	Channel   string         `json:"channel"`
	Type      string         `json:"type,omitempty"` // position subtype, reset reason, ...
	Data      any            `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber is a handle to one bounded queue.
type Subscriber struct {
	ch     chan Event
	bus    *Bus
	closed bool
	mu     sync.Mutex
}

// Events exposes the queue for draining.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber. Safe to call twice; the bus evicts the
// queue on its next publish.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot is a consistent copy of the bus's in-memory state, suitable
// for bootstrapping a new dashboard client.
type Snapshot struct {
	OpenPositions map[int64]models.Contract   `json:"open_positions"`
	TradeHistory  []models.Contract           `json:"trade_history"`
	Balance       *models.Balance             `json:"balance,omitempty"`
	Status        *models.Status              `json:"status,omitempty"`
	LastTicks     map[string]models.Tick      `json:"last_ticks"`
}

// Bus is safe for concurrent use from any goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscriber

	// snapshots, mutated on publish
	openPositions map[int64]models.Contract
	tradeHistory  []models.Contract
	balance       *models.Balance
	status        *models.Status
	lastTicks     map[string]models.Tick

	dropped func() // metrics hook, optional
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:          make(map[string][]*Subscriber),
		openPositions: make(map[int64]models.Contract),
		lastTicks:     make(map[string]models.Tick),
	}
}

// OnDrop registers a hook fired once per dropped event.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

// Subscribe returns a new bounded queue on the given channel.
func (b *Bus) Subscribe(channel string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, QueueCapacity), bus: b}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers an event and updates the snapshots. It never blocks
// and never returns an error.
func (b *Bus) Publish(channel, eventType string, data any) {
	ev := Event{Channel: channel, Type: eventType, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.applySnapshot(ev)
	subs := b.subs[channel]
	live := subs[:0]
	for _, s := range subs {
		if s.isClosed() {
			continue // silent eviction
		}
		live = append(live, s)
	}
	b.subs[channel] = live
	targets := make([]*Subscriber, len(live))
	copy(targets, live)
	drop := b.dropped
	b.mu.Unlock()

	for _, s := range targets {
		for {
			select {
			case s.ch <- ev:
			default:
				// Full: drop the oldest, retry with the newest.
				select {
				case <-s.ch:
					if drop != nil {
						drop()
					}
				default:
				}
				continue
			}
			break
		}
	}
}

// applySnapshot folds an event into the in-memory state. Caller holds
// the write lock.
func (b *Bus) applySnapshot(ev Event) {
	switch ev.Channel {
	case ChannelTick:
		if t, ok := ev.Data.(models.Tick); ok {
			b.lastTicks[t.Symbol] = t
		}
	case ChannelBalance:
		if bal, ok := ev.Data.(models.Balance); ok {
			b.balance = &bal
		}
	case ChannelStatus:
		if st, ok := ev.Data.(models.Status); ok {
			b.status = &st
		}
	case ChannelPosition:
		c, ok := ev.Data.(models.Contract)
		switch {
		case !ok:
			if ev.Type == PositionReset {
				b.openPositions = make(map[int64]models.Contract)
			}
		case ev.Type == PositionOpen, ev.Type == PositionUpdate:
			b.openPositions[c.ContractID] = c
		case ev.Type == PositionClose:
			delete(b.openPositions, c.ContractID)
		}
	case ChannelTrade:
		if c, ok := ev.Data.(models.Contract); ok {
			b.tradeHistory = append(b.tradeHistory, c)
			if len(b.tradeHistory) > historyKeep {
				b.tradeHistory = b.tradeHistory[len(b.tradeHistory)-historyKeep:]
			}
		}
	}
}

// GetSnapshot returns a deep-enough copy of the current state.
func (b *Bus) GetSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		OpenPositions: make(map[int64]models.Contract, len(b.openPositions)),
		TradeHistory:  make([]models.Contract, len(b.tradeHistory)),
		LastTicks:     make(map[string]models.Tick, len(b.lastTicks)),
	}
	for id, c := range b.openPositions {
		snap.OpenPositions[id] = c
	}
	copy(snap.TradeHistory, b.tradeHistory)
	for s, t := range b.lastTicks {
		snap.LastTicks[s] = t
	}
	if b.balance != nil {
		bal := *b.balance
		snap.Balance = &bal
	}
	if b.status != nil {
		st := *b.status
		snap.Status = &st
	}
	return snap
}

// OpenPositionCount is a cheap probe used by invariant checks.
func (b *Bus) OpenPositionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.openPositions)
}

// --- process-wide default instance ---

var (
	defaultBus *Bus
	defaultMu  sync.Mutex
)

// Init creates the process-wide bus. Call once at startup.
func Init() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		defaultBus = New()
	}
	return defaultBus
}

// Default returns the process-wide bus, initialising it on first use.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		defaultBus = New()
	}
	return defaultBus
}

// Teardown drops the process-wide bus. Tests use this to isolate state.
func Teardown() {
	defaultMu.Lock()
	defaultBus = nil
	defaultMu.Unlock()
}
