// Package trading owns the execution state machine: it turns signals
// into exchange orders under martingale money management, a circuit
// breaker on clustered buy failures, risk preflight and durable
// session recovery.
package trading

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"deriv_trading/internal/bus"
	"deriv_trading/internal/config"
	"deriv_trading/internal/exchange"
	"deriv_trading/internal/filter"
	"deriv_trading/internal/metrics"
	"deriv_trading/internal/models"
	"deriv_trading/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// State is the trade manager's position in its lifecycle.
type State string

const (
	StateIdle          State = "IDLE"
	StateRunning       State = "RUNNING"
	StateWaitingResult State = "WAITING_RESULT"
	StateStopped       State = "STOPPED"
)

const tickQueueCap = 128

var (
	errBuyTimeout    = fmt.Errorf("%w: buy awaiting response too long", models.ErrInternalTimeout)
	errStuckContract = fmt.Errorf("%w: contract stream silent too long", models.ErrInternalTimeout)
)

// TradeJournal receives settled contracts for durable bookkeeping.
type TradeJournal interface {
	Append(models.Contract) error
}

// session is the mutable per-session state. The Manager owns it
// exclusively; everything goes through m.mu.
type session struct {
	Symbol       string
	BaseStake    decimal.Decimal
	CurrentStake decimal.Decimal
	Duration     int
	DurationUnit string
	TargetTrades int // 0 = unlimited

	Stats models.SessionStats

	MartingaleLevel   int
	InSequence        bool
	CumulativeLoss    decimal.Decimal
	ConsecutiveLosses int
	DailyLoss         decimal.Decimal

	LastTradeTime   time.Time
	BuyRequestAt    time.Time
	CurrentContract *models.Contract
	EntryRSI        float64
	TradesSinceSave int
}

// StatusReport is the operator-facing view of the manager.
type StatusReport struct {
	State           State               `json:"state"`
	Symbol          string              `json:"symbol"`
	Stats           models.SessionStats `json:"stats"`
	CurrentStake    decimal.Decimal     `json:"current_stake"`
	MartingaleLevel int                 `json:"martingale_level"`
	BreakerState    string              `json:"breaker_state"`
}

// Manager drives one trading session at a time.
type Manager struct {
	cfg      *config.Config
	provider exchange.Provider
	bus      *bus.Bus
	strat    strategy.Strategy
	entry    *filter.Filter
	notifier Notifier
	journal  TradeJournal

	analytics *Analytics
	recovery  *recoveryStore
	breaker   *gobreaker.CircuitBreaker

	mu         sync.Mutex
	state      State
	sess       *session
	configured bool
	loopLive   bool

	// non-blocking single-flight guard across evaluate-and-send
	signalMu sync.Mutex

	ticks   chan models.Tick
	done    chan struct{}
	wg      sync.WaitGroup
	tickSeq int64

	sleep func(time.Duration) // swapped out in tests
}

func NewManager(cfg *config.Config, provider exchange.Provider, b *bus.Bus, strat strategy.Strategy, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	m := &Manager{
		cfg:       cfg,
		provider:  provider,
		bus:       b,
		strat:     strat,
		entry:     filter.New(cfg),
		notifier:  notifier,
		analytics: NewAnalytics(),
		recovery:  &recoveryStore{path: cfg.RecoveryFile},
		state:     StateIdle,
		sleep:     time.Sleep,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "buy",
		Interval: time.Duration(cfg.BreakerWindowSec) * time.Second,
		Timeout:  time.Duration(cfg.BreakerPauseSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(cfg.BreakerFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("⚡ Circuit breaker %s: %s -> %s", name, from, to)
			m.publishStatus()
		},
	})
	return m
}

// SetJournal installs a settlement journal. Optional.
func (m *Manager) SetJournal(j TradeJournal) { m.journal = j }

// Analytics exposes the session analytics for reporting surfaces.
func (m *Manager) Analytics() *Analytics { return m.analytics }

// Configure validates and stores the session parameters. Rejected
// synchronously: unknown symbol, stake below the symbol minimum,
// unsupported duration unit.
func (m *Manager) Configure(stake decimal.Decimal, duration int, durationUnit string, targetTrades int, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning || m.state == StateWaitingResult {
		return fmt.Errorf("%w: cannot reconfigure while a session is active", models.ErrConfig)
	}

	info, ok := models.LookupSymbol(symbol)
	if !ok {
		return fmt.Errorf("%w: unknown symbol %q", models.ErrConfig, symbol)
	}
	if stake.LessThan(info.MinStake) {
		return fmt.Errorf("%w: stake %s below %s minimum %s", models.ErrConfig, stake, symbol, info.MinStake)
	}
	if !info.SupportsUnit(durationUnit) {
		return fmt.Errorf("%w: %s does not support duration unit %q (supported: %v)",
			models.ErrConfig, symbol, durationUnit, info.DurationUnits)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", models.ErrConfig)
	}
	if targetTrades < 0 {
		return fmt.Errorf("%w: target trades must not be negative", models.ErrConfig)
	}

	m.sess = &session{
		Symbol:       symbol,
		BaseStake:    stake,
		CurrentStake: stake,
		Duration:     duration,
		DurationUnit: durationUnit,
		TargetTrades: targetTrades,
	}
	m.configured = true
	m.state = StateIdle
	log.Printf("Configured: %s stake %s, %d%s, target %d", symbol, stake, duration, durationUnit, targetTrades)
	return nil
}

// Start begins (or warm-restarts) a session: clears indicator state,
// preloads history, restores a young recovery record if one passes the
// integrity checks, subscribes to ticks and runs.
func (m *Manager) Start() error {
	m.mu.Lock()
	if !m.configured {
		m.mu.Unlock()
		return fmt.Errorf("%w: configure before start", models.ErrConfig)
	}
	if m.state == StateRunning || m.state == StateWaitingResult {
		m.mu.Unlock()
		return fmt.Errorf("%w: session already running", models.ErrConfig)
	}
	sess := m.sess
	m.mu.Unlock()

	m.strat.ClearHistory()

	history, err := m.provider.TicksHistory(sess.Symbol, m.cfg.MinReadyTicks+20,
		time.Duration(m.cfg.HistoryTimeoutSec)*time.Second)
	if err != nil {
		log.Printf("Warning: history preload failed: %v", err)
	}
	for _, tk := range history {
		m.strat.AddTick(tk.Price)
	}

	bal, err := m.provider.Balance()
	if err != nil {
		return fmt.Errorf("%w: balance fetch: %v", models.ErrTransport, err)
	}

	info, _ := models.LookupSymbol(sess.Symbol)

	m.mu.Lock()
	sess.Stats = models.SessionStats{
		StartingBalance: bal.Amount,
		CurrentBalance:  bal.Amount,
		PeakBalance:     bal.Amount,
	}
	sess.CurrentStake = sess.BaseStake
	sess.MartingaleLevel = 0
	sess.InSequence = false
	sess.CumulativeLoss = decimal.Zero
	sess.ConsecutiveLosses = 0
	sess.DailyLoss = decimal.Zero
	sess.LastTradeTime = time.Time{}
	sess.BuyRequestAt = time.Time{}
	sess.CurrentContract = nil
	sess.TradesSinceSave = 0

	maxAge := time.Duration(m.cfg.RecoveryMaxAgeMin) * time.Minute
	if rec := m.recovery.Load(maxAge, info.MinStake, m.cfg.MaxMartingaleLevel); rec != nil && rec.Symbol == sess.Symbol {
		sess.Stats = rec.Stats
		sess.Stats.CurrentBalance = bal.Amount
		sess.CurrentStake = rec.CurrentStake
		sess.MartingaleLevel = rec.MartingaleLevel
		sess.InSequence = rec.InSequence
		sess.CumulativeLoss = rec.CumulativeLoss
		sess.ConsecutiveLosses = rec.ConsecutiveLosses
		sess.DailyLoss = rec.DailyLoss
		log.Printf("♻️ Restored session: %d trades, stake %s, martingale level %d",
			rec.Stats.Total, rec.CurrentStake, rec.MartingaleLevel)
		m.notifier.OnProgress(fmt.Sprintf("Session restored at trade %d, martingale level %d",
			rec.Stats.Total, rec.MartingaleLevel))
	}

	m.state = StateRunning
	m.ticks = make(chan models.Tick, tickQueueCap)
	m.done = make(chan struct{})
	m.loopLive = true
	m.tickSeq = 0
	m.mu.Unlock()

	if err := m.provider.SubscribeTicks(sess.Symbol, m.onTick); err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.closeLoopLocked()
		m.mu.Unlock()
		return fmt.Errorf("%w: subscribe %s: %v", models.ErrTransport, sess.Symbol, err)
	}

	m.wg.Add(1)
	go m.runLoop()
	m.publishStatus()
	log.Printf("▶️ Session started on %s", sess.Symbol)
	return nil
}

// Stop ends the session from the operator surface and returns the
// summary. Martingale and per-session counters reset.
func (m *Manager) Stop() models.SessionStats {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateWaitingResult {
		stats := models.SessionStats{}
		if m.sess != nil {
			stats = m.sess.Stats
		}
		m.mu.Unlock()
		return stats
	}
	m.mu.Unlock()

	m.stopSession("stop")

	m.mu.Lock()
	m.sess.CurrentStake = m.sess.BaseStake
	m.sess.MartingaleLevel = 0
	m.sess.InSequence = false
	m.sess.CumulativeLoss = decimal.Zero
	m.sess.ConsecutiveLosses = 0
	stats := m.sess.Stats
	m.mu.Unlock()

	m.wg.Wait()
	return stats
}

// Status reports the manager for the operator surface.
func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := StatusReport{State: m.state, BreakerState: m.breaker.State().String()}
	if m.sess != nil {
		rep.Symbol = m.sess.Symbol
		rep.Stats = m.sess.Stats
		rep.CurrentStake = m.sess.CurrentStake
		rep.MartingaleLevel = m.sess.MartingaleLevel
	}
	return rep
}

// Snapshot passes through the bus snapshot for bootstrapping clients.
func (m *Manager) Snapshot() bus.Snapshot {
	return m.bus.GetSnapshot()
}

// --- tick path ---

// onTick runs on the transport's receive goroutine: hand off and
// return. A full queue drops the tick; the next one carries the same
// information.
func (m *Manager) onTick(tk models.Tick) {
	m.mu.Lock()
	ch := m.ticks
	live := m.loopLive
	m.mu.Unlock()
	if !live || ch == nil {
		return
	}
	select {
	case ch <- tk:
	default:
	}
}

func (m *Manager) runLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case tk := <-m.ticks:
			m.handleTick(tk)
		}
	}
}

func (m *Manager) handleTick(tk models.Tick) {
	m.strat.AddTick(tk.Price)
	m.tickSeq++
	if m.cfg.AnalyzeEveryNTicks > 1 && m.tickSeq%int64(m.cfg.AnalyzeEveryNTicks) != 0 {
		return
	}
	m.evaluateSignal()
}

// evaluateSignal is the gate chain of one evaluation round. Order
// matters: breaker, stuck-buy reset, cooldown, single-flight, analyze,
// preflight, send.
func (m *Manager) evaluateSignal() {
	if m.breaker.State() == gobreaker.StateOpen {
		return
	}

	m.mu.Lock()
	sess := m.sess
	switch m.state {
	case StateWaitingResult:
		overdue := !sess.BuyRequestAt.IsZero() &&
			time.Since(sess.BuyRequestAt) > time.Duration(m.cfg.BuyTimeoutSec)*time.Second &&
			sess.CurrentContract == nil
		if overdue {
			log.Printf("⏱ Buy response overdue, resetting to RUNNING")
			m.state = StateRunning
			sess.BuyRequestAt = time.Time{}
			m.mu.Unlock()
			m.recordFailure(errBuyTimeout)
			return
		}
		// An accepted contract whose stream went silent would otherwise
		// hold WAITING_RESULT forever.
		stuck := sess.CurrentContract != nil &&
			time.Since(sess.BuyRequestAt) >= time.Duration(m.cfg.StuckResetSec)*time.Second
		if stuck {
			log.Printf("⏱ Contract %d stream silent for %ds, resetting to RUNNING",
				sess.CurrentContract.ContractID, m.cfg.StuckResetSec)
			sess.CurrentContract = nil
			sess.BuyRequestAt = time.Time{}
			m.state = StateRunning
			m.mu.Unlock()
			m.recordFailure(errStuckContract)
			return
		}
		m.mu.Unlock()
		return
	case StateRunning:
		// fall through
	default:
		m.mu.Unlock()
		return
	}
	if !sess.LastTradeTime.IsZero() &&
		time.Since(sess.LastTradeTime) < time.Duration(m.cfg.TradeCooldownSec)*time.Second {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.signalMu.TryLock() {
		return // a concurrent evaluation is in flight
	}
	defer m.signalMu.Unlock()

	sig := m.strat.Analyze()
	if !sig.IsActionable() {
		return
	}
	if res := m.entry.Evaluate(sig); !res.Allowed {
		log.Printf("Entry filter blocked %s (score %.0f): %v", sig.Direction, res.Score, res.BlockReasons)
		return
	}

	if err := m.riskPreflight(); err != nil {
		if errors.Is(err, models.ErrRiskAbort) {
			m.stopSession(err.Error())
		} else {
			log.Printf("Preflight deferred: %v", err)
		}
		return
	}

	m.placeTrade(sig)
}

// recordFailure feeds one failure into the breaker's window.
func (m *Manager) recordFailure(cause error) {
	metrics.BuyFailures.Inc()
	m.breaker.Execute(func() (any, error) { return nil, cause })
}

// riskPreflight re-checks funding and risk caps against a fresh
// balance. ErrRiskAbort means stop the session; other errors defer
// this round only.
func (m *Manager) riskPreflight() error {
	bal, err := m.provider.Balance()
	if err != nil {
		return fmt.Errorf("%w: balance fetch: %v", models.ErrTransport, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sess
	sess.Stats.CurrentBalance = bal.Amount
	info, _ := models.LookupSymbol(sess.Symbol)

	if sess.MartingaleLevel > 0 {
		if sess.CurrentStake.GreaterThan(bal.Amount) {
			return fmt.Errorf("%w: balance %s cannot fund martingale stake %s",
				models.ErrRiskAbort, bal.Amount, sess.CurrentStake)
		}
	} else {
		// The configured stake is only ever adjusted upward to honor
		// the symbol minimum, never silently reduced.
		if sess.CurrentStake.LessThan(info.MinStake) {
			sess.CurrentStake = info.MinStake
		}
		if bal.Amount.LessThan(sess.CurrentStake) {
			return fmt.Errorf("%w: balance %s below stake %s", models.ErrRiskAbort, bal.Amount, sess.CurrentStake)
		}
	}

	projected := projectedRisk(sess.BaseStake, m.cfg.MartingaleMultiplier, m.cfg.MaxMartingaleLevel)
	threshold := bal.Amount.Mul(decimal.NewFromFloat(m.cfg.ProjectedRiskPct))
	if projected.GreaterThan(threshold) {
		msg := fmt.Sprintf("Projected martingale exposure %s exceeds %.0f%% of balance %s",
			projected, m.cfg.ProjectedRiskPct*100, bal.Amount)
		log.Printf("⚠️ %s", msg)
		m.notifier.OnProgress(msg)
		if m.cfg.ProjectedRiskAutoStop {
			return fmt.Errorf("%w: %s", models.ErrRiskAbort, msg)
		}
	}

	if m.cfg.IsRealAccount() && m.cfg.DailyLossLimit > 0 &&
		sess.DailyLoss.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.DailyLossLimit)) {
		return fmt.Errorf("%w: daily loss %s reached the cap", models.ErrRiskAbort, sess.DailyLoss)
	}
	if sess.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return fmt.Errorf("%w: %d consecutive losses", models.ErrRiskAbort, sess.ConsecutiveLosses)
	}
	return nil
}

// projectedRisk is the geometric-sum worst case of a full martingale
// ladder: stake · (1 − r^N)/(1 − r).
func projectedRisk(base decimal.Decimal, multiplier float64, levels int) decimal.Decimal {
	if levels <= 0 {
		return decimal.Zero
	}
	r := decimal.NewFromFloat(multiplier)
	if r.Equal(decimal.NewFromInt(1)) {
		return base.Mul(decimal.NewFromInt(int64(levels)))
	}
	one := decimal.NewFromInt(1)
	num := one.Sub(r.Pow(decimal.NewFromInt(int64(levels))))
	return base.Mul(num.Div(one.Sub(r)))
}

// placeTrade sends the buy with retries under the circuit breaker and
// opens the contract stream on acceptance.
func (m *Manager) placeTrade(sig models.Signal) {
	m.mu.Lock()
	sess := m.sess
	stake := sess.CurrentStake
	symbol, duration, unit := sess.Symbol, sess.Duration, sess.DurationUnit
	level := sess.MartingaleLevel
	m.state = StateWaitingResult
	sess.BuyRequestAt = time.Now()
	sess.EntryRSI = sig.Indicators["rsi"]
	m.mu.Unlock()
	m.publishStatus()

	var result *exchange.BuyResult
	var lastErr error
	backoff := time.Duration(m.cfg.BuyRetryBaseSec) * time.Second
	capDur := time.Duration(m.cfg.BuyRetryCapSec) * time.Second

	for attempt := 0; attempt <= m.cfg.BuyRetryMax; attempt++ {
		if attempt > 0 {
			wait := backoff + time.Duration(rand.Float64()*0.3*float64(backoff))
			log.Printf("Buy retry %d/%d in %s", attempt, m.cfg.BuyRetryMax, wait.Round(time.Millisecond))
			m.sleep(wait)
			backoff *= 2
			if backoff > capDur {
				backoff = capDur
			}
		}

		v, err := m.breaker.Execute(func() (any, error) {
			return m.provider.BuyContract(sig.Direction, stake, symbol, duration, unit)
		})
		if err == nil {
			result = v.(*exchange.BuyResult)
			break
		}
		lastErr = err
		metrics.BuyFailures.Inc()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Printf("🛑 Circuit breaker suppressed the buy")
			break
		}
		var exErr *models.ExchangeError
		if errors.As(err, &exErr) {
			if exErr.IsRateLimit() {
				// The exchange asked us to slow down; skip the gentle
				// ramp and wait the full cap before trying again.
				backoff = capDur
				log.Printf("Exchange rate limited the buy, deferring %s", capDur)
			} else {
				log.Printf("Exchange rejected buy: %s (%s)", exErr.Code, exErr.Message)
			}
		} else {
			log.Printf("Buy failed: %v", err)
		}
	}

	if result == nil {
		m.mu.Lock()
		if m.state == StateWaitingResult {
			m.state = StateRunning
			sess.BuyRequestAt = time.Time{}
		}
		m.mu.Unlock()
		if lastErr != nil && !errors.Is(lastErr, gobreaker.ErrOpenState) && !errors.Is(lastErr, gobreaker.ErrTooManyRequests) {
			m.stopSession(fmt.Sprintf("buy failed after %d retries: %v", m.cfg.BuyRetryMax, lastErr))
		}
		return
	}

	contract := models.Contract{
		ContractID:      result.ContractID,
		TradeID:         uuid.NewString(),
		Symbol:          symbol,
		Direction:       sig.Direction,
		Stake:           stake,
		Duration:        duration,
		DurationUnit:    unit,
		Status:          models.ContractOpen,
		OpenedAt:        time.Now(),
		MartingaleLevel: level,
	}

	m.mu.Lock()
	sess.CurrentContract = &contract
	m.mu.Unlock()

	if err := m.provider.SubscribeContract(result.ContractID, m.onContractUpdate); err != nil {
		log.Printf("Warning: contract stream subscribe failed: %v", err)
	}

	m.bus.Publish(bus.ChannelPosition, bus.PositionOpen, contract)
	m.notifier.OnTradeOpened(contract)
	log.Printf("📈 %s %s at stake %s (contract %d, level %d)",
		sig.Direction, symbol, stake, result.ContractID, level)
}

// --- settlement ---

func (m *Manager) onContractUpdate(u exchange.ContractUpdate) {
	if !u.IsSold {
		m.mu.Lock()
		c := m.sessContract(u.ContractID)
		if c != nil {
			if c.EntryPrice == 0 {
				c.EntryPrice = u.EntrySpot
			}
			snapshot := *c
			m.mu.Unlock()
			m.bus.Publish(bus.ChannelPosition, bus.PositionUpdate, snapshot)
			return
		}
		m.mu.Unlock()
		return
	}
	m.settle(u)
}

func (m *Manager) sessContract(contractID int64) *models.Contract {
	if m.sess == nil || m.sess.CurrentContract == nil {
		return nil
	}
	if m.sess.CurrentContract.ContractID != contractID {
		return nil
	}
	return m.sess.CurrentContract
}

// settle applies one settlement exactly once: session counters,
// martingale decision, analytics, persistence and events.
func (m *Manager) settle(u exchange.ContractUpdate) {
	m.mu.Lock()
	sess := m.sess
	c := m.sessContract(u.ContractID)
	if c == nil {
		m.mu.Unlock()
		return // duplicate or foreign settlement frame
	}
	sess.CurrentContract = nil
	sess.BuyRequestAt = time.Time{}

	if c.EntryPrice == 0 {
		c.EntryPrice = u.EntrySpot
	}
	c.ExitPrice = u.ExitSpot
	c.Profit = u.Profit
	c.IsWin = u.Profit.IsPositive()
	c.Status = models.ContractSettled
	c.ClosedAt = time.Now()

	st := &sess.Stats
	st.Total++
	if c.IsWin {
		st.Wins++
	} else {
		st.Losses++
	}
	st.TotalProfit = st.TotalProfit.Add(c.Profit)
	st.CurrentBalance = st.CurrentBalance.Add(c.Profit)
	if st.CurrentBalance.GreaterThan(st.PeakBalance) {
		st.PeakBalance = st.CurrentBalance
	}
	if dd := st.PeakBalance.Sub(st.CurrentBalance); dd.GreaterThan(st.MaxDrawdown) {
		st.MaxDrawdown = dd
	}

	var stopReason string
	if c.IsWin {
		if sess.InSequence {
			m.analytics.RecordRecovery(sess.MartingaleLevel, sess.CumulativeLoss)
			log.Printf("✅ Recovery success at level %d: recovered %s", sess.MartingaleLevel, sess.CumulativeLoss)
		}
		sess.CurrentStake = sess.BaseStake
		sess.MartingaleLevel = 0
		sess.InSequence = false
		sess.CumulativeLoss = decimal.Zero
		sess.ConsecutiveLosses = 0
	} else {
		sess.CumulativeLoss = sess.CumulativeLoss.Add(c.Stake)
		sess.DailyLoss = sess.DailyLoss.Add(c.Stake)
		sess.ConsecutiveLosses++
		sess.MartingaleLevel++
		sess.InSequence = true
		if sess.MartingaleLevel >= m.cfg.MaxMartingaleLevel {
			stopReason = fmt.Sprintf("MAX MARTINGALE LEVEL %d reached, cumulative loss %s",
				sess.MartingaleLevel, sess.CumulativeLoss)
		} else {
			sess.CurrentStake = sess.CurrentStake.Mul(decimal.NewFromFloat(m.cfg.MartingaleMultiplier))
			if stopReason == "" && sess.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
				stopReason = fmt.Sprintf("%d consecutive losses", sess.ConsecutiveLosses)
			}
		}
	}

	sess.LastTradeTime = time.Now()
	sess.TradesSinceSave++
	saveDue := sess.TradesSinceSave >= m.cfg.RecoverySaveEvery
	if saveDue {
		sess.TradesSinceSave = 0
	}
	targetReached := sess.TargetTrades > 0 && st.Total >= sess.TargetTrades
	if stopReason == "" && !targetReached {
		m.state = StateRunning
	}

	contract := *c
	stats := sess.Stats
	entryRSI := sess.EntryRSI
	m.mu.Unlock()

	m.analytics.RecordSettlement(contract, entryRSI)
	result := "loss"
	if contract.IsWin {
		result = "win"
	}
	metrics.TradesSettled.WithLabelValues(result).Inc()

	m.bus.Publish(bus.ChannelPosition, bus.PositionClose, contract)
	m.bus.Publish(bus.ChannelTrade, "", contract)
	if m.journal != nil {
		if err := m.journal.Append(contract); err != nil {
			log.Printf("Journal append failed: %v", err)
		}
	}
	m.notifier.OnTradeClosed(contract, stats)
	log.Printf("🏁 Contract %d settled: %s %s (balance %s)", contract.ContractID, result, contract.Profit, stats.CurrentBalance)

	if saveDue {
		m.saveRecovery()
	}

	switch {
	case stopReason != "":
		m.stopSession(stopReason)
	case targetReached:
		m.completeSession()
	default:
		m.publishStatus()
	}
}

// --- session teardown ---

// stopSession ends the session on an abort or operator stop. The
// recovery record is persisted so a restart within the age bound can
// resume.
func (m *Manager) stopSession(reason string) {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	sess := m.sess
	sess.CurrentContract = nil
	stats := sess.Stats
	symbol := sess.Symbol
	m.closeLoopLocked()
	m.mu.Unlock()

	m.saveRecovery()

	// Teardown is reached from settle, which runs on the transport's
	// receive goroutine; the forget round-trips through that same
	// goroutine, so it must not be waited on here.
	go func() {
		if err := m.provider.UnsubscribeTicks(symbol); err != nil {
			log.Printf("Unsubscribe %s failed: %v", symbol, err)
		}
	}()

	m.bus.Publish(bus.ChannelPosition, bus.PositionReset, map[string]string{"reason": "stop"})
	m.publishStatus()
	if reason != "stop" {
		m.notifier.OnError(errors.New(reason))
	}
	m.notifier.OnSessionComplete(stats, reason)
	log.Printf("🛑 Session stopped: %s | total %d, wins %d, losses %d, profit %s, balance %s",
		reason, stats.Total, stats.Wins, stats.Losses, stats.TotalProfit, stats.CurrentBalance)
}

// completeSession is the normal end: target reached, record cleared.
func (m *Manager) completeSession() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	sess := m.sess
	sess.CurrentContract = nil
	stats := sess.Stats
	symbol := sess.Symbol
	m.closeLoopLocked()
	m.mu.Unlock()

	m.recovery.Clear()

	go func() {
		if err := m.provider.UnsubscribeTicks(symbol); err != nil {
			log.Printf("Unsubscribe %s failed: %v", symbol, err)
		}
	}()

	m.bus.Publish(bus.ChannelPosition, bus.PositionReset, map[string]string{"reason": "session_complete"})
	m.publishStatus()
	m.notifier.OnSessionComplete(stats, "session_complete")
	log.Printf("🎯 Session complete: total %d, wins %d, losses %d, profit %s",
		stats.Total, stats.Wins, stats.Losses, stats.TotalProfit)
}

func (m *Manager) closeLoopLocked() {
	if m.loopLive {
		close(m.done)
		m.loopLive = false
	}
}

func (m *Manager) saveRecovery() {
	m.mu.Lock()
	sess := m.sess
	rec := &RecoveryRecord{
		Symbol:            sess.Symbol,
		BaseStake:         sess.BaseStake,
		CurrentStake:      sess.CurrentStake,
		Duration:          sess.Duration,
		DurationUnit:      sess.DurationUnit,
		TargetTrades:      sess.TargetTrades,
		Stats:             sess.Stats,
		MartingaleLevel:   sess.MartingaleLevel,
		InSequence:        sess.InSequence,
		CumulativeLoss:    sess.CumulativeLoss,
		ConsecutiveLosses: sess.ConsecutiveLosses,
		DailyLoss:         sess.DailyLoss,
		SavedAt:           time.Now(),
	}
	m.mu.Unlock()

	if err := m.recovery.Save(rec); err != nil {
		log.Printf("Recovery save failed: %v", err)
	}
}

func (m *Manager) publishStatus() {
	m.mu.Lock()
	trading := m.state == StateRunning || m.state == StateWaitingResult
	m.mu.Unlock()
	m.bus.Publish(bus.ChannelStatus, "", models.Status{
		IsTrading:   trading,
		IsConnected: m.provider.IsReady(),
		AccountType: m.cfg.AccountType,
	})
}
