// Package scanner runs the strategy pipeline across every short-term
// symbol in parallel and keeps a ranked board of where the edge is.
package scanner

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"deriv_trading/internal/config"
	"deriv_trading/internal/exchange"
	"deriv_trading/internal/models"
	"deriv_trading/internal/strategy"

	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
)

const preloadExtra = 20 // history beyond the readiness minimum

// Recommendation is one ranked entry of the scanner board.
type Recommendation struct {
	Symbol     string        `json:"symbol"`
	Score      float64       `json:"score"`
	Signal     models.Signal `json:"signal"`
	Ticks      int64         `json:"ticks"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
}

// SymbolDiag is the per-symbol diagnostic block of a snapshot.
type SymbolDiag struct {
	Ticks        int64     `json:"ticks"`
	HasResult    bool      `json:"has_result"`
	LastScore    float64   `json:"last_score"`
	LastAnalyzed time.Time `json:"last_analyzed"`
}

// Snapshot is an atomic view of the scanner for dashboards.
type Snapshot struct {
	Running         bool                  `json:"running"`
	Symbols         int                   `json:"symbols"`
	Recommendations []Recommendation      `json:"recommendations"`
	Diagnostics     map[string]SymbolDiag `json:"diagnostics"`
}

// Scanner owns one strategy engine per short-term symbol plus the
// worker pool the periodic evaluation fans out on. Analysis results
// age out of the board after StaleAnalysisMin.
type Scanner struct {
	cfg      *config.Config
	provider exchange.Provider

	mu      sync.Mutex
	engines map[string]*strategy.Engine
	running bool

	results *cache.Cache
	pool    *ants.Pool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg *config.Config, provider exchange.Provider) (*Scanner, error) {
	symbols := models.ShortTermSymbols()
	pool, err := ants.NewPool(len(symbols))
	if err != nil {
		return nil, fmt.Errorf("scanner pool: %w", err)
	}

	engines := make(map[string]*strategy.Engine, len(symbols))
	for _, code := range symbols {
		engines[code] = strategy.NewEngine(code, cfg)
	}

	stale := time.Duration(cfg.StaleAnalysisMin) * time.Minute
	return &Scanner{
		cfg:      cfg,
		provider: provider,
		engines:  engines,
		results:  cache.New(stale, time.Minute),
		pool:     pool,
		done:     make(chan struct{}),
	}, nil
}

// Start preloads history for every symbol, installs live tick routing
// and begins the periodic evaluation loop.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	want := s.cfg.MinReadyTicks + preloadExtra
	timeout := time.Duration(s.cfg.HistoryTimeoutSec) * time.Second

	for symbol, engine := range s.engines {
		history, err := s.provider.TicksHistory(symbol, want, timeout)
		if err != nil {
			log.Printf("Scanner: history preload for %s failed: %v", symbol, err)
		} else {
			for _, tk := range history {
				engine.AddTick(tk.Price)
			}
		}

		eng := engine
		if err := s.provider.SubscribeTicks(symbol, func(tk models.Tick) {
			eng.AddTick(tk.Price)
		}); err != nil {
			log.Printf("Scanner: subscribe %s failed: %v", symbol, err)
		}
	}

	s.wg.Add(1)
	go s.scanLoop()
	log.Printf("🔍 Scanner started over %d symbols", len(s.engines))
	return nil
}

// Stop halts the loop and releases the tick streams and worker pool.
// Only the scanner's own symbols are forgotten; a trading session's
// subscription on the same client stays live.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	for symbol := range s.engines {
		if err := s.provider.UnsubscribeTicks(symbol); err != nil {
			log.Printf("Scanner: unsubscribe %s failed: %v", symbol, err)
		}
	}
	s.pool.Release()
}

func (s *Scanner) scanLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.ScanIntervalSec) * time.Second

	for {
		select {
		case <-s.done:
			return
		case <-time.After(interval):
			s.scanOnce()
		}
	}
}

// scanOnce evaluates every ready symbol on the pool and waits for the
// round to complete.
func (s *Scanner) scanOnce() {
	var round sync.WaitGroup
	for symbol, engine := range s.engines {
		sym, eng := symbol, engine
		round.Add(1)
		err := s.pool.Submit(func() {
			defer round.Done()
			s.evaluateSymbol(sym, eng)
		})
		if err != nil {
			round.Done()
			log.Printf("Scanner: pool submit for %s: %v", sym, err)
		}
	}
	round.Wait()
}

func (s *Scanner) evaluateSymbol(symbol string, engine *strategy.Engine) {
	ticks := engine.TickCount()
	if ticks >= int64(s.cfg.ScannerPruneAt) {
		log.Printf("Scanner: pruning %s after %d ticks", symbol, ticks)
		engine.ClearHistory()
		return
	}
	if ticks < int64(s.cfg.MinReadyTicks) {
		return
	}

	sig := engine.Analyze()
	s.results.SetDefault(symbol, Recommendation{
		Symbol:     symbol,
		Score:      rankScore(sig),
		Signal:     sig,
		Ticks:      ticks,
		AnalyzedAt: time.Now(),
	})
}

// rankScore folds a signal into the 0-100ish board score.
func rankScore(sig models.Signal) float64 {
	var score float64
	if sig.IsActionable() {
		score += 50
	}
	score += 30 * sig.Confidence
	score += 20 * sig.Confluence / 100

	switch {
	case sig.ADX > 25:
		score += 15
	case sig.ADX > 20:
		score += 10
	}

	if sig.VolatilityZone == models.VolExtremeHigh || sig.VolatilityZone == models.VolExtremeLow {
		score -= 10
	}
	return score
}

// GetSnapshot returns the ranked board, capped at topN (0 = all).
func (s *Scanner) GetSnapshot(topN int) Snapshot {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	snap := Snapshot{
		Running:     running,
		Symbols:     len(s.engines),
		Diagnostics: make(map[string]SymbolDiag, len(s.engines)),
	}

	for symbol, engine := range s.engines {
		diag := SymbolDiag{Ticks: engine.TickCount()}
		if v, ok := s.results.Get(symbol); ok {
			rec := v.(Recommendation)
			diag.HasResult = true
			diag.LastScore = rec.Score
			diag.LastAnalyzed = rec.AnalyzedAt
			snap.Recommendations = append(snap.Recommendations, rec)
		}
		snap.Diagnostics[symbol] = diag
	}

	sort.Slice(snap.Recommendations, func(i, j int) bool {
		return snap.Recommendations[i].Score > snap.Recommendations[j].Score
	})
	if topN > 0 && len(snap.Recommendations) > topN {
		snap.Recommendations = snap.Recommendations[:topN]
	}
	return snap
}

// Recommendations returns just the ranked board, best first.
func (s *Scanner) Recommendations(topN int) []Recommendation {
	return s.GetSnapshot(topN).Recommendations
}
