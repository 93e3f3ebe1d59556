package scanner

import (
	"sync"
	"testing"
	"time"

	"deriv_trading/internal/config"
	"deriv_trading/internal/exchange"
	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

// mockProvider records subscription traffic and serves canned history.
type mockProvider struct {
	mu          sync.Mutex
	handlers    map[string]exchange.TickHandler
	historyLen  int
	unsubbedAll bool
}

func newMockProvider(historyLen int) *mockProvider {
	return &mockProvider{handlers: make(map[string]exchange.TickHandler), historyLen: historyLen}
}

func (m *mockProvider) Connect() error    { return nil }
func (m *mockProvider) Disconnect() error { return nil }
func (m *mockProvider) IsReady() bool     { return true }

func (m *mockProvider) Balance() (models.Balance, error) {
	return models.Balance{Amount: decimal.NewFromInt(1000), Currency: "USD"}, nil
}

func (m *mockProvider) SubscribeTicks(symbol string, h exchange.TickHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[symbol] = h
	return nil
}

func (m *mockProvider) UnsubscribeTicks(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, symbol)
	return nil
}

func (m *mockProvider) UnsubscribeAllTicks() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = make(map[string]exchange.TickHandler)
	m.unsubbedAll = true
	return nil
}

func (m *mockProvider) TicksHistory(symbol string, count int, timeout time.Duration) ([]models.Tick, error) {
	n := m.historyLen
	if count < n {
		n = count
	}
	ticks := make([]models.Tick, 0, n)
	for i := 0; i < n; i++ {
		ticks = append(ticks, models.Tick{
			Symbol:    symbol,
			Price:     100 + float64(i)*0.1,
			Timestamp: time.Now().Add(-time.Duration(n-i) * time.Second),
		})
	}
	return ticks, nil
}

func (m *mockProvider) BuyContract(models.Direction, decimal.Decimal, string, int, string) (*exchange.BuyResult, error) {
	return &exchange.BuyResult{ContractID: 1}, nil
}

func (m *mockProvider) SubscribeContract(int64, exchange.ContractHandler) error { return nil }

func scannerCfg() *config.Config {
	return &config.Config{
		TickWindow:              300,
		MinConfidenceThreshold:  0.50,
		MinConfluenceScore:      40,
		CooldownSeconds:         12,
		PredictionScoreMin:      0.15,
		PredictionMinConfidence: 0.55,
		HorizonAgreementBoost:   0.15,
		NeutralConfidenceFloor:  0.25,
		ADXConflictBlock:        15,
		ADXTrendingMin:          22,
		DISpreadTrendingMin:     10,
		ADXRangingMax:           12,
		BBWidthRangingPct:       25,
		ADXRangingSoftMax:       18,
		AlignedTrendMult:        1.30,
		CounterTrendMult:        0.85,
		AlignedRangeMult:        1.50,
		MisalignedRangeMult:     0.90,
		ScanIntervalSec:         3600, // loop stays quiet; tests drive scans
		ScannerPruneAt:          10000,
		StaleAnalysisMin:        5,
		MinReadyTicks:           30,
		HistoryTimeoutSec:       5,
	}
}

func TestStartPreloadsAndSubscribes(t *testing.T) {
	provider := newMockProvider(60)
	s, err := New(scannerCfg(), provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	want := len(models.ShortTermSymbols())
	provider.mu.Lock()
	subs := len(provider.handlers)
	provider.mu.Unlock()
	if subs != want {
		t.Errorf("Expected %d tick subscriptions, got %d", want, subs)
	}

	snap := s.GetSnapshot(0)
	if snap.Symbols != want {
		t.Errorf("Expected %d symbols tracked, got %d", want, snap.Symbols)
	}
	for symbol, diag := range snap.Diagnostics {
		if diag.Ticks != 50 {
			t.Errorf("%s: expected 50 preloaded ticks, got %d", symbol, diag.Ticks)
		}
	}
}

func TestLiveTicksRouteToEngines(t *testing.T) {
	provider := newMockProvider(60)
	s, _ := New(scannerCfg(), provider)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	provider.mu.Lock()
	h := provider.handlers["R_100"]
	provider.mu.Unlock()
	h(models.Tick{Symbol: "R_100", Price: 123.45, Timestamp: time.Now()})

	if got := s.engines["R_100"].TickCount(); got != 51 {
		t.Errorf("Expected 51 ticks after live delivery, got %d", got)
	}
}

func TestScanProducesRankedBoard(t *testing.T) {
	provider := newMockProvider(60)
	s, _ := New(scannerCfg(), provider)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.scanOnce()

	snap := s.GetSnapshot(0)
	if len(snap.Recommendations) != len(models.ShortTermSymbols()) {
		t.Fatalf("Expected a result per ready symbol, got %d", len(snap.Recommendations))
	}
	for i := 1; i < len(snap.Recommendations); i++ {
		if snap.Recommendations[i].Score > snap.Recommendations[i-1].Score {
			t.Fatal("Recommendations not sorted by descending score")
		}
	}

	top2 := s.GetSnapshot(2)
	if len(top2.Recommendations) != 2 {
		t.Errorf("topN=2 should cap the board, got %d", len(top2.Recommendations))
	}
}

func TestNotReadySymbolSkipped(t *testing.T) {
	provider := newMockProvider(10) // below MinReadyTicks
	s, _ := New(scannerCfg(), provider)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.scanOnce()
	if n := len(s.GetSnapshot(0).Recommendations); n != 0 {
		t.Errorf("Symbols below the readiness minimum must not be ranked, got %d results", n)
	}
}

func TestPruneResetsHotSymbol(t *testing.T) {
	cfg := scannerCfg()
	cfg.ScannerPruneAt = 40
	provider := newMockProvider(60)
	s, _ := New(cfg, provider)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.scanOnce() // every symbol sits at 50 ticks, past the prune mark
	if got := s.engines["R_100"].TickCount(); got != 0 {
		t.Errorf("Expected pruned tick buffer, got %d ticks", got)
	}
}

func TestStopReleasesOnlyOwnStreams(t *testing.T) {
	provider := newMockProvider(60)
	s, _ := New(scannerCfg(), provider)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A trading session holds its own subscription on the same client.
	provider.SubscribeTicks("frxXAUUSD", func(models.Tick) {})

	s.Stop()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.unsubbedAll {
		t.Error("Stop must not blanket-forget every stream on the client")
	}
	for _, symbol := range models.ShortTermSymbols() {
		if _, ok := provider.handlers[symbol]; ok {
			t.Errorf("Scanner stream %s survived Stop", symbol)
		}
	}
	if _, ok := provider.handlers["frxXAUUSD"]; !ok {
		t.Error("Foreign subscription severed by scanner Stop")
	}
}
