package filter

import (
	"strings"
	"testing"
	"time"

	"deriv_trading/internal/config"
	"deriv_trading/internal/models"
)

func filterCfg() *config.Config {
	return &config.Config{RiskMode: "LOW_RISK"}
}

func goodSignal() models.Signal {
	return models.Signal{
		Direction:      models.DirectionCall,
		Confidence:     0.90,
		VolatilityZone: models.VolNormal,
		Regime:         models.RegimeTrending,
		Confluence:     80,
	}
}

// Pin evaluation to London hours so the session component is stable.
func pinned(f *Filter) *Filter {
	f.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) }
	return f
}

func TestStrongSignalAllowed(t *testing.T) {
	f := pinned(New(filterCfg()))
	res := f.Evaluate(goodSignal())

	// 90·0.40 + 100·0.25 + 80·0.20 + 100·0.15 = 92
	if res.Score < 92-1e-9 || res.Score > 92+1e-9 {
		t.Errorf("Expected score 92, got %v", res.Score)
	}
	if !res.Allowed {
		t.Fatalf("Expected allowed, blocked by: %v", res.BlockReasons)
	}
}

func TestWaitSignalBlocked(t *testing.T) {
	f := pinned(New(filterCfg()))
	res := f.Evaluate(models.Signal{Direction: models.DirectionWait})
	if res.Allowed {
		t.Fatal("WAIT signal must never pass the filter")
	}
}

func TestModeConfidenceMinima(t *testing.T) {
	cases := []struct {
		mode Mode
		conf float64
		want bool
	}{
		{ModeLowRisk, 0.70, true},
		{ModeLowRisk, 0.69, false},
		{ModeHighProbability, 0.80, true},
		{ModeHighProbability, 0.79, false},
		{ModeAggressive, 0.60, true},
		{ModeAggressive, 0.59, false},
		{ModeSniper, 0.85, true},
		{ModeSniper, 0.84, false},
	}
	for _, tc := range cases {
		f := pinned(New(filterCfg()))
		sig := goodSignal()
		sig.Confidence = tc.conf
		res := f.EvaluateMode(sig, tc.mode)

		confBlocked := false
		for _, b := range res.BlockReasons {
			if strings.Contains(b, "confidence") {
				confBlocked = true
			}
		}
		if confBlocked == tc.want {
			t.Errorf("%s at confidence %v: blocked=%v, want pass=%v (%v)",
				tc.mode, tc.conf, confBlocked, tc.want, res.BlockReasons)
		}
	}
}

func TestSniperRequiresTrend(t *testing.T) {
	f := pinned(New(filterCfg()))
	sig := goodSignal()
	sig.Confidence = 0.95
	sig.Regime = models.RegimeRanging

	res := f.EvaluateMode(sig, ModeSniper)
	if res.Allowed {
		t.Fatal("SNIPER must require a trending regime")
	}
}

// Synthetic indices run hot by nature: extreme volatility passes with
// the default flag and blocks only when the flag is switched on.
func TestExtremeVolatilityFlag(t *testing.T) {
	sig := goodSignal()
	sig.VolatilityZone = models.VolExtremeHigh
	sig.Confidence = 0.95
	sig.Confluence = 95

	off := pinned(New(filterCfg()))
	if res := off.EvaluateMode(sig, ModeAggressive); !res.Allowed {
		t.Errorf("Flag off: extreme volatility should pass, blocked by %v", res.BlockReasons)
	}

	cfg := filterCfg()
	cfg.BlockExtremeVolatility = true
	on := pinned(New(cfg))
	res := on.EvaluateMode(sig, ModeAggressive)
	if res.Allowed {
		t.Error("Flag on: extreme volatility must block")
	}
}

func TestUnknownModeFallsBackToLowRisk(t *testing.T) {
	f := pinned(New(filterCfg()))
	sig := goodSignal()
	f.EvaluateMode(sig, Mode("YOLO"))
	if f.Stats(ModeLowRisk).Evaluated != 1 {
		t.Error("Unknown mode should be recorded under LOW_RISK")
	}
}

func TestRollingStats(t *testing.T) {
	f := pinned(New(filterCfg()))

	f.EvaluateMode(goodSignal(), ModeLowRisk)
	weak := goodSignal()
	weak.Confidence = 0.10
	f.EvaluateMode(weak, ModeLowRisk)

	stats := f.Stats(ModeLowRisk)
	if stats.Evaluated != 2 || stats.Allowed != 1 {
		t.Errorf("Expected 2 evaluated / 1 allowed, got %d/%d", stats.Evaluated, stats.Allowed)
	}
	if stats.AllowRate() != 0.5 {
		t.Errorf("Expected allow rate 0.5, got %v", stats.AllowRate())
	}
	if len(stats.Blocks) == 0 {
		t.Error("Expected a block breakdown for the weak signal")
	}
}
