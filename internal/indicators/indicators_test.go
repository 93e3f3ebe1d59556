package indicators

import (
	"math"
	"math/rand"
	"testing"
)

// trendingSeries produces a deterministic upward drift with noise.
func trendingSeries(n int, up bool) []float64 {
	rng := rand.New(rand.NewSource(42))
	prices := make([]float64, 0, n)
	p := 100.0
	for i := 0; i < n; i++ {
		drift := 0.05
		if !up {
			drift = -0.05
		}
		p += drift + (rng.Float64()-0.5)*0.02
		prices = append(prices, p)
	}
	return prices
}

func oscillatingSeries(n int) []float64 {
	prices := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		prices = append(prices, 100+math.Sin(float64(i)/3)*0.5)
	}
	return prices
}

func TestEMA_IncrementalMatchesRecompute(t *testing.T) {
	prices := trendingSeries(120, true)

	inc := NewEMA(9)
	for i, p := range prices {
		inc.Update(p)

		full, fok := EMAFromSeries(prices[:i+1], 9)
		got, gok := inc.Value()
		if fok != gok {
			t.Fatalf("tick %d: readiness mismatch inc=%v full=%v", i, gok, fok)
		}
		if gok && math.Abs(got-full) > 1e-6 {
			t.Fatalf("tick %d: incremental EMA %.10f != recomputed %.10f", i, got, full)
		}
	}
}

func TestMACD_IncrementalMatchesRecompute(t *testing.T) {
	prices := trendingSeries(150, false)

	inc := NewMACD(12, 26, 9)
	for _, p := range prices {
		inc.Update(p)
	}

	line, sig, hist, ok := MACDFromSeries(prices, 12, 26, 9)
	if !ok {
		t.Fatal("full recompute not ready after 150 ticks")
	}
	gl, _ := inc.Line()
	gs, _ := inc.Signal()
	gh, _ := inc.Histogram()
	if math.Abs(gl-line) > 1e-6 || math.Abs(gs-sig) > 1e-6 || math.Abs(gh-hist) > 1e-6 {
		t.Fatalf("MACD mismatch: inc (%v,%v,%v) vs full (%v,%v,%v)", gl, gs, gh, line, sig, hist)
	}
}

func TestRSI_IncrementalMatchesRecompute(t *testing.T) {
	prices := oscillatingSeries(80)

	inc := NewRSI(14)
	for _, p := range prices {
		inc.Update(p)
	}
	full, fok := RSIFromSeries(prices, 14)
	got, gok := inc.Value()
	if !fok || !gok {
		t.Fatal("RSI not ready after 80 ticks")
	}
	if math.Abs(got-full) > 1e-6 {
		t.Fatalf("RSI mismatch: %v vs %v", got, full)
	}
}

func TestRSI_NeutralBeforeReady(t *testing.T) {
	r := NewRSI(14)
	r.Update(100)
	r.Update(101)
	v, ok := r.Value()
	if ok {
		t.Error("RSI reported ready with 2 ticks")
	}
	if v != NeutralRSI {
		t.Errorf("Expected neutral 50, got %v", v)
	}
}

func TestRSI_Extremes(t *testing.T) {
	// Monotonic rise: no losses, RSI saturates at 100.
	r := NewRSI(14)
	for i := 0; i < 30; i++ {
		r.Update(100 + float64(i))
	}
	v, ok := r.Value()
	if !ok || v != 100 {
		t.Errorf("Expected RSI 100 on monotonic rise, got %v (ok=%v)", v, ok)
	}

	// Strong fall drives RSI low.
	r2 := NewRSI(14)
	for i := 0; i < 30; i++ {
		r2.Update(100 - float64(i)*0.5)
	}
	v2, _ := r2.Value()
	if v2 > 10 {
		t.Errorf("Expected RSI near 0 on monotonic fall, got %v", v2)
	}
}

func TestRSI_IgnoresInvalidInput(t *testing.T) {
	a := NewRSI(14)
	b := NewRSI(14)
	prices := oscillatingSeries(40)
	for _, p := range prices {
		a.Update(p)
		b.Update(p)
		b.Update(math.NaN())
		b.Update(math.Inf(1))
		b.Update(-5)
		b.Update(0)
	}
	av, _ := a.Value()
	bv, _ := b.Value()
	if av != bv {
		t.Errorf("Invalid inputs changed RSI: %v vs %v", av, bv)
	}
}

func TestADX_TrendingVsFlat(t *testing.T) {
	trending := NewADX(14)
	for _, p := range trendingSeries(120, true) {
		trending.Update(p)
	}
	adx, plus, minus, ok := trending.Value()
	if !ok {
		t.Fatal("ADX not ready after 120 ticks")
	}
	if adx < 20 {
		t.Errorf("Expected strong ADX on trend, got %v", adx)
	}
	if plus <= minus {
		t.Errorf("Expected +DI > -DI on uptrend, got +%v -%v", plus, minus)
	}

	osc := NewADX(14)
	for _, p := range oscillatingSeries(200) {
		osc.Update(p)
	}
	oadx, _, _, ok := osc.Value()
	if !ok {
		t.Fatal("ADX not ready on oscillating series")
	}
	if oadx >= adx {
		t.Errorf("Oscillating ADX %v should be below trending ADX %v", oadx, adx)
	}
}

func TestADX_IncrementalMatchesRecompute(t *testing.T) {
	prices := trendingSeries(100, true)
	inc := NewADX(14)
	for _, p := range prices {
		inc.Update(p)
	}
	fadx, fplus, fminus, fok := ADXFromSeries(prices, 14)
	gadx, gplus, gminus, gok := inc.Value()
	if fok != gok {
		t.Fatalf("readiness mismatch: %v vs %v", gok, fok)
	}
	if math.Abs(gadx-fadx) > 1e-6 || math.Abs(gplus-fplus) > 1e-6 || math.Abs(gminus-fminus) > 1e-6 {
		t.Fatal("ADX incremental drifted from recompute")
	}
}

func TestStochastic_Extremes(t *testing.T) {
	s := NewStochastic(14, 3)
	for i := 0; i < 20; i++ {
		s.Update(100 + float64(i))
	}
	k, _, ok := s.Value()
	if !ok {
		t.Fatal("Stochastic not ready")
	}
	// Newest price is the window max.
	if k != 100 {
		t.Errorf("Expected %%K 100 at window max, got %v", k)
	}
}

func TestStochastic_FlatWindowNeutral(t *testing.T) {
	s := NewStochastic(14, 3)
	for i := 0; i < 20; i++ {
		s.Update(100)
	}
	k, d, ok := s.Value()
	if !ok {
		t.Fatal("Stochastic not ready on flat series")
	}
	if k != 50 || d != 50 {
		t.Errorf("Expected neutral 50/50 on flat window, got %v/%v", k, d)
	}
}

func TestATR_FlatIsZero(t *testing.T) {
	a := NewATR(14)
	for i := 0; i < 20; i++ {
		a.Update(100)
	}
	v, ok := a.Value()
	if !ok {
		t.Fatal("ATR not ready")
	}
	if v != 0 {
		t.Errorf("Expected ATR 0 on flat series, got %v", v)
	}
}

func TestBollinger_PositionBounds(t *testing.T) {
	b := NewBollinger(20, 2)
	prices := oscillatingSeries(60)
	for _, p := range prices {
		b.Update(p)
	}
	pos, ok := b.Position(prices[len(prices)-1])
	if !ok {
		t.Fatal("Bollinger not ready")
	}
	if pos < -0.5 || pos > 1.5 {
		t.Errorf("Band position wildly out of range: %v", pos)
	}

	upper, middle, lower, ok := b.Bands()
	if !ok || !(lower < middle && middle < upper) {
		t.Errorf("Band ordering broken: %v %v %v", lower, middle, upper)
	}
}

func TestZScore_SpikeDetection(t *testing.T) {
	z := NewZScore(30)
	for i := 0; i < 30; i++ {
		z.Update(100 + math.Sin(float64(i))*0.1)
	}
	z.Update(105) // strong outlier
	v, ok := z.Value()
	if !ok {
		t.Fatal("ZScore not ready")
	}
	if v < 2 {
		t.Errorf("Expected large positive z-score on spike, got %v", v)
	}
}

func TestROC_DirectionAndImbalance(t *testing.T) {
	r := NewROC(20)
	for i := 0; i < 30; i++ {
		r.Update(100 + float64(i)*0.1)
	}
	v, ok := r.Value()
	if !ok || v <= 0 {
		t.Errorf("Expected positive ROC on rise, got %v (ok=%v)", v, ok)
	}
	imb, ok := r.Imbalance(20)
	if !ok || imb != 1.0 {
		t.Errorf("Expected imbalance 1.0 on monotonic rise, got %v", imb)
	}
	vel, ok := r.Velocity(5)
	if !ok || vel <= 0 {
		t.Errorf("Expected positive velocity, got %v", vel)
	}
}

func TestResetForcesReseed(t *testing.T) {
	e := NewEMA(9)
	for _, p := range trendingSeries(30, true) {
		e.Update(p)
	}
	if _, ok := e.Value(); !ok {
		t.Fatal("EMA should be ready")
	}
	e.Reset()
	if _, ok := e.Value(); ok {
		t.Error("EMA still ready after Reset")
	}
}
