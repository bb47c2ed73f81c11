package indicator

import (
	"math"
	"testing"
	"time"

	"cryptosignal/internal/model"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func closesToSamples(closes ...float64) []model.Sample {
	out := make([]model.Sample, len(closes))
	for i, c := range closes {
		out[i] = model.Sample{Symbol: "ethusdt", TS: t0.Add(time.Duration(i) * time.Minute), Close: c}
	}
	return out
}

func rising(n int) []model.Sample {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closesToSamples(closes...)
}

func TestCompute_Empty(t *testing.T) {
	c := NewComputer(Config{})
	if s := c.Compute(nil); s != nil {
		t.Errorf("expected nil series, got %d bars", len(s))
	}
	if s := c.Compute(closesToSamples(0, -1)); s != nil {
		t.Errorf("non-positive closes should all be dropped, got %d bars", len(s))
	}
}

func TestNewComputer_Defaults(t *testing.T) {
	c := NewComputer(Config{})
	if c.Config() != DefaultConfig() {
		t.Errorf("zero config should take defaults, got %+v", c.Config())
	}
	if lb := c.MACDLookback(); lb != 33 {
		t.Errorf("MACDLookback = %d, want 33", lb)
	}
}

func TestCompute_WarmupWindows(t *testing.T) {
	c := NewComputer(DefaultConfig())
	series := c.Compute(rising(60))
	if len(series) != 60 {
		t.Fatalf("got %d bars, want 60", len(series))
	}
	for i, b := range series {
		if got, want := b.RSI.Present(), i >= 14; got != want {
			t.Errorf("bar %d: RSI present=%v want %v", i, got, want)
		}
		wantMACD := i >= 33
		if b.MACD.Present() != wantMACD || b.MACDSignal.Present() != wantMACD || b.MACDHist.Present() != wantMACD {
			t.Errorf("bar %d: MACD present=%v/%v/%v want %v", i,
				b.MACD.Present(), b.MACDSignal.Present(), b.MACDHist.Present(), wantMACD)
		}
		if got, want := b.PSAR.Present(), i >= 1; got != want {
			t.Errorf("bar %d: PSAR present=%v want %v", i, got, want)
		}
	}
}

func TestCompute_ShortSeriesDoesNotPanic(t *testing.T) {
	c := NewComputer(DefaultConfig())
	for n := 1; n <= 35; n++ {
		series := c.Compute(rising(n))
		if len(series) != n {
			t.Fatalf("n=%d: got %d bars", n, len(series))
		}
		last, _ := series.Last()
		if n <= 33 && last.MACD.Present() {
			t.Errorf("n=%d: MACD should be absent before warm-up", n)
		}
	}
}

func TestCompute_RSIAllGains(t *testing.T) {
	series := NewComputer(DefaultConfig()).Compute(rising(20))
	last, _ := series.Last()
	v, ok := last.RSI.Get()
	if !ok {
		t.Fatal("expected RSI")
	}
	if math.Abs(v-100) > 1e-9 {
		t.Errorf("RSI of a strictly rising series = %v, want 100", v)
	}
}

func TestCompute_FlatSeriesRSIAbsent(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 2500
	}
	series := NewComputer(DefaultConfig()).Compute(closesToSamples(closes...))
	for i, s := range series {
		if s.RSI.Present() {
			t.Fatalf("RSI at %d present on a flat series", i)
		}
	}
}

func TestCompute_RSIAllLossesStaysZero(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	series := NewComputer(DefaultConfig()).Compute(closesToSamples(closes...))
	last, _ := series.Last()
	v, ok := last.RSI.Get()
	if !ok {
		t.Fatal("expected RSI on a falling series")
	}
	if v != 0 {
		t.Errorf("RSI = %v, want 0", v)
	}
}

func TestCompute_MACDHistIsDifference(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/5)
	}
	series := NewComputer(DefaultConfig()).Compute(closesToSamples(closes...))
	for i := 33; i < len(series); i++ {
		m, _ := series[i].MACD.Get()
		s, _ := series[i].MACDSignal.Get()
		h, _ := series[i].MACDHist.Get()
		if math.Abs((m-s)-h) > 1e-9 {
			t.Fatalf("bar %d: hist %v != macd %v - signal %v", i, h, m, s)
		}
	}
}

func TestCompute_PSARProxyIsPreviousClose(t *testing.T) {
	series := NewComputer(DefaultConfig()).Compute(closesToSamples(10, 11, 9, 12))
	want := []model.Float{model.None(), model.Some(10), model.Some(11), model.Some(9)}
	for i, b := range series {
		if b.PSAR != want[i] {
			t.Errorf("bar %d: PSAR %v want %v", i, b.PSAR, want[i])
		}
	}
}

func TestCompute_PSARFromRanges(t *testing.T) {
	samples := rising(30)
	for i := range samples {
		samples[i].High = model.Some(samples[i].Close + 1)
		samples[i].Low = model.Some(samples[i].Close - 1)
	}
	series := NewComputer(DefaultConfig()).Compute(samples)
	if series[0].PSAR.Present() {
		t.Error("first bar should have no PSAR")
	}
	last, _ := series.Last()
	v, ok := last.PSAR.Get()
	if !ok {
		t.Fatal("expected PSAR on last bar")
	}
	// Uptrend: SAR trails below price.
	if v >= last.Close {
		t.Errorf("PSAR %v should be below close %v in an uptrend", v, last.Close)
	}
}

func TestCompute_PartialRangesFallBackToProxy(t *testing.T) {
	samples := closesToSamples(10, 11, 12)
	samples[0].High, samples[0].Low = model.Some(11), model.Some(9)
	series := NewComputer(DefaultConfig()).Compute(samples)
	if got := series[2].PSAR; got != model.Some(11) {
		t.Errorf("PSAR = %v, want previous close 11", got)
	}
}

func TestNormalize(t *testing.T) {
	in := []model.Sample{
		{TS: t0.Add(2 * time.Minute), Close: 3},
		{TS: t0, Close: 1},
		{TS: t0.Add(time.Minute), Close: 2},
		{TS: t0.Add(time.Minute), Close: 2.5}, // duplicate ts, last wins
		{TS: t0.Add(3 * time.Minute), Close: 0},
		{TS: t0.Add(4 * time.Minute), Close: math.NaN()},
	}
	out := Normalize(in)
	want := []float64{1, 2.5, 3}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i].Close != want[i] {
			t.Errorf("sample %d close = %v, want %v", i, out[i].Close, want[i])
		}
		if i > 0 && !out[i-1].TS.Before(out[i].TS) {
			t.Errorf("sample %d not strictly after previous", i)
		}
	}
	if in[0].Close != 3 {
		t.Error("Normalize mutated its input")
	}
}
