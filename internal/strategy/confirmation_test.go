package strategy

import (
	"reflect"
	"testing"
	"time"

	"cryptosignal/internal/model"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func bar(offset int, close float64, rsi, macd, signal, psar model.Float) model.Bar {
	return model.Bar{
		TS:         t0.Add(time.Duration(offset) * time.Minute),
		Close:      close,
		RSI:        rsi,
		MACD:       macd,
		MACDSignal: signal,
		PSAR:       psar,
	}
}

var (
	some = model.Some
	none = model.None()
)

// buySeries is the canonical confirmed-buy pair: MACD crosses from -1 to +1
// over a zero signal line, RSI 35, close 100 above PSAR 95.
func buySeries() model.BarSeries {
	return model.BarSeries{
		bar(0, 99, some(38), some(-1), some(0), some(94)),
		bar(1, 100, some(35), some(1), some(0), some(95)),
	}
}

func sellSeries() model.BarSeries {
	return model.BarSeries{
		bar(0, 91, some(62), some(1), some(0), some(96)),
		bar(1, 90, some(65), some(-1), some(0), some(95)),
	}
}

func TestEvaluate_EmptySeries(t *testing.T) {
	if _, ok := Evaluate(nil); ok {
		t.Fatal("nil series should be Empty")
	}
	if _, ok := Evaluate(model.BarSeries{}); ok {
		t.Fatal("zero-length series should be Empty")
	}
}

func TestEvaluate_SingleBarNeverConfirms(t *testing.T) {
	cases := []model.Bar{
		bar(0, 100, some(35), some(1), some(0), some(95)),
		bar(0, 90, some(65), some(-1), some(0), some(95)),
		bar(0, 100, none, none, none, none),
	}
	for i, b := range cases {
		v, ok := Evaluate(model.BarSeries{b})
		if !ok {
			t.Fatalf("case %d: single bar should be evaluable", i)
		}
		if v.BuyConfirmed || v.SellConfirmed {
			t.Errorf("case %d: single bar confirmed buy=%v sell=%v", i, v.BuyConfirmed, v.SellConfirmed)
		}
	}
}

func TestEvaluate_ScenarioBuy(t *testing.T) {
	v, ok := Evaluate(buySeries())
	if !ok {
		t.Fatal("expected verdict")
	}
	if !v.BuyConfirmed {
		t.Error("expected buy confirmed")
	}
	if v.SellConfirmed {
		t.Error("expected sell not confirmed")
	}
	if v.Action() != model.ActionBuy {
		t.Errorf("expected BUY action, got %s", v.Action())
	}
}

func TestEvaluate_ScenarioSell(t *testing.T) {
	v, _ := Evaluate(sellSeries())
	if !v.SellConfirmed {
		t.Error("expected sell confirmed")
	}
	if v.BuyConfirmed {
		t.Error("expected buy not confirmed")
	}
	if v.Action() != model.ActionSell {
		t.Errorf("expected SELL action, got %s", v.Action())
	}
}

func TestEvaluate_RSIBlocksBuy(t *testing.T) {
	s := buySeries()
	s[1].RSI = some(55)
	if v, _ := Evaluate(s); v.BuyConfirmed {
		t.Error("RSI 55 should block buy")
	}
}

func TestEvaluate_PSARBlocksBuy(t *testing.T) {
	s := buySeries()
	s[1].Close = 90
	s[1].PSAR = some(95)
	if v, _ := Evaluate(s); v.BuyConfirmed {
		t.Error("close below PSAR should block buy")
	}
}

func TestEvaluate_AbsentValuesNeverConfirm(t *testing.T) {
	mutations := []struct {
		name string
		fn   func(s model.BarSeries)
	}{
		{"latest rsi", func(s model.BarSeries) { s[1].RSI = none }},
		{"latest macd", func(s model.BarSeries) { s[1].MACD = none }},
		{"latest signal", func(s model.BarSeries) { s[1].MACDSignal = none }},
		{"prev macd", func(s model.BarSeries) { s[0].MACD = none }},
		{"prev signal", func(s model.BarSeries) { s[0].MACDSignal = none }},
		{"latest psar", func(s model.BarSeries) { s[1].PSAR = none }},
	}
	for _, m := range mutations {
		for _, base := range []func() model.BarSeries{buySeries, sellSeries} {
			s := base()
			m.fn(s)
			v, ok := Evaluate(s)
			if !ok {
				t.Fatalf("%s: expected verdict", m.name)
			}
			if v.BuyConfirmed || v.SellConfirmed {
				t.Errorf("%s absent: buy=%v sell=%v", m.name, v.BuyConfirmed, v.SellConfirmed)
			}
		}
	}
}

func TestEvaluate_ThresholdsAreExclusive(t *testing.T) {
	s := buySeries()
	s[1].RSI = some(BuyRSIMax)
	if v, _ := Evaluate(s); v.BuyConfirmed {
		t.Error("RSI exactly 40 must not confirm buy")
	}

	s = sellSeries()
	s[1].RSI = some(SellRSIMin)
	if v, _ := Evaluate(s); v.SellConfirmed {
		t.Error("RSI exactly 60 must not confirm sell")
	}
}

func TestEvaluate_NoCrossWhenPrevTouchesSignal(t *testing.T) {
	s := buySeries()
	s[0].MACD = some(0) // equal to signal, not strictly below
	if v, _ := Evaluate(s); v.BuyConfirmed {
		t.Error("prev macd == signal is not a cross up")
	}

	s = sellSeries()
	s[1].MACD = some(0)
	if v, _ := Evaluate(s); v.SellConfirmed {
		t.Error("latest macd == signal is not a cross down")
	}
}

func TestEvaluate_ZeroIsPresent(t *testing.T) {
	// PSAR of zero is a real value: close 100 > 0 confirms the PSAR leg.
	s := buySeries()
	s[1].PSAR = some(0)
	if v, _ := Evaluate(s); !v.BuyConfirmed {
		t.Error("PSAR=0 is present and below close, buy should confirm")
	}
}

func TestEvaluate_OnlyLastTwoBarsMatter(t *testing.T) {
	history := model.BarSeries{
		bar(-3, 50, none, none, none, none),
		bar(-2, 70, some(80), some(5), some(1), some(10)),
		bar(-1, 80, some(20), some(-5), some(1), some(90)),
	}
	s := append(history, buySeries()...)
	for i := range s {
		s[i].TS = t0.Add(time.Duration(i) * time.Minute)
	}
	if v, _ := Evaluate(s); !v.BuyConfirmed {
		t.Error("earlier history should not affect a confirmed buy on the last pair")
	}
}

func TestEvaluate_EchoesLatestSnapshot(t *testing.T) {
	s := buySeries()
	s[1].MACDHist = some(1)
	v, _ := Evaluate(s)
	want := s[1]
	if !v.TS.Equal(want.TS) || v.Close != want.Close {
		t.Errorf("ts/close not echoed: got %v/%v", v.TS, v.Close)
	}
	if v.RSI != want.RSI || v.MACD != want.MACD || v.MACDSignal != want.MACDSignal ||
		v.MACDHist != want.MACDHist || v.PSAR != want.PSAR {
		t.Errorf("indicator snapshot not echoed: %+v", v)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	for _, s := range []model.BarSeries{buySeries(), sellSeries(), {bar(0, 1, none, none, none, none)}} {
		before := append(model.BarSeries(nil), s...)
		a, okA := Evaluate(s)
		b, okB := Evaluate(s)
		if okA != okB || !reflect.DeepEqual(a, b) {
			t.Errorf("Evaluate not idempotent: %+v vs %+v", a, b)
		}
		if !reflect.DeepEqual(before, s) {
			t.Error("Evaluate mutated its input")
		}
	}
}

func TestEvaluate_NeverBothConfirmed(t *testing.T) {
	values := []model.Float{none, some(-2), some(-1), some(0), some(1), some(2)}
	rsis := []model.Float{none, some(10), some(39.9), some(40), some(50), some(60), some(60.1), some(90)}
	psars := []model.Float{none, some(90), some(100), some(110)}

	for _, pm := range values {
		for _, ps := range values {
			for _, lm := range values {
				for _, ls := range values {
					for _, rsi := range rsis {
						for _, psar := range psars {
							s := model.BarSeries{
								bar(0, 100, none, pm, ps, none),
								bar(1, 100, rsi, lm, ls, psar),
							}
							v, _ := Evaluate(s)
							if v.BuyConfirmed && v.SellConfirmed {
								t.Fatalf("both confirmed for %+v", s)
							}
						}
					}
				}
			}
		}
	}
}
