// Package strategy provides the signal confirmation engine.
//
// The engine turns a bar series carrying price and precomputed indicator
// values into a discrete BUY/SELL/NONE verdict for the most recent bar,
// using the bar before it as the crossover reference. It owns no state:
// every call re-derives the verdict from its argument alone, so it is safe
// to call from any number of goroutines.
package strategy

import "cryptosignal/internal/model"

const (
	// BuyRSIMax is the exclusive RSI ceiling for a buy confirmation.
	BuyRSIMax = 40.0
	// SellRSIMin is the exclusive RSI floor for a sell confirmation.
	SellRSIMin = 60.0
)

// Evaluate returns the verdict for the last bar of series.
// ok is false only when series is empty (no price data).
//
// A buy is confirmed when RSI < 40, MACD crossed above its signal line
// between the previous and the latest bar, and close is above PSAR.
// A sell mirrors it: RSI > 60, MACD crossed below, close below PSAR.
// Missing indicator values never error; they leave the confirmation false.
func Evaluate(series model.BarSeries) (model.Verdict, bool) {
	latest, ok := series.Last()
	if !ok {
		return model.Verdict{}, false
	}

	// With a single bar prev == latest, which makes every cross false.
	prev := latest
	if len(series) > 1 {
		prev = series[len(series)-2]
	}

	buy := latest.RSI.Less(model.Some(BuyRSIMax)) &&
		macdCrossUp(prev, latest) &&
		priceAbovePSAR(latest)

	sell := latest.RSI.Greater(model.Some(SellRSIMin)) &&
		macdCrossDown(prev, latest) &&
		priceBelowPSAR(latest)

	return model.Verdict{
		TS:            latest.TS,
		Close:         latest.Close,
		RSI:           latest.RSI,
		MACD:          latest.MACD,
		MACDSignal:    latest.MACDSignal,
		MACDHist:      latest.MACDHist,
		PSAR:          latest.PSAR,
		BuyConfirmed:  buy,
		SellConfirmed: sell,
	}, true
}

func macdCrossUp(prev, latest model.Bar) bool {
	return prev.MACD.Less(prev.MACDSignal) && latest.MACD.Greater(latest.MACDSignal)
}

func macdCrossDown(prev, latest model.Bar) bool {
	return prev.MACD.Greater(prev.MACDSignal) && latest.MACD.Less(latest.MACDSignal)
}

func priceAbovePSAR(b model.Bar) bool {
	return model.Some(b.Close).Greater(b.PSAR)
}

func priceBelowPSAR(b model.Bar) bool {
	return model.Some(b.Close).Less(b.PSAR)
}
