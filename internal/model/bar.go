package model

import "time"

// Bar is one sample of an asset's state with its precomputed indicators.
// Indicator fields are absent until the indicator has enough history.
type Bar struct {
	TS         time.Time `json:"ts"`
	Close      float64   `json:"close"`
	RSI        Float     `json:"rsi"`
	MACD       Float     `json:"macd"`
	MACDSignal Float     `json:"macd_signal"`
	MACDHist   Float     `json:"macd_hist"`
	PSAR       Float     `json:"psar"`
}

// BarSeries is ordered by TS ascending with no duplicate timestamps.
type BarSeries []Bar

// Last returns the most recent bar.
func (s BarSeries) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}
