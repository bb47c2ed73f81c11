package model

import (
	"encoding/json"
	"time"
)

// Action is the discrete outcome of a verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// Verdict is the confirmation result for the most recent bar of a series.
type Verdict struct {
	TS            time.Time `json:"ts"`
	Close         float64   `json:"close"`
	RSI           Float     `json:"rsi"`
	MACD          Float     `json:"macd"`
	MACDSignal    Float     `json:"macd_signal"`
	MACDHist      Float     `json:"macd_hist"`
	PSAR          Float     `json:"psar"`
	BuyConfirmed  bool      `json:"buy_confirmed"`
	SellConfirmed bool      `json:"sell_confirmed"`
}

// Action collapses the two confirmation flags.
func (v Verdict) Action() Action {
	switch {
	case v.BuyConfirmed:
		return ActionBuy
	case v.SellConfirmed:
		return ActionSell
	default:
		return ActionNone
	}
}

// Report is a verdict bound to the asset and feed that produced it.
// A nil Verdict means no price data was available.
type Report struct {
	Symbol      string    `json:"symbol"`
	Label       string    `json:"label"`
	Source      string    `json:"source"`
	Bars        int       `json:"bars"`
	Verdict     *Verdict  `json:"verdict"`
	Error       string    `json:"error,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Action returns the verdict action, or NONE when there is no verdict.
func (r *Report) Action() Action {
	if r.Verdict == nil {
		return ActionNone
	}
	return r.Verdict.Action()
}

// JSON returns the JSON-encoded report (ignoring errors for hot-path usage).
func (r *Report) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
